package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
)

// OutcomeKind classifies how a payment submission resolved.
type OutcomeKind int

const (
	// OutcomeNav means the session navigated to the receipt state.
	OutcomeNav OutcomeKind = iota
	// OutcomeErrorText means the storefront rendered an explicit inline error.
	OutcomeErrorText
	// OutcomeChallenge means an interactive CAPTCHA frame appeared.
	OutcomeChallenge
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNav:
		return "nav"
	case OutcomeErrorText:
		return "error-text"
	case OutcomeChallenge:
		return "challenge"
	}
	return "unknown"
}

// Outcome is the single classification produced per race invocation.
// Message carries the storefront's text for OutcomeErrorText.
type Outcome struct {
	Kind    OutcomeKind
	Message string
}

// errChallengeDetached marks the challenge frame vanishing mid-wait, which
// means navigation proceeded without a challenge. The race defers to the
// other two conditions instead of failing.
var errChallengeDetached = errors.New("challenge frame detached")

// outcomeWaiters are the three independent await conditions. Each blocks
// until its condition holds or ctx is done.
type outcomeWaiters struct {
	nav       func(ctx context.Context) error
	errorText func(ctx context.Context) (string, error)
	challenge func(ctx context.Context) error
}

type laneResult struct {
	outcome Outcome
	err     error
}

// awaitOutcome races the three conditions and returns whichever resolves
// first. The losers are cancelled, never awaited further. Only a genuine
// timeout on a still-undecided race propagates as an error.
func awaitOutcome(ctx context.Context, w outcomeWaiters) (Outcome, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan laneResult, 3)

	go func() {
		if err := w.nav(raceCtx); err != nil {
			results <- laneResult{err: err}
			return
		}
		results <- laneResult{outcome: Outcome{Kind: OutcomeNav}}
	}()

	go func() {
		text, err := w.errorText(raceCtx)
		if err != nil {
			results <- laneResult{err: err}
			return
		}
		results <- laneResult{outcome: Outcome{Kind: OutcomeErrorText, Message: text}}
	}()

	go func() {
		if err := w.challenge(raceCtx); err != nil {
			results <- laneResult{err: err}
			return
		}
		results <- laneResult{outcome: Outcome{Kind: OutcomeChallenge}}
	}()

	live := 3
	for live > 0 {
		select {
		case <-ctx.Done():
			return Outcome{}, fmt.Errorf("outcome race abandoned: %w", ctx.Err())
		case result := <-results:
			live--
			if result.err == nil {
				return result.outcome, nil
			}
			if errors.Is(result.err, errChallengeDetached) {
				// No challenge occurred; let the other lanes decide.
				continue
			}
			if errors.Is(result.err, context.Canceled) {
				continue
			}
			return Outcome{}, result.err
		}
	}

	return Outcome{}, fmt.Errorf("outcome race ended with no classification")
}

// rodOutcomeWaiters builds the three live-session conditions.
func rodOutcomeWaiters(page *rod.Page, selectors SelectorConfig) outcomeWaiters {
	return outcomeWaiters{
		nav: func(ctx context.Context) error {
			return waitForReceipt(ctx, page, selectors.ReceiptURLFragment)
		},
		errorText: func(ctx context.Context) (string, error) {
			el, err := page.Context(ctx).Element(selectors.ErrorText)
			if err != nil {
				return "", err
			}
			text, err := el.Text()
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(text), nil
		},
		challenge: func(ctx context.Context) error {
			_, err := page.Context(ctx).Element(selectors.ChallengeFrame)
			if err != nil {
				if isDetachedError(err) {
					return errChallengeDetached
				}
				return err
			}
			return nil
		},
	}
}

// waitForReceipt blocks until the page URL reaches the receipt state. The
// check runs on a short fixed interval; navigation is the one condition CDP
// gives us no single event for once redirect chains are involved.
func waitForReceipt(ctx context.Context, page *rod.Page, fragment string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		info, err := page.Context(ctx).Info()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("receipt wait: %w", ctx.Err())
			}
			return err
		}
		if strings.Contains(info.URL, fragment) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("receipt wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// isDetachedError reports whether err describes an element vanishing under
// us, as opposed to never having existed or a wait timing out.
func isDetachedError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Cannot find context") ||
		strings.Contains(errStr, "context was destroyed") ||
		strings.Contains(errStr, "Node with given id does not belong") ||
		strings.Contains(errStr, "object not found") ||
		strings.Contains(errStr, "detached")
}
