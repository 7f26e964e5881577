package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// FlowState is the controller's position in the purchase state machine.
type FlowState int

const (
	StateInit FlowState = iota
	StateLoading
	StateConsentDialog
	StatePaymentButtonWait
	StateRefundDialog
	StateOutcomeRace
	StateCaptchaEscalated
	StateCompleted
	StateFailed
)

func (s FlowState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateLoading:
		return "LOADING"
	case StateConsentDialog:
		return "CONSENT_DIALOG"
	case StatePaymentButtonWait:
		return "PAYMENT_BUTTON_WAIT"
	case StateRefundDialog:
		return "REFUND_DIALOG"
	case StateOutcomeRace:
		return "OUTCOME_RACE"
	case StateCaptchaEscalated:
		return "CAPTCHA_ESCALATED"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// ExplicitPurchaseError carries the storefront's own inline error text.
type ExplicitPurchaseError struct {
	Payload string
}

func (e *ExplicitPurchaseError) Error() string {
	return fmt.Sprintf("storefront rejected the purchase: %s", e.Payload)
}

var (
	// errChallengeIdle is the soft timeout of an escalated challenge: no
	// human showed up, reload the page and run the flow again.
	errChallengeIdle = errors.New("no human intervention before the idle timeout")

	// errRestartsExhausted ends the reload loop of a challenge that never
	// resolves.
	errRestartsExhausted = errors.New("purchase flow restart limit reached")
)

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "deadline exceeded")
}

// FlowController drives one attempt through the purchase state machine.
type FlowController struct {
	config   *Config
	log      *logrus.Entry
	driver   PageDriver
	portal   *PortalManager
	notifier Notifier
	identity string
	target   PurchaseTarget

	state    FlowState
	restarts int
}

func NewFlowController(config *Config, driver PageDriver, portal *PortalManager, notifier Notifier, identity string, target PurchaseTarget, log *logrus.Entry) *FlowController {
	return &FlowController{
		config:   config,
		log:      log,
		driver:   driver,
		portal:   portal,
		notifier: notifier,
		identity: identity,
		target:   target,
		state:    StateInit,
	}
}

// State exposes the current flow state.
func (c *FlowController) State() FlowState {
	return c.state
}

// Restarts exposes how many times the flow re-entered LOADING after an idle
// timeout under an unresolved challenge.
func (c *FlowController) Restarts() int {
	return c.restarts
}

func (c *FlowController) setState(state FlowState) {
	c.log.WithFields(logrus.Fields{
		"from": c.state.String(),
		"to":   state.String(),
	}).Debug("Flow transition")
	c.state = state
}

// Run executes the flow until it completes, fails, or exhausts its restart
// budget. The reload-on-idle behavior is an explicit bounded loop: every
// pass re-runs the full page load, so a stuck challenge self-heals through
// a fresh page rather than spinning on a stale one.
func (c *FlowController) Run(ctx context.Context) error {
	for {
		err := c.runOnce(ctx)
		if err == nil {
			c.setState(StateCompleted)
			return nil
		}

		if errors.Is(err, errChallengeIdle) {
			c.restarts++
			if c.restarts > c.config.MaxFlowRestarts {
				c.setState(StateFailed)
				return errRestartsExhausted
			}
			c.log.WithField("restart", c.restarts).Info("Challenge still unresolved, reloading the purchase page")
			continue
		}

		c.setState(StateFailed)
		return err
	}
}

// runOnce is a single pass from LOADING to an outcome. Element handles never
// survive a pass; a restart starts from a fresh page load.
func (c *FlowController) runOnce(ctx context.Context) error {
	selectors := c.config.Selectors

	c.setState(StateLoading)
	if err := c.driver.NavigateIdle(ctx, c.target.URL(c.config)); err != nil {
		return err
	}

	c.setState(StateConsentDialog)
	if err := c.guardDialog(selectors.ConsentDialog, c.config.ConsentDialogTimeoutSeconds); err != nil {
		return err
	}

	c.setState(StatePaymentButtonWait)
	if c.config.DryRun {
		c.log.Info("Dry run: stopping before the payment confirmation")
		return nil
	}
	if err := c.driver.ClickWhenEnabled(ctx, selectors.PaymentButton); err != nil {
		return err
	}

	c.setState(StateRefundDialog)
	if err := c.guardDialog(selectors.RefundDialog, c.config.RefundDialogTimeoutSeconds); err != nil {
		return err
	}

	c.setState(StateOutcomeRace)
	raceCtx, cancel := context.WithTimeout(ctx, time.Duration(c.config.OutcomeTimeoutSeconds)*time.Second)
	outcome, err := c.driver.AwaitOutcome(raceCtx)
	cancel()
	if err != nil {
		return err
	}

	switch outcome.Kind {
	case OutcomeNav:
		c.log.Info("Receipt reached on first pass")
		return nil
	case OutcomeErrorText:
		return &ExplicitPurchaseError{Payload: outcome.Message}
	case OutcomeChallenge:
		return c.escalateChallenge(ctx)
	}
	return fmt.Errorf("unhandled outcome %q", outcome.Kind)
}

// guardDialog runs a DialogGuard step under the flow's edge-case policy:
// timeouts at an optional dialog are swallowed, everything else is fatal.
func (c *FlowController) guardDialog(selector string, timeoutSeconds int) error {
	within := time.Duration(timeoutSeconds) * time.Second
	dismissed, err := c.driver.TryDismiss(selector, within)
	if err != nil {
		if isTimeoutError(err) {
			c.log.WithField("selector", selector).Debug("Optional dialog timed out, continuing")
			return nil
		}
		return err
	}
	if dismissed {
		c.log.WithField("selector", selector).Info("Dismissed dialog")
	}
	return nil
}

// escalateChallenge hands the session to a human. The portal is opened and
// the user notified at most once per open portal, no matter how often this
// state is re-entered while the challenge stays unsolved.
func (c *FlowController) escalateChallenge(ctx context.Context) error {
	c.setState(StateCaptchaEscalated)

	if !c.portal.IsOpen() {
		portalURL, err := c.portal.Open(ctx)
		if err != nil {
			return err
		}

		c.log.WithField("url", portalURL).Info("Challenge detected, notifying user")
		if err := c.notifier.Send(portalURL, c.identity, ReasonChallenge); err != nil {
			c.log.WithError(err).Warn("Challenge notification failed")
		}
	}

	notificationTimeout := time.Duration(c.config.ChallengeNotificationTimeoutHours) * time.Hour
	idleTimeout := time.Duration(c.config.ChallengeIdleTimeoutMinutes) * time.Minute

	navCtx, cancel := context.WithTimeout(ctx, notificationTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.driver.AwaitReceipt(navCtx)
	}()

	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("challenge was not resolved within the notification window: %w", err)
		}
		c.log.Info("Human resolved the challenge")
		c.portal.Close()
		return nil
	case <-idle.C:
		// Soft timeout: leave the portal open, reload from LOADING.
		cancel()
		return errChallengeIdle
	}
}
