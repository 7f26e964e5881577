package main

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// dialogElement is one actionable hit from a lookup. Kept as a tiny interface
// so the guard logic runs in tests without a browser behind it.
type dialogElement interface {
	Actionable() (bool, error)
	Dismiss() error
}

// dialogFinder performs a single non-blocking lookup. It returns (nil, nil)
// when no matching element exists right now.
type dialogFinder func(selector string) (dialogElement, error)

// DialogGuard dismisses an optional, possibly-absent dialog within a bound.
// Absence by timeout is success (the dialog simply never showed); any failure
// while looking up or clicking is fatal and propagates.
type DialogGuard struct {
	find    dialogFinder
	backoff time.Duration
	log     *logrus.Entry
}

func NewDialogGuard(find dialogFinder, backoff time.Duration, log *logrus.Entry) *DialogGuard {
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	return &DialogGuard{find: find, backoff: backoff, log: log}
}

// TryDismiss polls for an actionable element matching selector until within
// elapses. Found: click once, return true. Never found: return false with no
// error. Anything else: propagate.
func (g *DialogGuard) TryDismiss(selector string, within time.Duration) (bool, error) {
	deadline := time.Now().Add(within)

	for {
		el, err := g.find(selector)
		if err != nil {
			return false, fmt.Errorf("dialog lookup failed for %q: %w", selector, err)
		}

		if el != nil {
			actionable, err := el.Actionable()
			if err != nil {
				return false, fmt.Errorf("dialog state check failed for %q: %w", selector, err)
			}
			if actionable {
				if err := el.Dismiss(); err != nil {
					return false, fmt.Errorf("dialog dismissal failed for %q: %w", selector, err)
				}
				g.log.WithField("selector", selector).Debug("Dialog dismissed")
				return true, nil
			}
		}

		if time.Now().After(deadline) {
			g.log.WithField("selector", selector).Debug("Dialog never appeared")
			return false, nil
		}
		time.Sleep(g.backoff)
	}
}

// rodDialogElement adapts a live element to the guard's interface.
type rodDialogElement struct {
	el *rod.Element
}

func (r *rodDialogElement) Actionable() (bool, error) {
	visible, err := r.el.Visible()
	if err != nil {
		return false, err
	}
	if !visible {
		return false, nil
	}

	disabled, err := r.el.Property("disabled")
	if err != nil {
		return false, err
	}
	return !disabled.Bool(), nil
}

func (r *rodDialogElement) Dismiss() error {
	return r.el.Click(proto.InputMouseButtonLeft, 1)
}

// rodDialogFinder builds a finder over a live page.
func rodDialogFinder(page *rod.Page) dialogFinder {
	return func(selector string) (dialogElement, error) {
		has, el, err := page.Has(selector)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, nil
		}
		return &rodDialogElement{el: el}, nil
	}
}
