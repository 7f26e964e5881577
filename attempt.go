package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// PurchaseTarget identifies what is being purchased: either a product slug
// (full flow through the product page) or a namespace/offer pair (direct
// purchase flow). Immutable once an attempt starts.
type PurchaseTarget struct {
	Slug      string
	Namespace string
	Offer     string
}

func (t PurchaseTarget) Validate() error {
	if t.Slug != "" {
		return nil
	}
	if t.Namespace != "" && t.Offer != "" {
		return nil
	}
	return fmt.Errorf("no purchase target: set product_slug or offer_namespace plus offer_id")
}

// URL builds the purchase entry point for the target.
func (t PurchaseTarget) URL(config *Config) string {
	if t.Slug != "" {
		return fmt.Sprintf("%s/%s/p/%s", config.StoreBaseURL, config.StoreLocale, t.Slug)
	}
	return fmt.Sprintf("%s/purchase?offers=1-%s-%s", config.StoreBaseURL, t.Namespace, t.Offer)
}

func (t PurchaseTarget) String() string {
	if t.Slug != "" {
		return t.Slug
	}
	return t.Namespace + "/" + t.Offer
}

// Attempt is one end-to-end run of the purchase flow for one identity and
// one target. It exclusively owns its browser session, which is torn down
// exactly once regardless of the exit path.
type Attempt struct {
	config    *Config
	log       *logrus.Entry
	identity  string
	target    PurchaseTarget
	startedAt time.Time

	session *Session
	bridge  *CookieBridge
	portal  *PortalManager
	notify  Notifier
	driver  PageDriver
}

func NewAttempt(config *Config, identity string, target PurchaseTarget, notify Notifier, log *logrus.Logger) *Attempt {
	entry := log.WithFields(logrus.Fields{
		"account": identity,
		"target":  target.String(),
	})

	store := NewCookieStore(filepath.Join(config.DataDir, "cookies"))

	return &Attempt{
		config:    config,
		log:       entry,
		identity:  identity,
		target:    target,
		startedAt: time.Now(),
		session:   NewSession(config, entry),
		bridge:    NewCookieBridge(store, config.AuxCookieURL, entry),
		notify:    notify,
	}
}

// Run seeds the session, drives the purchase flow and hands failures to the
// recovery manager. The session closes on every exit path.
func (a *Attempt) Run(ctx context.Context) error {
	defer a.teardown()

	if err := a.session.Start(); err != nil {
		return err
	}

	seeded, err := a.bridge.Seed(a.identity)
	if err != nil {
		return err
	}
	if err := a.session.SetCookies(seeded.Params()); err != nil {
		return fmt.Errorf("failed to inject session cookies: %w", err)
	}
	a.log.WithField("count", len(seeded)).Debug("Session seeded")

	a.driver = newRodDriver(a.session, a.config, a.log)

	var tunnel Tunnel
	if a.config.TunnelBaseURL != "" {
		tunnel = NewBaseURLTunnel(a.config.TunnelBaseURL)
	}
	a.portal = NewPortalManager(NewDevToolsPortal(a.session.ControlURL()), tunnel, a.log)

	flow := NewFlowController(a.config, a.driver, a.portal, a.notify, a.identity, a.target, a.log)
	if err := flow.Run(ctx); err != nil {
		recovery := NewRecoveryManager(a.config, a.driver, a.portal, a.notify,
			NewFileDiagnosticsSink(), a.identity, a.finish, a.log)
		return recovery.Handle(ctx, err)
	}

	return a.finish()
}

// finish is the COMPLETED sequence: capture the live cookies back into the
// jar, then tear down. Also run when manual help rescues a failed attempt.
func (a *Attempt) finish() error {
	live, err := a.session.Cookies()
	if err != nil {
		return fmt.Errorf("failed to read live cookies: %w", err)
	}
	if err := a.bridge.Capture(a.identity, live); err != nil {
		return err
	}

	a.log.WithField("elapsed", time.Since(a.startedAt).Round(time.Second)).Info("Purchase completed")
	return nil
}

func (a *Attempt) teardown() {
	if a.portal != nil {
		a.portal.Close()
	}
	a.session.Close()
}
