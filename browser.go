package main

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/sirupsen/logrus"
)

// Session owns one live browser for the duration of one attempt. It is never
// shared across attempts; Close is safe to call from any exit path and tears
// the browser down exactly once.
type Session struct {
	config   *Config
	log      *logrus.Entry
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher

	controlURL string
	closeOnce  sync.Once
}

func NewSession(config *Config, log *logrus.Entry) *Session {
	return &Session{config: config, log: log}
}

// Start launches the browser and opens a stealth page sized per config.
func (s *Session) Start() error {
	s.log.Info("Launching browser")

	// Leakless deadlocks on Windows, see go-rod/rod#853.
	useLeakless := runtime.GOOS != "windows"

	s.launcher = launcher.New().
		Leakless(useLeakless).
		Headless(s.config.Headless)

	if s.config.BrowserProfilePath != "" {
		s.launcher = s.launcher.UserDataDir(s.config.BrowserProfilePath)
	}

	if chromePath, ok := launcher.LookPath(); ok {
		s.launcher = s.launcher.Bin(chromePath)
		s.log.WithField("path", chromePath).Debug("Using system Chrome")
	}

	controlURL, err := s.launcher.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	s.controlURL = controlURL

	s.browser = rod.New().ControlURL(controlURL)
	if err := s.browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	s.page, err = stealth.Page(s.browser)
	if err != nil {
		return fmt.Errorf("failed to create stealth page: %w", err)
	}

	if s.config.ViewportWidth > 0 && s.config.ViewportHeight > 0 {
		err = s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             s.config.ViewportWidth,
			Height:            s.config.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			return fmt.Errorf("failed to set viewport: %w", err)
		}
	}

	s.log.Info("Browser ready")
	return nil
}

// Page returns the session's single automation page.
func (s *Session) Page() *rod.Page {
	return s.page
}

// ControlURL returns the DevTools control endpoint of the running browser.
func (s *Session) ControlURL() string {
	return s.controlURL
}

// SetCookies injects the seeded cookie set before the first navigation.
func (s *Session) SetCookies(params []*proto.NetworkCookieParam) error {
	if len(params) == 0 {
		return nil
	}
	return s.page.SetCookies(params)
}

// Cookies snapshots the full current cookie set of the session.
func (s *Session) Cookies() ([]*proto.NetworkCookie, error) {
	return s.page.Cookies(nil)
}

// Alive reports whether the browser still answers.
func (s *Session) Alive() bool {
	if s.browser == nil {
		return false
	}
	if _, err := s.browser.Version(); err != nil {
		s.log.WithError(err).Debug("Browser version check failed")
		return false
	}
	return true
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.log.Info("Closing browser session")

		if s.page != nil {
			s.page.Close()
		}
		if s.browser != nil {
			s.browser.Close()
		}
		if s.launcher != nil {
			s.launcher.Cleanup()
		}
	})
}

// PageDriver is everything the purchase flow needs from a live page. The
// controller and the recovery manager talk to the session only through it.
type PageDriver interface {
	// NavigateIdle loads url and blocks until network activity settles.
	NavigateIdle(ctx context.Context, url string) error
	// TryDismiss attempts to dismiss an optional dialog within the bound.
	TryDismiss(selector string, within time.Duration) (bool, error)
	// ClickWhenEnabled waits for the element to become actionable, then
	// clicks it once. Unbounded except for ctx.
	ClickWhenEnabled(ctx context.Context, selector string) error
	// AwaitOutcome races receipt navigation, inline error and challenge.
	AwaitOutcome(ctx context.Context) (Outcome, error)
	// AwaitReceipt blocks until the session reaches the receipt state.
	AwaitReceipt(ctx context.Context) error
	// Screenshot captures the current viewport as PNG.
	Screenshot() ([]byte, error)
	// HTML returns the full rendered markup of the current page.
	HTML() (string, error)
}

// rodDriver implements PageDriver over the attempt's rod page.
type rodDriver struct {
	page      *rod.Page
	selectors SelectorConfig
	guard     *DialogGuard
	loadWait  time.Duration
}

func newRodDriver(session *Session, config *Config, log *logrus.Entry) *rodDriver {
	page := session.Page()
	backoff := time.Duration(config.DialogPollIntervalMs) * time.Millisecond
	return &rodDriver{
		page:      page,
		selectors: config.Selectors,
		guard:     NewDialogGuard(rodDialogFinder(page), backoff, log),
		loadWait:  time.Duration(config.PageLoadTimeoutSeconds) * time.Second,
	}
}

func (d *rodDriver) NavigateIdle(ctx context.Context, url string) error {
	page := d.page.Context(ctx)

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.Timeout(d.loadWait).WaitLoad(); err != nil {
		return fmt.Errorf("page failed to load: %w", err)
	}

	wait := page.Timeout(d.loadWait).WaitRequestIdle(time.Second, nil, nil, nil)
	wait()
	return nil
}

func (d *rodDriver) TryDismiss(selector string, within time.Duration) (bool, error) {
	return d.guard.TryDismiss(selector, within)
}

func (d *rodDriver) ClickWhenEnabled(ctx context.Context, selector string) error {
	page := d.page.Context(ctx)

	el, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("failed to find %q: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("%q never became visible: %w", selector, err)
	}
	if err := el.WaitEnabled(); err != nil {
		return fmt.Errorf("%q never became enabled: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}

func (d *rodDriver) AwaitOutcome(ctx context.Context) (Outcome, error) {
	return awaitOutcome(ctx, rodOutcomeWaiters(d.page, d.selectors))
}

func (d *rodDriver) AwaitReceipt(ctx context.Context) error {
	return waitForReceipt(ctx, d.page, d.selectors.ReceiptURLFragment)
}

func (d *rodDriver) Screenshot() ([]byte, error) {
	return d.page.Screenshot(false, nil)
}

func (d *rodDriver) HTML() (string, error) {
	return d.page.HTML()
}
