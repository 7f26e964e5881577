package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// DiagnosticsSink persists failure evidence for offline inspection.
type DiagnosticsSink interface {
	WriteScreenshot(path string, png []byte) error
	WriteHTML(path string, content string) error
}

type fileDiagnosticsSink struct{}

func NewFileDiagnosticsSink() DiagnosticsSink {
	return fileDiagnosticsSink{}
}

func (fileDiagnosticsSink) WriteScreenshot(path string, png []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, png, 0644)
}

func (fileDiagnosticsSink) WriteHTML(path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

// RecoveryManager handles any unrecovered failure out of the flow: capture
// diagnostics, then give a human one more chance before giving up.
type RecoveryManager struct {
	config   *Config
	log      *logrus.Entry
	driver   PageDriver
	portal   *PortalManager
	notifier Notifier
	sink     DiagnosticsSink
	identity string

	// finish runs the COMPLETED capture-and-close sequence when a human
	// rescues the attempt.
	finish func() error

	// now is injected for deterministic diagnostic ids in tests.
	now func() time.Time
}

func NewRecoveryManager(config *Config, driver PageDriver, portal *PortalManager, notifier Notifier, sink DiagnosticsSink, identity string, finish func() error, log *logrus.Entry) *RecoveryManager {
	return &RecoveryManager{
		config:   config,
		log:      log,
		driver:   driver,
		portal:   portal,
		notifier: notifier,
		sink:     sink,
		identity: identity,
		finish:   finish,
		now:      time.Now,
	}
}

// Handle captures diagnostics for cause and attempts one manual-help
// escalation. The original error always comes back to the caller unless a
// human actually completes the purchase.
func (r *RecoveryManager) Handle(ctx context.Context, cause error) error {
	r.log.WithError(cause).Error("Purchase flow failed")

	r.captureDiagnostics()

	if !r.config.ManualHelpEnabled {
		r.log.Info("Manual help disabled, giving up")
		return cause
	}
	if r.driver == nil {
		r.log.Info("No live page to hand over, giving up")
		return cause
	}

	portalURL, err := r.portal.Open(ctx)
	if err != nil {
		r.log.WithError(err).Warn("Could not open portal for manual help")
		return cause
	}

	r.log.WithField("url", portalURL).Info("Requesting manual help")
	if err := r.notifier.Send(portalURL, r.identity, ReasonManualHelpOnError); err != nil {
		r.log.WithError(err).Warn("Manual-help notification failed")
	}

	navCtx, cancel := context.WithTimeout(ctx, time.Duration(r.config.ChallengeNotificationTimeoutHours)*time.Hour)
	defer cancel()

	if err := r.driver.AwaitReceipt(navCtx); err != nil {
		r.log.WithError(err).Warn("Manual help did not resolve the purchase")
		return cause
	}

	r.portal.Close()
	r.log.Info("Human completed the purchase manually")

	if err := r.finish(); err != nil {
		return err
	}
	return nil
}

// captureDiagnostics writes a screenshot and the rendered markup under a
// sortable timestamp id. Failures here must never mask the original error,
// so they are only logged.
func (r *RecoveryManager) captureDiagnostics() {
	if r.driver == nil {
		return
	}

	id := r.diagnosticID()
	dir := filepath.Join(r.config.DataDir, "diagnostics")
	screenshotPath := filepath.Join(dir, id+".png")
	htmlPath := filepath.Join(dir, id+".html")

	if png, err := r.driver.Screenshot(); err != nil {
		r.log.WithError(err).Warn("Screenshot capture failed")
	} else if err := r.sink.WriteScreenshot(screenshotPath, png); err != nil {
		r.log.WithError(err).Warn("Screenshot write failed")
	} else {
		r.log.WithField("path", screenshotPath).Info("Screenshot saved")
	}

	if html, err := r.driver.HTML(); err != nil {
		r.log.WithError(err).Warn("Markup capture failed")
	} else if err := r.sink.WriteHTML(htmlPath, html); err != nil {
		r.log.WithError(err).Warn("Markup write failed")
	} else {
		r.log.WithField("path", htmlPath).Info("Markup saved")
	}
}

func (r *RecoveryManager) diagnosticID() string {
	return fmt.Sprintf("%s-%s", r.now().UTC().Format("20060102-150405"), sanitizeIdentity(r.identity))
}
