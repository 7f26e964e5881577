package main

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeDriver scripts the page for flow and recovery tests. Outcomes and
// receipt results are consumed one per call, so multi-pass scenarios can
// differ between passes.
type fakeDriver struct {
	mu sync.Mutex

	navigations []string
	clicks      []string
	dismissals  []string

	navErr     error
	clickErr   error
	dismissErr error

	outcomes   []Outcome
	outcomeErr error

	// receiptBlocks[i] true means the i-th AwaitReceipt call blocks until
	// its context is done; false means it resolves immediately.
	receiptBlocks []bool

	screenshotPNG []byte
	htmlContent   string
	screenshotErr error
	htmlErr       error

	outcomeCalls int
	receiptCalls int
}

func (d *fakeDriver) NavigateIdle(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigations = append(d.navigations, url)
	return d.navErr
}

func (d *fakeDriver) TryDismiss(selector string, within time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dismissals = append(d.dismissals, selector)
	if d.dismissErr != nil {
		return false, d.dismissErr
	}
	return false, nil
}

func (d *fakeDriver) ClickWhenEnabled(ctx context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, selector)
	return d.clickErr
}

func (d *fakeDriver) AwaitOutcome(ctx context.Context) (Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outcomeErr != nil {
		return Outcome{}, d.outcomeErr
	}
	if d.outcomeCalls >= len(d.outcomes) {
		return Outcome{}, context.DeadlineExceeded
	}
	outcome := d.outcomes[d.outcomeCalls]
	d.outcomeCalls++
	return outcome, nil
}

func (d *fakeDriver) AwaitReceipt(ctx context.Context) error {
	d.mu.Lock()
	call := d.receiptCalls
	d.receiptCalls++
	blocks := call < len(d.receiptBlocks) && d.receiptBlocks[call]
	d.mu.Unlock()

	if blocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (d *fakeDriver) Screenshot() ([]byte, error) {
	return d.screenshotPNG, d.screenshotErr
}

func (d *fakeDriver) HTML() (string, error) {
	return d.htmlContent, d.htmlErr
}

// fakePortalProvider counts provider calls behind the manager.
type fakePortalProvider struct {
	mu         sync.Mutex
	url        string
	openErr    error
	openCount  int
	closeCount int
}

func (p *fakePortalProvider) Open(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openCount++
	if p.openErr != nil {
		return "", p.openErr
	}
	return p.url, nil
}

func (p *fakePortalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCount++
	return nil
}

type sentNotification struct {
	url     string
	account string
	reason  NotifyReason
}

// recordingNotifier captures every delivery.
type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentNotification
	sendErr error
}

func (n *recordingNotifier) Send(portalURL, account string, reason NotifyReason) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{url: portalURL, account: account, reason: reason})
	return n.sendErr
}

// fakeSink records diagnostic writes.
type fakeSink struct {
	mu          sync.Mutex
	screenshots map[string][]byte
	htmls       map[string]string
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		screenshots: map[string][]byte{},
		htmls:       map[string]string{},
	}
}

func (s *fakeSink) WriteScreenshot(path string, png []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenshots[path] = png
	return nil
}

func (s *fakeSink) WriteHTML(path string, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.htmls[path] = content
	return nil
}
