package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PortalProvider opens a remotely reachable live view of the session.
type PortalProvider interface {
	Open(ctx context.Context) (string, error)
	Close() error
}

// Tunnel optionally rewrites a portal URL so it is reachable off-host.
type Tunnel interface {
	Expose(rawURL string) (string, error)
}

// PortalManager guards at most one open portal per attempt. Open is
// idempotent: opening while already open returns the existing URL without
// touching the provider again.
type PortalManager struct {
	provider PortalProvider
	tunnel   Tunnel
	log      *logrus.Entry

	mu   sync.Mutex
	open bool
	url  string
}

func NewPortalManager(provider PortalProvider, tunnel Tunnel, log *logrus.Entry) *PortalManager {
	return &PortalManager{provider: provider, tunnel: tunnel, log: log}
}

func (m *PortalManager) Open(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return m.url, nil
	}

	rawURL, err := m.provider.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open portal: %w", err)
	}

	if m.tunnel != nil {
		exposed, err := m.tunnel.Expose(rawURL)
		if err != nil {
			m.provider.Close()
			return "", fmt.Errorf("failed to expose portal: %w", err)
		}
		rawURL = exposed
	}

	m.open = true
	m.url = rawURL
	m.log.WithField("url", rawURL).Info("Remote portal opened")
	return rawURL, nil
}

func (m *PortalManager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Close shuts the portal if one is open. Closing a closed manager is a no-op
// so every exit path may call it without coordination.
func (m *PortalManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return
	}
	if err := m.provider.Close(); err != nil {
		m.log.WithError(err).Warn("Portal close failed")
	} else {
		m.log.Info("Remote portal closed")
	}
	m.open = false
	m.url = ""
}

// DevToolsPortal serves the running browser's own DevTools frontend as the
// live view. The URL is discovered from the debugging endpoint's page list.
type DevToolsPortal struct {
	controlURL string
	client     *http.Client
}

func NewDevToolsPortal(controlURL string) *DevToolsPortal {
	return &DevToolsPortal{
		controlURL: controlURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type devToolsTarget struct {
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	DevtoolsFrontendURL  string `json:"devtoolsFrontendUrl"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

func (p *DevToolsPortal) Open(ctx context.Context) (string, error) {
	base, err := debugHTTPBase(p.controlURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/json/list", nil)
	if err != nil {
		return "", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query debugging endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("debugging endpoint returned HTTP %d", resp.StatusCode)
	}

	var targets []devToolsTarget
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("failed to decode debugging targets: %w", err)
	}

	for _, target := range targets {
		if target.Type != "page" || target.DevtoolsFrontendURL == "" {
			continue
		}
		frontend := target.DevtoolsFrontendURL
		if strings.HasPrefix(frontend, "/") {
			frontend = base + frontend
		}
		return frontend, nil
	}

	return "", fmt.Errorf("no page target exposed by the browser")
}

// Close is a no-op: the DevTools endpoint lives and dies with the browser.
func (p *DevToolsPortal) Close() error {
	return nil
}

// debugHTTPBase turns a ws:// control URL into the http:// endpoint serving
// /json/list on the same host and port.
func debugHTTPBase(controlURL string) (string, error) {
	u, err := url.Parse(controlURL)
	if err != nil {
		return "", fmt.Errorf("invalid control URL %q: %w", controlURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("control URL %q has no host", controlURL)
	}
	return "http://" + u.Host, nil
}

// baseURLTunnel rewrites the scheme and host of a portal URL onto a
// configured public base, for operators fronting the debugging port with
// their own tunnel or reverse proxy.
type baseURLTunnel struct {
	base string
}

func NewBaseURLTunnel(base string) Tunnel {
	return &baseURLTunnel{base: strings.TrimRight(base, "/")}
}

func (t *baseURLTunnel) Expose(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid portal URL %q: %w", rawURL, err)
	}

	b, err := url.Parse(t.base)
	if err != nil {
		return "", fmt.Errorf("invalid tunnel base %q: %w", t.base, err)
	}

	u.Scheme = b.Scheme
	u.Host = b.Host
	return u.String(), nil
}
