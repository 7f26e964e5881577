package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPortalManagerOpenIsIdempotent(t *testing.T) {
	provider := &fakePortalProvider{url: "http://portal.local/view"}
	manager := NewPortalManager(provider, nil, testLog())

	first, err := manager.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	second, err := manager.Open(context.Background())
	if err != nil {
		t.Fatalf("Second Open() returned error: %v", err)
	}

	if first != second {
		t.Errorf("Reopening must return the same URL: %q vs %q", first, second)
	}
	if provider.openCount != 1 {
		t.Errorf("Provider must be opened once, got %d", provider.openCount)
	}
	if !manager.IsOpen() {
		t.Error("Manager should report open")
	}
}

func TestPortalManagerCloseIsIdempotent(t *testing.T) {
	provider := &fakePortalProvider{url: "http://portal.local/view"}
	manager := NewPortalManager(provider, nil, testLog())

	manager.Close()
	if provider.closeCount != 0 {
		t.Errorf("Closing a never-opened manager must not touch the provider, got %d closes", provider.closeCount)
	}

	if _, err := manager.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	manager.Close()
	manager.Close()
	if provider.closeCount != 1 {
		t.Errorf("Expected 1 provider close, got %d", provider.closeCount)
	}
	if manager.IsOpen() {
		t.Error("Manager should report closed")
	}
}

func TestPortalManagerReopenAfterClose(t *testing.T) {
	provider := &fakePortalProvider{url: "http://portal.local/view"}
	manager := NewPortalManager(provider, nil, testLog())

	if _, err := manager.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	manager.Close()
	if _, err := manager.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	if provider.openCount != 2 {
		t.Errorf("A close must allow a fresh open, got %d opens", provider.openCount)
	}
}

func TestPortalManagerOpenFailure(t *testing.T) {
	provider := &fakePortalProvider{openErr: errors.New("endpoint unreachable")}
	manager := NewPortalManager(provider, nil, testLog())

	if _, err := manager.Open(context.Background()); err == nil {
		t.Fatal("Open() should have failed")
	}
	if manager.IsOpen() {
		t.Error("A failed open must leave the manager closed")
	}
}

func TestPortalManagerAppliesTunnel(t *testing.T) {
	provider := &fakePortalProvider{url: "http://127.0.0.1:9222/devtools/inspector.html?ws=127.0.0.1:9222/page/1"}
	tunnel := NewBaseURLTunnel("https://bot.example.com/")
	manager := NewPortalManager(provider, tunnel, testLog())

	url, err := manager.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	if !strings.HasPrefix(url, "https://bot.example.com/devtools/inspector.html") {
		t.Errorf("Tunnel not applied: %q", url)
	}
}

func TestDevToolsPortalDiscovery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/list" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"type":"background_page","devtoolsFrontendUrl":"/devtools/inspector.html?ws=x/bg"},
			{"type":"page","url":"https://store.epicgames.com/en-US/p/galactic-salvage","devtoolsFrontendUrl":"/devtools/inspector.html?ws=x/page/1"}
		]`))
	}))
	defer server.Close()

	portal := NewDevToolsPortal("ws://" + strings.TrimPrefix(server.URL, "http://") + "/devtools/browser/abc")

	url, err := portal.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	expected := server.URL + "/devtools/inspector.html?ws=x/page/1"
	if url != expected {
		t.Errorf("Open() = %q, want %q", url, expected)
	}
}

func TestDevToolsPortalNoPageTarget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"type":"background_page","devtoolsFrontendUrl":"/x"}]`))
	}))
	defer server.Close()

	portal := NewDevToolsPortal("ws://" + strings.TrimPrefix(server.URL, "http://"))
	if _, err := portal.Open(context.Background()); err == nil {
		t.Fatal("Open() should fail without a page target")
	}
}

func TestDebugHTTPBase(t *testing.T) {
	tests := []struct {
		name       string
		controlURL string
		expected   string
		wantErr    bool
	}{
		{
			name:       "WebSocket control URL",
			controlURL: "ws://127.0.0.1:9222/devtools/browser/abc-def",
			expected:   "http://127.0.0.1:9222",
		},
		{
			name:       "No host",
			controlURL: "/devtools/browser/abc",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, err := debugHTTPBase(tt.controlURL)
			if (err != nil) != tt.wantErr {
				t.Fatalf("debugHTTPBase() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && base != tt.expected {
				t.Errorf("debugHTTPBase() = %q, want %q", base, tt.expected)
			}
		})
	}
}

func TestBaseURLTunnelRewritesSchemeAndHost(t *testing.T) {
	tunnel := NewBaseURLTunnel("https://bot.example.com")

	exposed, err := tunnel.Expose("http://127.0.0.1:9222/devtools/inspector.html?ws=127.0.0.1:9222/page/1")
	if err != nil {
		t.Fatalf("Expose() returned error: %v", err)
	}

	if !strings.HasPrefix(exposed, "https://bot.example.com/devtools/inspector.html") {
		t.Errorf("Scheme/host not rewritten: %q", exposed)
	}
	if !strings.Contains(exposed, "ws=127.0.0.1") {
		t.Errorf("Query must survive the rewrite: %q", exposed)
	}
}
