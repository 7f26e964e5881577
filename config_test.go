package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.StoreBaseURL != "https://store.epicgames.com" {
		t.Errorf("Unexpected store base URL: %s", config.StoreBaseURL)
	}
	if config.PageLoadTimeoutSeconds != 30 {
		t.Errorf("Expected 30s page load timeout, got %d", config.PageLoadTimeoutSeconds)
	}
	if config.OutcomeTimeoutSeconds != 60 {
		t.Errorf("Expected 60s outcome timeout, got %d", config.OutcomeTimeoutSeconds)
	}
	if config.ChallengeNotificationTimeoutHours != 24 {
		t.Errorf("Expected 24h notification window, got %d", config.ChallengeNotificationTimeoutHours)
	}
	if config.MaxFlowRestarts != 10 {
		t.Errorf("Expected 10 restarts, got %d", config.MaxFlowRestarts)
	}
	if !config.ManualHelpEnabled {
		t.Error("Manual help should be enabled by default")
	}
	if config.Selectors.PaymentButton == "" || config.Selectors.ChallengeFrame == "" {
		t.Error("Default selectors must be populated")
	}
}

func TestLoadConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() returned error: %v", err)
	}
	if config.StoreBaseURL != DefaultConfig().StoreBaseURL {
		t.Error("A fresh config must carry the defaults")
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("LoadConfig must write a default config file: %v", err)
	}
}

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	original := DefaultConfig()
	original.DataDir = t.TempDir()
	original.BrowserProfilePath = filepath.Join(original.DataDir, "browser-profile")
	original.Accounts = []string{"a@example.com", "b@example.com"}
	original.ProductSlug = "galactic-salvage"
	original.WebhookURL = "https://hooks.example.com/claim"
	original.MaxFlowRestarts = 3
	original.DryRun = true

	if err := original.Save(path); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() returned error: %v", err)
	}

	if len(loaded.Accounts) != 2 || loaded.Accounts[0] != "a@example.com" {
		t.Errorf("Accounts lost in round trip: %v", loaded.Accounts)
	}
	if loaded.ProductSlug != "galactic-salvage" {
		t.Errorf("Slug lost in round trip: %s", loaded.ProductSlug)
	}
	if loaded.WebhookURL != "https://hooks.example.com/claim" {
		t.Errorf("Webhook lost in round trip: %s", loaded.WebhookURL)
	}
	if loaded.MaxFlowRestarts != 3 {
		t.Errorf("Restart cap lost in round trip: %d", loaded.MaxFlowRestarts)
	}
	if !loaded.DryRun {
		t.Error("Dry run flag lost in round trip")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name: "Valid with slug",
			mutate: func(c *Config) {
				c.Accounts = []string{"user@example.com"}
				c.ProductSlug = "galactic-salvage"
			},
			wantErr: false,
		},
		{
			name: "Valid with offer pair",
			mutate: func(c *Config) {
				c.Accounts = []string{"user@example.com"}
				c.OfferNamespace = "abc123"
				c.OfferID = "def456"
			},
			wantErr: false,
		},
		{
			name: "No accounts",
			mutate: func(c *Config) {
				c.ProductSlug = "galactic-salvage"
			},
			wantErr: true,
		},
		{
			name: "No target",
			mutate: func(c *Config) {
				c.Accounts = []string{"user@example.com"}
			},
			wantErr: true,
		},
		{
			name: "Namespace without offer",
			mutate: func(c *Config) {
				c.Accounts = []string{"user@example.com"}
				c.OfferNamespace = "abc123"
			},
			wantErr: true,
		},
		{
			name: "Negative restart cap",
			mutate: func(c *Config) {
				c.Accounts = []string{"user@example.com"}
				c.ProductSlug = "galactic-salvage"
				c.MaxFlowRestarts = -1
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPurchaseTargetURL(t *testing.T) {
	config := DefaultConfig()

	tests := []struct {
		name     string
		target   PurchaseTarget
		expected string
	}{
		{
			name:     "Product slug",
			target:   PurchaseTarget{Slug: "galactic-salvage"},
			expected: "https://store.epicgames.com/en-US/p/galactic-salvage",
		},
		{
			name:     "Offer pair",
			target:   PurchaseTarget{Namespace: "abc123", Offer: "def456"},
			expected: "https://store.epicgames.com/purchase?offers=1-abc123-def456",
		},
		{
			name:     "Slug wins over offer pair",
			target:   PurchaseTarget{Slug: "galactic-salvage", Namespace: "abc123", Offer: "def456"},
			expected: "https://store.epicgames.com/en-US/p/galactic-salvage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.target.URL(config); result != tt.expected {
				t.Errorf("URL() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestPurchaseTargetString(t *testing.T) {
	if s := (PurchaseTarget{Slug: "galactic-salvage"}).String(); s != "galactic-salvage" {
		t.Errorf("String() = %q", s)
	}
	if s := (PurchaseTarget{Namespace: "abc", Offer: "def"}).String(); s != "abc/def" {
		t.Errorf("String() = %q", s)
	}
}
