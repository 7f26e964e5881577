package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Accounts to claim for. Each entry is an email-like identity used to
	// partition cookie storage, logging and notifications.
	Accounts []string `yaml:"accounts"`

	// Target selection. Either a product slug (full flow) or a
	// namespace/offer pair (direct purchase flow).
	ProductSlug    string `yaml:"product_slug"`
	OfferNamespace string `yaml:"offer_namespace"`
	OfferID        string `yaml:"offer_id"`

	StoreBaseURL string `yaml:"store_base_url"`
	StoreLocale  string `yaml:"store_locale"`

	DataDir            string `yaml:"data_dir"`
	BrowserProfilePath string `yaml:"browser_profile_path"`

	Headless       bool `yaml:"headless"`
	ViewportWidth  int  `yaml:"viewport_width"`
	ViewportHeight int  `yaml:"viewport_height"`

	PageLoadTimeoutSeconds      int `yaml:"page_load_timeout_seconds"`
	OutcomeTimeoutSeconds       int `yaml:"outcome_timeout_seconds"`
	ConsentDialogTimeoutSeconds int `yaml:"consent_dialog_timeout_seconds"`
	RefundDialogTimeoutSeconds  int `yaml:"refund_dialog_timeout_seconds"`
	DialogPollIntervalMs        int `yaml:"dialog_poll_interval_ms"`

	// How long a posted portal link stays valid before the attempt is
	// considered failed, and how long we wait for a human before reloading
	// the page under a still-unsolved challenge.
	ChallengeNotificationTimeoutHours int `yaml:"challenge_notification_timeout_hours"`
	ChallengeIdleTimeoutMinutes       int `yaml:"challenge_idle_timeout_minutes"`
	MaxFlowRestarts                   int `yaml:"max_flow_restarts"`

	ManualHelpEnabled bool   `yaml:"manual_help_enabled"`
	WebhookURL        string `yaml:"webhook_url"`
	TunnelBaseURL     string `yaml:"tunnel_base_url"`

	// Optional endpoint serving auxiliary challenge-provider cookies
	// (hCaptcha accessibility set). Empty disables the merge.
	AuxCookieURL string `yaml:"aux_cookie_url"`

	// Claim-window scheduling. Empty windows means one-shot mode.
	ClaimWindows []string `yaml:"claim_windows"`
	RunOnStartup bool     `yaml:"run_on_startup"`

	DryRun    bool `yaml:"dry_run"`
	DebugMode bool `yaml:"debug_mode"`

	Selectors SelectorConfig `yaml:"selectors"`
}

type SelectorConfig struct {
	ConsentDialog      string `yaml:"consent_dialog"`
	PaymentButton      string `yaml:"payment_button"`
	RefundDialog       string `yaml:"refund_dialog"`
	ErrorText          string `yaml:"error_text"`
	ChallengeFrame     string `yaml:"challenge_frame"`
	ReceiptURLFragment string `yaml:"receipt_url_fragment"`
}

func DefaultConfig() *Config {
	dataDir := getDataDir()

	return &Config{
		StoreBaseURL:       "https://store.epicgames.com",
		StoreLocale:        "en-US",
		DataDir:            dataDir,
		BrowserProfilePath: filepath.Join(dataDir, "browser-profile"),

		Headless:       false,
		ViewportWidth:  1920,
		ViewportHeight: 1080,

		PageLoadTimeoutSeconds:      30,
		OutcomeTimeoutSeconds:       60,
		ConsentDialogTimeoutSeconds: 3,
		RefundDialogTimeoutSeconds:  3,
		DialogPollIntervalMs:        250,

		ChallengeNotificationTimeoutHours: 24,
		ChallengeIdleTimeoutMinutes:       180,
		MaxFlowRestarts:                   10,

		ManualHelpEnabled: true,

		RunOnStartup: true,

		Selectors: SelectorConfig{
			ConsentDialog:      "#onetrust-accept-btn-handler",
			PaymentButton:      "#purchase-app button[class*=payment-btn]",
			RefundDialog:       "#purchase-app div[class*=payment-confirm] button[class*=payment-btn--primary]",
			ErrorText:          "#purchase-app span[class*=payment-alert__content]",
			ChallengeFrame:     "#webPurchaseContainer iframe[class*=h_captcha_challenge], #talon_frame_checkout_free_prod",
			ReceiptURLFragment: "/purchase/receipt",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	if config.BrowserProfilePath != "" {
		if err := os.MkdirAll(config.BrowserProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Target builds the PurchaseTarget from the configured fields.
func (c *Config) Target() (PurchaseTarget, error) {
	target := PurchaseTarget{
		Slug:      c.ProductSlug,
		Namespace: c.OfferNamespace,
		Offer:     c.OfferID,
	}
	if err := target.Validate(); err != nil {
		return PurchaseTarget{}, err
	}
	return target, nil
}

// Validate rejects configurations the purchase flow cannot run with.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("no accounts configured")
	}
	if _, err := c.Target(); err != nil {
		return err
	}
	if c.MaxFlowRestarts < 0 {
		return fmt.Errorf("max_flow_restarts must not be negative")
	}
	return nil
}

func getDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./freegames-data"
	}
	return filepath.Join(home, ".freegames")
}
