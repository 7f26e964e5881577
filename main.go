package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	email := flag.String("email", "", "Single account to claim for (overrides config)")
	slug := flag.String("slug", "", "Product slug to purchase (overrides config)")
	namespace := flag.String("namespace", "", "Offer namespace for the direct purchase flow (overrides config)")
	offer := flag.String("offer", "", "Offer id for the direct purchase flow (overrides config)")
	headless := flag.Bool("headless", false, "Run the browser headless")
	dryRun := flag.Bool("dry-run", false, "Test mode: stop before the payment confirmation")
	debug := flag.Bool("debug", false, "Enable detailed debug logging")
	flag.Parse()

	log := logrus.New()

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *email != "" {
		config.Accounts = []string{*email}
	}
	if *slug != "" {
		config.ProductSlug = *slug
	}
	if *namespace != "" {
		config.OfferNamespace = *namespace
	}
	if *offer != "" {
		config.OfferID = *offer
	}
	if *headless {
		config.Headless = true
	}
	if *dryRun {
		config.DryRun = true
	}
	if *debug {
		config.DebugMode = true
	}

	if config.DebugMode {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	target, err := config.Target()
	if err != nil {
		log.Fatalf("Invalid target: %v", err)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║              Free Games Checkout Assistant                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Target: %s\n", target)
	fmt.Printf("Accounts: %d\n", len(config.Accounts))
	fmt.Printf("Browser profile: %s\n", config.BrowserProfilePath)
	if config.DryRun {
		fmt.Println("🧪 DRY RUN - Stopping before the payment confirmation")
	}
	if config.DebugMode {
		fmt.Println("🔍 DEBUG MODE - Detailed logging enabled")
	}
	fmt.Println()

	var notifier Notifier
	if config.WebhookURL != "" {
		notifier = NewWebhookNotifier(config.WebhookURL, log.WithField("component", "notifier"))
	} else {
		notifier = NewNoopNotifier(log.WithField("component", "notifier"))
	}

	ctx := context.Background()

	runAccount := func(ctx context.Context, identity string) error {
		attempt := NewAttempt(config, identity, target, notifier, log)
		return attempt.Run(ctx)
	}

	if len(config.ClaimWindows) > 0 {
		scheduler := NewScheduler(config, runAccount, log.WithField("component", "scheduler"))
		if err := scheduler.Run(ctx); err != nil {
			log.Fatalf("Scheduler failed: %v", err)
		}
		return
	}

	failed := 0
	for _, identity := range config.Accounts {
		if err := runAccount(ctx, identity); err != nil {
			log.WithError(err).WithField("account", identity).Error("Claim failed")
			failed++
		}
	}

	if failed > 0 {
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("✓ Checkout process completed successfully!")
}
