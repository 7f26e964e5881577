package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// NotifyReason distinguishes why a human is being summoned.
type NotifyReason string

const (
	ReasonChallenge         NotifyReason = "CHALLENGE"
	ReasonManualHelpOnError NotifyReason = "MANUAL_HELP_ON_ERROR"
)

// Notifier delivers the portal link to the user. Fire-and-forget from the
// flow's perspective; the controller only logs delivery intent.
type Notifier interface {
	Send(portalURL, account string, reason NotifyReason) error
}

// WebhookNotifier posts a JSON payload to a configured webhook endpoint.
type WebhookNotifier struct {
	endpoint string
	client   *http.Client
	log      *logrus.Entry
}

func NewWebhookNotifier(endpoint string, log *logrus.Entry) *WebhookNotifier {
	return &WebhookNotifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}
}

type webhookPayload struct {
	Account string `json:"account"`
	Reason  string `json:"reason"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

func (n *WebhookNotifier) Send(portalURL, account string, reason NotifyReason) error {
	payload := webhookPayload{
		Account: account,
		Reason:  string(reason),
		URL:     portalURL,
		Content: notificationText(account, reason, portalURL),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	resp, err := n.client.Post(n.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}

	n.log.WithFields(logrus.Fields{
		"account": account,
		"reason":  reason,
	}).Info("Notification delivered")
	return nil
}

func notificationText(account string, reason NotifyReason, portalURL string) string {
	switch reason {
	case ReasonManualHelpOnError:
		return fmt.Sprintf("Purchase for %s hit an error and needs a hand: %s", account, portalURL)
	default:
		return fmt.Sprintf("Purchase for %s is blocked by a CAPTCHA, solve it here: %s", account, portalURL)
	}
}

// noopNotifier is used when no webhook is configured; the portal URL still
// lands in the log.
type noopNotifier struct {
	log *logrus.Entry
}

func NewNoopNotifier(log *logrus.Entry) Notifier {
	return &noopNotifier{log: log}
}

func (n *noopNotifier) Send(portalURL, account string, reason NotifyReason) error {
	n.log.WithFields(logrus.Fields{
		"account": account,
		"reason":  reason,
		"url":     portalURL,
	}).Warn("No webhook configured, portal link logged only")
	return nil
}
