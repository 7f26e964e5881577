package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ParseClaimTime parses user-friendly claim-window formats into time.Time.
// Supported (all assumed UTC):
//   - "2026-01-15 16:00"        (YYYY-MM-DD HH:MM)
//   - "2026-01-15T16:00:00Z"    (RFC3339)
//   - "2026-01-15 16:00 UTC"
//   - "2026-01-15 16:00:00"
func ParseClaimTime(timeStr string) (time.Time, error) {
	timeStr = strings.TrimSpace(timeStr)
	timeStr = strings.TrimSuffix(timeStr, " UTC")
	timeStr = strings.TrimSuffix(timeStr, "UTC")
	timeStr = strings.TrimSpace(timeStr)

	if t, err := time.Parse(time.RFC3339, timeStr); err == nil {
		return t, nil
	}

	if t, err := time.Parse("2006-01-02 15:04", timeStr); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
	}

	if t, err := time.Parse("2006-01-02 15:04:05", timeStr); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
	}

	return time.Time{}, fmt.Errorf("invalid time format %q, use YYYY-MM-DD HH:MM (assumed UTC)", timeStr)
}

// ClockSync estimates the offset between the local clock and the wider
// world from HTTP Date headers, so claim windows fire on the store's time
// rather than a drifted local one.
type ClockSync struct {
	client       *http.Client
	log          *logrus.Entry
	offset       time.Duration
	lastSyncTime time.Time
	synced       bool
}

func NewClockSync(log *logrus.Entry) *ClockSync {
	return &ClockSync{
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log,
	}
}

var clockSyncServers = []string{
	"https://www.google.com",
	"https://www.cloudflare.com",
	"https://www.amazon.com",
}

// Sync averages the offset across the reachable reference servers.
func (cs *ClockSync) Sync() error {
	var totalOffset time.Duration
	successCount := 0

	for _, server := range clockSyncServers {
		offset, err := cs.offsetFrom(server)
		if err != nil {
			cs.log.WithError(err).WithField("server", server).Debug("Clock sync probe failed")
			continue
		}
		totalOffset += offset
		successCount++
	}

	if successCount == 0 {
		return fmt.Errorf("failed to sync clock with any server")
	}

	cs.offset = totalOffset / time.Duration(successCount)
	cs.lastSyncTime = time.Now()
	cs.synced = true

	cs.log.WithField("offset", cs.offset).Debug("Clock synchronized")
	return nil
}

func (cs *ClockSync) offsetFrom(url string) (time.Duration, error) {
	beforeRequest := time.Now()

	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := cs.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	afterRequest := time.Now()

	dateHeader := resp.Header.Get("Date")
	if dateHeader == "" {
		return 0, fmt.Errorf("no Date header in response")
	}

	serverTime, err := http.ParseTime(dateHeader)
	if err != nil {
		return 0, fmt.Errorf("failed to parse Date header: %w", err)
	}

	// Half the round trip approximates the one-way latency.
	latency := afterRequest.Sub(beforeRequest) / 2
	localTime := beforeRequest.Add(latency)
	return serverTime.Sub(localTime), nil
}

// Now returns the offset-adjusted current time.
func (cs *ClockSync) Now() time.Time {
	if !cs.synced {
		return time.Now()
	}
	return time.Now().Add(cs.offset)
}

// ShouldResync reports whether the last sync has gone stale.
func (cs *ClockSync) ShouldResync() bool {
	if !cs.synced {
		return true
	}
	return time.Since(cs.lastSyncTime) > time.Hour
}

// Offset returns the current estimate.
func (cs *ClockSync) Offset() time.Duration {
	return cs.offset
}

// Scheduler runs one attempt per account at each configured claim window.
// Free-game promotions roll over at fixed times; the scheduler sleeps until
// each window, resyncing the clock along the way.
type Scheduler struct {
	config *Config
	log    *logrus.Entry
	clock  *ClockSync

	// runAccount executes one attempt; injected so the scheduler is
	// testable without a browser.
	runAccount func(ctx context.Context, identity string) error
}

func NewScheduler(config *Config, runAccount func(ctx context.Context, identity string) error, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		config:     config,
		log:        log,
		clock:      NewClockSync(log),
		runAccount: runAccount,
	}
}

// Run walks the configured claim windows in order, skipping windows already
// in the past, and claims for every account at each one. With RunOnStartup
// set, one round runs immediately before any waiting.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.clock.Sync(); err != nil {
		s.log.WithError(err).Warn("Clock sync failed, using local time")
	}

	windows, err := s.parseWindows()
	if err != nil {
		return err
	}

	if s.config.RunOnStartup {
		s.log.Info("Running a claim round on startup")
		if err := s.runRound(ctx); err != nil {
			return err
		}
	}

	now := s.clock.Now()
	upcoming := upcomingWindows(windows, now)
	if skipped := len(windows) - len(upcoming); skipped > 0 {
		s.log.WithField("count", skipped).Info("Skipping claim windows already in the past")
	}

	for _, window := range upcoming {
		s.log.WithField("window", window.Format(time.RFC3339)).Info("Waiting for next claim window")
		if err := s.sleepUntil(ctx, window); err != nil {
			return err
		}
		if err := s.runRound(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (s *Scheduler) parseWindows() ([]time.Time, error) {
	var windows []time.Time
	for i, timeStr := range s.config.ClaimWindows {
		t, err := ParseClaimTime(timeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid claim window %d (%s): %w", i+1, timeStr, err)
		}
		windows = append(windows, t)
	}
	return windows, nil
}

// upcomingWindows filters windows to those not yet past as of now.
func upcomingWindows(windows []time.Time, now time.Time) []time.Time {
	var upcoming []time.Time
	for _, window := range windows {
		if window.After(now) {
			upcoming = append(upcoming, window)
		}
	}
	return upcoming
}

func (s *Scheduler) runRound(ctx context.Context) error {
	for _, identity := range s.config.Accounts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.runAccount(ctx, identity); err != nil {
			s.log.WithError(err).WithField("account", identity).Error("Claim failed")
		}
	}
	return nil
}

// sleepUntil waits for the target time, resyncing the clock and logging
// progress every 30 seconds.
func (s *Scheduler) sleepUntil(ctx context.Context, target time.Time) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		remaining := target.Sub(s.clock.Now())
		if remaining <= 0 {
			return nil
		}

		if remaining < 30*time.Second {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(remaining):
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.clock.ShouldResync() {
				if err := s.clock.Sync(); err != nil {
					s.log.WithError(err).Debug("Clock resync failed")
				}
			}
			s.log.WithField("remaining", target.Sub(s.clock.Now()).Round(time.Second)).Debug("Still waiting")
		}
	}
}
