// scanwatch connects to the dashboard backend and keeps a live view of
// scan activity on the console: real-time events stream over the
// WebSocket, and a coalesced REST refresh re-fetches the dashboard
// whenever the data may be stale.
//
// Usage: go run ./cmd/scanwatch --config configs/scanwatch.example.yaml
//
// The bearer token is read from the environment variable (or file) named
// in the config, and re-read on every reconnect.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scanboard/realtime/internal/api"
	"github.com/scanboard/realtime/internal/auth"
	"github.com/scanboard/realtime/internal/backoff"
	"github.com/scanboard/realtime/internal/bus"
	"github.com/scanboard/realtime/internal/config"
	"github.com/scanboard/realtime/internal/connection"
	"github.com/scanboard/realtime/internal/notify"
	"github.com/scanboard/realtime/internal/poller"
	"github.com/scanboard/realtime/internal/refresh"
	"github.com/scanboard/realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/scanwatch.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	// Set up structured logging
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting scanwatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Token accessor, re-read on every use so rotation works in place
	var token auth.TokenFunc
	if cfg.API.TokenFile != "" {
		token = auth.FromFile(cfg.API.TokenFile)
	} else {
		token = auth.FromEnv(cfg.API.TokenEnv)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// REST client with retry-with-backoff
	apiClient := api.NewClient(cfg.API.BaseURL, token,
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.Sync.MaxRetries, backoff.Policy{
			Base:   cfg.Sync.BaseRetryDelay,
			Max:    cfg.Sync.ReconnectMaxDelay,
			Jitter: cfg.Sync.BaseRetryDelay / 2,
		}),
		api.WithLogger(logger),
	)

	// Coalesced, user-visible error reporting. Background failures
	// (connection exhaustion, fallback polling) use a longer window to
	// reduce noise.
	printNotification := func(title, message string) {
		fmt.Printf("\n*** %s: %s ***\n\n", title, message)
	}
	errs := notify.New(cfg.Notify.ErrorFlushDelay, printNotification, logger)
	defer errs.Close()
	bgErrs := notify.New(cfg.Notify.BackgroundFlushDelay, printNotification, logger)
	defer bgErrs.Close()

	// Bounded-rate dashboard refresh
	coordinator := refresh.New(cfg.Sync.RefreshCoalesceWindow, func(ctx context.Context) error {
		snap, err := apiClient.FetchDashboard(ctx)
		if err != nil {
			errs.Report("Refresh failed", err.Error())
			return err
		}
		printDashboard(snap)
		return nil
	}, logger)
	defer coordinator.Close()

	// Event fan-out
	events := bus.New(logger)
	subs := []bus.Subscription{
		events.Subscribe("dashboard_update", func([]byte) { coordinator.Trigger() }),
		events.Subscribe("scan_update", func(payload []byte) {
			printEvent("scan_update", payload, *verbose)
			coordinator.Trigger()
		}),
		events.Subscribe("notification", func(payload []byte) {
			printEvent("notification", payload, *verbose)
		}),
		events.Subscribe(connection.TypeError, func(payload []byte) {
			printEvent("server error", payload, *verbose)
		}),
	}
	defer func() {
		for _, s := range subs {
			s.Cancel()
		}
	}()

	// Live channel
	manager := connection.NewManager(connection.ManagerConfig{
		URL:                  cfg.API.WSURL,
		Token:                token,
		PingInterval:         cfg.Sync.PingInterval,
		ReconnectBaseDelay:   cfg.Sync.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Sync.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Sync.MaxReconnectAttempts,
	}, events, bgErrs, logger)
	defer manager.Disconnect()

	if err := manager.Connect(); err != nil {
		logger.Error("initial connect failed", "error", err)
		os.Exit(1)
	}

	// REST fallback while the socket is down
	fallback := poller.New(poller.Config{Interval: cfg.Sync.PollFallbackInterval}, manager, coordinator.Trigger, logger)
	if err := fallback.Start(ctx); err != nil {
		logger.Error("failed to start fallback poller", "error", err)
		os.Exit(1)
	}

	// Initial view
	coordinator.Trigger()

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := fallback.Stop(stopCtx); err != nil {
		logger.Warn("fallback poller stop", "error", err)
	}

	logger.Info("scanwatch stopped")
}

func printDashboard(snap *api.DashboardSnapshot) {
	fmt.Printf("[dashboard] scans=%d active=%d vulns=%d critical=%d\n",
		snap.Stats.TotalScans,
		snap.Stats.ActiveScans,
		snap.Stats.TotalVulnerabilities,
		snap.Stats.CriticalVulnerabilities,
	)
	for _, s := range snap.Scans {
		fmt.Printf("  scan %d %-10s %3d%%  %s\n", s.ID, s.Status, s.Progress, s.TargetURL)
	}
}

func printEvent(kind string, payload []byte, verbose bool) {
	if verbose {
		fmt.Printf("[%s] %s\n", kind, payload)
		return
	}

	var env connection.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	if env.Message != "" {
		fmt.Printf("[%s] %s\n", kind, env.Message)
	} else {
		fmt.Printf("[%s] %s\n", kind, env.Data)
	}
}
