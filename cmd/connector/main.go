package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polar-connector/internal/agent"
	"polar-connector/internal/config"
	"polar-connector/internal/identity"
	"polar-connector/internal/moonraker"
	"polar-connector/internal/util"
)

var version = "0.1.0"

func main() {
	var (
		cfgPath  string
		logLevel string
		once     bool
		register bool
		email    string
		pin      string
	)
	flag.StringVar(&cfgPath, "config", "", "Path to config JSON (required)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	flag.BoolVar(&once, "once", false, "Run one heartbeat iteration and exit (debug)")
	flag.BoolVar(&register, "register", false, "Register this device with the cloud on startup")
	flag.StringVar(&email, "email", "", "Account email for --register")
	flag.StringVar(&pin, "pin", "", "Account PIN for --register")
	flag.Parse()

	if cfgPath == "" {
		fmt.Fprintln(os.Stderr, "error: --config is required")
		os.Exit(2)
	}
	if register && (email == "" || pin == "") {
		fmt.Fprintln(os.Stderr, "error: --register requires --email and --pin")
		os.Exit(2)
	}

	level := slog.LevelInfo
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		fmt.Fprintln(os.Stderr, "error: invalid --log-level (debug|info|warn|error)")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	store := config.NewStore(cfgPath, cfg)
	id := identity.New(store, cfg.StateDir, logger)

	a := agent.New(agent.Options{
		Config:   cfg,
		Identity: id,
		Printer:  moonraker.New(cfg.MoonrakerURL),
		Logger:   logger,
		Version:  version,
		Once:     once,
		Notify: func(n agent.Notification) {
			switch n.Command {
			case "serial":
				logger.Info("device serial assigned", "serial", n.Serial)
			case "registration_failed":
				logger.Error("device registration failed")
			}
		},
	})

	if err := run(ctx, a, logger, register, email, pin); err != nil {
		logger.Error("agent exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("agent exited cleanly")
}

// run dials the cloud and keeps the agent alive. The agent itself never
// reconnects; a lost connection comes back here and we re-dial with backoff.
func run(ctx context.Context, a *agent.Agent, logger *slog.Logger, register bool, email, pin string) error {
	bo := util.NewBackoff(1*time.Second, 60*time.Second)

	for {
		if err := a.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("cloud connect failed", "error", err)
			if !sleepCtx(ctx, bo.Next()) {
				return nil
			}
			continue
		}
		bo.Reset()

		if register {
			register = false
			switch err := a.Register(email, pin); {
			case err == nil:
				logger.Info("registration requested; waiting for response from the cloud")
			case errors.Is(err, agent.ErrKeyUnavailable):
				logger.Error("unable to generate signing key")
			default:
				logger.Error("unable to communicate with the cloud", "error", err)
			}
		}

		err := a.Run(ctx)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil
		}
		if err == nil {
			// --once mode finished its single iteration.
			return nil
		}
		logger.Warn("connection lost", "error", err)
		if !sleepCtx(ctx, bo.Next()) {
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
