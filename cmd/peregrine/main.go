// Peregrine - Transaction risk scoring for payment flows.
// Copyright (c) 2026 ledgerline
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerline/peregrine/internal/audit"
	"github.com/ledgerline/peregrine/internal/bus"
	"github.com/ledgerline/peregrine/internal/cache"
	"github.com/ledgerline/peregrine/internal/checks"
	"github.com/ledgerline/peregrine/internal/config"
	"github.com/ledgerline/peregrine/internal/devicetrust"
	"github.com/ledgerline/peregrine/internal/domain"
	"github.com/ledgerline/peregrine/internal/engine"
	"github.com/ledgerline/peregrine/internal/repository"
	"github.com/ledgerline/peregrine/internal/velocity"
	"github.com/ledgerline/peregrine/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("starting peregrine",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	velocityTTL := time.Duration(cfg.Engine.VelocityCacheTTLSecs) * time.Second
	aggregator := velocity.NewAggregator(repo, cacheImpl, velocityTTL)
	deviceStore := devicetrust.NewStore(repo, cfg.DeviceTrust, logger)

	checkSet := checks.DefaultChecks(cfg.Scoring)
	checkSet = append(checkSet, loadExpressionChecks(ctx, repo)...)
	slog.Info("check set initialized", "checks", len(checkSet))

	auditSink := audit.NewBusSink(busImpl)
	scoringEngine := engine.New(repo, aggregator, deviceStore, checkSet, cfg.Scoring, cfg.Engine, auditSink, logger)

	evalWorker := worker.New(busImpl, repo, scoringEngine, logger)
	if err := evalWorker.Start(); err != nil {
		slog.Error("failed to start evaluation worker", "error", err)
		os.Exit(1)
	}

	slog.Info("peregrine is ready")

	<-ctx.Done()
	slog.Info("shutting down...")

	evalWorker.Stop()
	slog.Info("peregrine stopped")
}

// loadExpressionChecks compiles the enabled operator-defined rules from the
// database. A rule that fails to compile is skipped, not fatal.
func loadExpressionChecks(ctx context.Context, repo domain.Repository) []checks.Check {
	rules, err := repo.ListExpressionRules(ctx)
	if err != nil {
		slog.Error("failed to load expression rules", "error", err)
		return nil
	}
	if len(rules) == 0 {
		return nil
	}

	env, err := checks.NewExpressionEnv()
	if err != nil {
		slog.Error("failed to create expression environment", "error", err)
		return nil
	}

	compiled, errs := checks.CompileEnabled(env, rules)
	for _, err := range errs {
		slog.Warn("skipping expression rule", "error", err)
	}
	slog.Info("expression rules loaded", "compiled", len(compiled), "skipped", len(errs))
	return compiled
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
