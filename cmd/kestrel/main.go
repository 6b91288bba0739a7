// Kestrel - Churn prediction that keeps answering when the model is down.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/playbook"
	"github.com/opensource-finance/kestrel/internal/predictor"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/stats"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("kestrel stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("kestrel shutdown complete")
}

// run wires the components, serves until ctx is done and shuts down in
// reverse order.
func run(ctx context.Context, cfg *domain.Config) error {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer repo.Close()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cacheImpl.Close()

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer busImpl.Close()

	slog.Info("infrastructure ready",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	engine, err := playbook.NewEngine()
	if err != nil {
		return fmt.Errorf("playbook engine: %w", err)
	}
	loadPlaybook(ctx, repo, engine)

	orchestrator := predictor.New(cfg.Scoring, repo,
		predictor.WithCache(cacheImpl, cfg.Cache.CounterWindow),
		predictor.WithEventBus(busImpl),
		predictor.WithPlaybook(engine),
	)
	if orchestrator.UsesRemote() {
		slog.Info("remote scorer configured", "url", cfg.Scoring.RemoteURL, "timeout", cfg.Scoring.Timeout)
	} else {
		slog.Info("no remote scorer configured, using heuristic")
	}

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		w := worker.NewWorker(busImpl, orchestrator, cacheImpl)
		if err := w.Start(); err != nil {
			slog.Error("async worker not started", "error", err)
		} else {
			asyncWorker = w
			defer w.Stop()
		}
	} else {
		slog.Info("async worker disabled, async predictions answer 503")
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Predictor: orchestrator,
		Stats:     stats.NewAggregator(repo),
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Playbook:  engine,
		Worker:    asyncWorker,
		Version:   Version,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("kestrel is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)
	printBanner(cfg, Version)

	select {
	case err := <-serveErr:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
		slog.Info("shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadPlaybook loads stored rules into the engine. A failure leaves the
// engine empty; rules can be reloaded via POST /api/playbook/reload.
func loadPlaybook(ctx context.Context, repo domain.Repository, engine *playbook.Engine) {
	rules, err := repo.ListPlaybookRules(ctx)
	if err != nil {
		slog.Warn("failed to list playbook rules", "error", err)
		return
	}
	if len(rules) == 0 {
		slog.Info("no playbook rules stored - configure via POST /api/playbook")
		return
	}
	if err := engine.ReloadRules(rules); err != nil {
		slog.Warn("failed to load playbook rules", "error", err)
		return
	}
	slog.Info("playbook loaded", "rules_count", engine.RulesCount())
}

func printBanner(cfg *domain.Config, version string) {
	scorer := "heuristic"
	if cfg.Scoring.RemoteURL != "" {
		scorer = cfg.Scoring.RemoteURL
	}

	fmt.Println()
	fmt.Println("  KESTREL - churn prediction service")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Scorer:   %s\n", scorer)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /api/churn/predict              - Score one customer")
	fmt.Println("    POST   /api/churn/predict/batch        - Score a JSON array")
	fmt.Println("    POST   /api/churn/predict/batch/csv    - Score a CSV upload")
	fmt.Println("    POST   /api/churn/predict/async        - Queue a prediction")
	fmt.Println("    GET    /api/churn/predict/async/{id}   - Poll a queued prediction")
	fmt.Println("    GET    /api/churn/stats                - Dashboard statistics")
	fmt.Println("    GET    /api/churn/top-risk             - Highest-risk customers")
	fmt.Println("    GET    /api/churn/counters             - Evaluated/churned counters")
	fmt.Println("    DELETE /api/churn/predictions          - Clear prediction history")
	fmt.Println("    GET    /api/playbook                   - List retention rules")
	fmt.Println("    POST   /api/playbook                   - Create a retention rule")
	fmt.Println("    POST   /api/playbook/reload            - Hot-reload retention rules")
	fmt.Println("    POST   /api/playbook/{id}/activate     - Load one stored rule")
	fmt.Println("    GET    /health                         - Health check")
	fmt.Println()
}
