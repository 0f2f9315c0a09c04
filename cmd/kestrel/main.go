// Kestrel - Monitoring coverage scoring for application estates.
// Copyright (c) 2025 opsgrade.io
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opsgrade/kestrel/internal/advisory"
	"github.com/opsgrade/kestrel/internal/api"
	"github.com/opsgrade/kestrel/internal/bus"
	"github.com/opsgrade/kestrel/internal/cache"
	"github.com/opsgrade/kestrel/internal/domain"
	"github.com/opsgrade/kestrel/internal/repository"
	"github.com/opsgrade/kestrel/internal/ruletable"
	"github.com/opsgrade/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if path := os.Getenv("KESTREL_RULETABLE"); path != "" {
		cfg.RuleTablePath = path
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load rule table (compiled defaults when no path is configured)
	var table *domain.RuleTable
	if cfg.RuleTablePath != "" {
		table, err = ruletable.Load(cfg.RuleTablePath)
		if err != nil {
			slog.Error("failed to load rule table", "path", cfg.RuleTablePath, "error", err)
			os.Exit(1)
		}
		slog.Info("rule table loaded", "path", cfg.RuleTablePath, "version", table.Version)
	} else {
		slog.Info("no rule table configured - using compiled defaults")
	}

	// Initialize Advisory Engine
	engine, err := advisory.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize advisory engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Tasks to preload advisories for and to watch for catalog changes
	taskIDs := parseTaskIDs(os.Getenv("KESTREL_TASKS"))

	if err := loadAdvisoriesFromDatabase(ctx, repo, engine, taskIDs); err != nil {
		slog.Error("failed to load advisories", "error", err)
		os.Exit(1)
	}
	slog.Info("advisory engine initialized", "advisories_count", engine.Count())

	// Initialize rescoring Worker
	var rescoreWorker *worker.Worker
	if len(taskIDs) > 0 {
		rescoreWorker = worker.NewWorker(busImpl, repo, table)

		workerCfg := worker.Config{
			TaskIDs: taskIDs,
		}

		if err := rescoreWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start rescoring worker", "error", err)
		} else {
			slog.Info("rescoring worker started", "task_count", len(taskIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, table, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop rescoring worker first
	if rescoreWorker != nil {
		if err := rescoreWorker.Stop(); err != nil {
			slog.Error("failed to stop rescoring worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// parseTaskIDs splits the comma-separated KESTREL_TASKS value.
func parseTaskIDs(env string) []string {
	if env == "" {
		return nil
	}
	var out []string
	for _, id := range strings.Split(env, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// loadAdvisoriesFromDatabase loads each task's enabled advisories into the
// engine. Advisories are configured via POST /advisories - no hardcoded
// defaults.
func loadAdvisoriesFromDatabase(ctx context.Context, repo domain.Repository, engine *advisory.Engine, taskIDs []string) error {
	total := 0
	for _, taskID := range taskIDs {
		configs, err := repo.ListAdvisories(ctx, taskID)
		if err != nil {
			slog.Warn("failed to list advisories from database", "task_id", taskID, "error", err)
			continue
		}
		for _, cfg := range configs {
			if !cfg.Enabled {
				continue
			}
			if err := engine.Load(cfg); err != nil {
				return fmt.Errorf("load advisory %s: %w", cfg.ID, err)
			}
			total++
		}
	}

	if total == 0 {
		slog.Info("no advisories in database - configure via POST /advisories API")
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║    Monitoring Coverage Scoring Engine     ║")
	fmt.Println("  ║      Know what your estate can see.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /systems              - Create a system configuration")
	fmt.Println("    PUT  /systems/{id}         - Save a system (optimistic concurrency)")
	fmt.Println("    POST /systems/{id}/score   - Score a system")
	fmt.Println("    GET  /systems/{id}/scores  - Score history (newest first)")
	fmt.Println("    GET  /tools                - List the tool catalog")
	fmt.Println("    POST /tools                - Create a catalog tool")
	fmt.Println("    DELETE /tools/{id}         - Delete a tool (strips references)")
	fmt.Println("    GET  /ruletable            - Rule table in effect")
	fmt.Println("    GET  /export               - Export a task snapshot")
	fmt.Println("    POST /import               - Import a task snapshot")
	fmt.Println("    POST /advisories           - Create an advisory")
	fmt.Println("    POST /advisories/reload    - Hot-reload advisories")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println("    GET  /metrics              - Prometheus metrics")
	fmt.Println()
}
