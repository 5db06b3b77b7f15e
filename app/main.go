package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ozeron/spyglass/app/api"
	"github.com/ozeron/spyglass/app/browser"
	"github.com/ozeron/spyglass/app/cfg"
	"github.com/ozeron/spyglass/app/database"
	"github.com/ozeron/spyglass/app/metrics"
	"github.com/ozeron/spyglass/app/preflight"
	"github.com/ozeron/spyglass/app/queue"
	"github.com/ozeron/spyglass/app/scrape"
	"github.com/ozeron/spyglass/app/session"
	"github.com/ozeron/spyglass/app/target"
	"github.com/ozeron/spyglass/app/tasks"
)

func main() {
	// Optional .env next to the binary; real environment wins.
	_ = godotenv.Load()

	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Spyglass", "version", appCfg.Version)

	if err := run(appCfg); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(appCfg *cfg.Cfg) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	postRepo := database.NewPostRepository(db)

	targets, err := target.NewLoader(appCfg.TargetsDir).LoadAll()
	if err != nil {
		return fmt.Errorf("failed to load targets: %w", err)
	}
	if len(targets) == 0 {
		slog.Warn("No targets configured", "dir", appCfg.TargetsDir)
	}
	slog.Info("Targets loaded", "count", len(targets))

	engine, err := browser.New(appCfg.EngineMode)
	if err != nil {
		return fmt.Errorf("failed to create browsing engine: %w", err)
	}

	defaultProxy := target.ProxyConfig{
		Server:   appCfg.ProxyServer,
		Username: appCfg.ProxyUsername,
		Password: appCfg.ProxyPassword,
	}

	sessions := session.NewStore(appCfg.SessionsDir, engine, defaultProxy)

	burners := make([]string, 0, len(targets))
	for _, tgt := range targets {
		if tgt.Enabled {
			burners = append(burners, tgt.Burner)
		}
	}

	// The leak gate is all-or-nothing: a leaking or unverifiable proxy
	// refuses the whole process.
	check := preflight.NewCheck(engine, sessions, defaultProxy, appCfg.Headless)
	if err := check.Run(ctx, burners); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	var jobQueue queue.Queue
	if appCfg.RedisAddr != "" {
		jobQueue, err = queue.NewRedis(appCfg.RedisAddr, "surveillance")
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("Using redis job queue", "addr", appCfg.RedisAddr)
	} else {
		jobQueue = queue.NewMemory()
		slog.Warn("REDIS_ADDR not set, using in-process queue; pending jobs will not survive restarts")
	}
	defer jobQueue.Close()

	cycle := scrape.NewCycle(engine, sessions, postRepo, metrics.NewKeywordClassifier(), scrape.Config{
		Headless:         appCfg.Headless,
		DisableSeedCheck: appCfg.DisableSeedCheck,
		Iterations:       appCfg.Iterations,
		Proxy:            defaultProxy,
		UserAgent:        appCfg.UserAgent,
	})

	scheduler := tasks.NewScheduler(jobQueue, targets, tasks.Options{
		MinDelay:    time.Duration(appCfg.MinDelayMinutes) * time.Minute,
		MaxDelay:    time.Duration(appCfg.MaxDelayMinutes) * time.Minute,
		MaxAttempts: appCfg.MaxAttempts,
	})
	cycle.OnAuthState = scheduler.SetAuthState

	worker := tasks.NewWorker(jobQueue, cycle, scheduler, appCfg.Concurrency, appCfg.RatePerSec)
	go func() {
		if err := worker.Run(ctx); err != nil && err != context.Canceled {
			slog.Error("Worker pool stopped", "error", err)
		}
	}()

	handler := api.NewHandler(postRepo, scheduler)
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Control server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	slog.Info("Spyglass standing by", "hint", "POST /control/start to begin surveillance")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error, shutting down", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		slog.Warn("Failed to stop scheduler cleanly", "error", err)
	}
	cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}
