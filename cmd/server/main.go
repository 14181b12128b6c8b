package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"simpleflow-sandbox/internal/api"
	"simpleflow-sandbox/internal/config"
	"simpleflow-sandbox/internal/monitor"
	"simpleflow-sandbox/internal/sandbox"
	"simpleflow-sandbox/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatal().Err(err).Msg("invalid environment override")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing is opt-in; spans go to the no-op provider otherwise.
	shutdownTracing := func(context.Context) error { return nil }
	if cfg.Tracing.Enabled {
		shutdownTracing, err = monitor.InitTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.Sample)
		if err != nil {
			log.Warn().Err(err).Msg("tracing unavailable, continuing without it")
			shutdownTracing = func(context.Context) error { return nil }
		}
	}

	metrics := monitor.NewMetrics()

	backend, err := sandbox.NewBackend(cfg, metrics)
	if err != nil {
		log.Warn().Err(err).Msg("no sandbox backend available (execution will fail)")
		// Continue startup so health/metrics endpoints work for debugging
		backend = nil
	}

	// Leaked artifacts only exist if the process died mid-run; sweep them.
	var janitor *sandbox.Janitor
	if cfg.Sandbox.Janitor.Enabled {
		janitor, err = sandbox.NewJanitor(cfg.ScratchDir(), cfg.Sandbox.Janitor.Schedule, cfg.Sandbox.Janitor.MaxAge, metrics)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid janitor schedule")
		}
		janitor.Sweep(time.Now())
		janitor.Start()
	}

	// Initialize database (optional, runs without it for development)
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
			db = nil
		} else {
			defer db.Close()
		}
	}

	var auditWriter *storage.AuditWriter
	if db != nil {
		auditWriter = storage.NewAuditWriter(db, cfg.Database.AuditBuffer, metrics)
		auditWriter.Start()
		defer auditWriter.Flush(10 * time.Second)
	}

	server := api.NewServer(cfg, backend, db, auditWriter, metrics)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		// In-flight runs finish and clean up before we exit.
		if backend != nil {
			if err := backend.Close(); err != nil {
				log.Error().Err(err).Msg("backend close error")
			}
		}
		if janitor != nil {
			janitor.Stop()
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Str("interpreter", cfg.Interpreter.Name).
		Str("backend", cfg.Sandbox.Backend).
		Dur("timeout", cfg.Sandbox.Timeout).
		Bool("db_enabled", db != nil).
		Bool("backend_available", backend != nil).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	<-done
	log.Info().Msg("server stopped")
}
