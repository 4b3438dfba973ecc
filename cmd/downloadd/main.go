package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/downloadd/internal/cleanup"
	"github.com/italolelis/downloadd/internal/config"
	"github.com/italolelis/downloadd/internal/engine"
	"github.com/italolelis/downloadd/internal/http/rest"
	"github.com/italolelis/downloadd/internal/logctx"
	"github.com/italolelis/downloadd/internal/notifier"
	"github.com/italolelis/downloadd/internal/storage"
	"github.com/italolelis/downloadd/internal/storage/sqlite"
	"github.com/italolelis/downloadd/internal/system"
	"github.com/italolelis/downloadd/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("download manager starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "downloadd",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedDownloadRepository(database, tel)

	// =========================================================================
	// Start System Facade
	facade := system.NewRealFacade(cfg.ConnectivityProbeAddr, cfg.ConnectivityProbeTimeout)
	facade.Watch(ctx, cfg.ConnectivityProbeInterval)

	// =========================================================================
	// Start Download Engine
	eng := engine.New(
		repo,
		facade,
		engine.NewFetchExecutor(cfg.UserAgent),
		engine.NewRetryScheduler(cfg.DefaultRetryDelay, cfg.MaxRetryJitter),
		tel,
		cfg.DownloadDir,
		cfg.CacheDir,
		cfg.MaxParallel,
	)

	eng.Watch(ctx, cfg.PollInterval)
	eng.Kick()

	// =========================================================================
	// Start Notification
	setupNotifications(ctx, eng, cfg)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, repo, facade, cfg)

	// =========================================================================
	// Start API Service
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, repo, eng, tel, cfg)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for downloads...",
		"download_dir", cfg.DownloadDir,
		"max_parallel", cfg.MaxParallel,
		"poll_interval", cfg.PollInterval.String(),
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

func setupNotifications(ctx context.Context, eng *engine.Engine, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.WebhookURL == "" {
		return
	}

	notif := &notifier.WebhookNotifier{WebhookURL: cfg.WebhookURL}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-eng.OnDownloadFinished:
				if err := notif.Notify("✅ Download finished: " + d.URI); err != nil {
					logger.Error("failed to send notification", "download_id", d.ID, "err", err)
				}
			case d := <-eng.OnDownloadFailed:
				if err := notif.Notify("❌ Download failed: " + d.URI); err != nil {
					logger.Error("failed to send notification", "download_id", d.ID, "err", err)
				}
			}
		}
	}()
}

func setupCleanup(ctx context.Context, repo storage.DownloadRepository, facade system.Facade, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(cfg.CleanupInterval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-ticker.C:
				if err := cleanup.PurgeFailed(ctx, repo, cfg.KeepFailedFor, facade.Now()); err != nil {
					logger.Error("failed to purge stale downloads", "err", err)
				}
			}
		}
	}()
}

// setupServer prepares the handlers to create the http rest server.
func setupServer(ctx context.Context, repo storage.DownloadRepository, eng *engine.Engine, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewDownloadsHandler(repo, eng, tel)

	r := chi.NewRouter()
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "rest"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
