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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/yt_downloader/internal/backend/youtube"
	"github.com/italolelis/yt_downloader/internal/backend/ytdlp"
	"github.com/italolelis/yt_downloader/internal/cache"
	"github.com/italolelis/yt_downloader/internal/cleanup"
	"github.com/italolelis/yt_downloader/internal/config"
	"github.com/italolelis/yt_downloader/internal/downloader"
	"github.com/italolelis/yt_downloader/internal/http/rest"
	"github.com/italolelis/yt_downloader/internal/logctx"
	"github.com/italolelis/yt_downloader/internal/media"
	"github.com/italolelis/yt_downloader/internal/notifier"
	"github.com/italolelis/yt_downloader/internal/search"
	"github.com/italolelis/yt_downloader/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("yt downloader starting...", "log_level", cfg.LogLevel, "backend", cfg.Backend, "version", version)

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
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Backend
	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build backend: %w", err)
	}

	backend = media.NewInstrumentedBackend(backend, tel, cfg.Backend)

	// =========================================================================
	// Start Search
	searchCache, closeCache, err := setupCache(ctx, cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to setup cache: %w", err)
	}
	defer closeCache()

	searchSvc := search.NewService(backend, searchCache, tel, search.Options{
		SearchLimit:    cfg.SearchLimit,
		SuggestLimit:   cfg.SuggestLimit,
		RandomQueries:  cfg.RandomQueries,
		RandomCount:    cfg.RandomCount,
		ResolveTimeout: cfg.ResolveTimeout,
	})

	// =========================================================================
	// Start Orchestrator
	registry := cleanup.NewRegistry(tel)

	orch := downloader.NewOrchestrator(backend, registry, tel, downloader.Options{
		WorkDir:        cfg.WorkDir,
		MaxParallel:    cfg.MaxParallel,
		AcquireTimeout: cfg.AcquireTimeout,
	})
	defer orch.Close()

	workDir, err := orch.EnsureWorkDir()
	if err != nil {
		return fmt.Errorf("failed to prepare work dir: %w", err)
	}

	// =========================================================================
	// Start Notification
	setupNotification(ctx, orch, cfg)

	// =========================================================================
	// Start Cleanup
	go cleanup.RunJanitor(ctx, registry, cfg.CleanupInterval, cfg.ArtifactMaxAge)

	defer func() {
		if err := registry.ReleaseAll(context.WithoutCancel(ctx), cleanup.ReasonShutdown); err != nil {
			logger.Error("failed to release artifacts on shutdown", "err", err)
		}
	}()

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, tel, rest.NewMediaHandler(searchSvc, orch))

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("ready for requests",
		"work_dir", workDir,
		"max_parallel", cfg.MaxParallel,
		"acquire_timeout", cfg.AcquireTimeout.String(),
		"artifact_max_age", cfg.ArtifactMaxAge.String(),
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// This is an abstract factory for the extraction backend.
func buildBackend(ctx context.Context, cfg *config.Config) (media.Backend, error) {
	switch cfg.Backend {
	case config.BackendYtdlp:
		if cfg.YtdlpInstall {
			if err := ytdlp.Install(ctx); err != nil {
				return nil, fmt.Errorf("failed to install yt-dlp: %w", err)
			}
		}

		return ytdlp.NewClient(cfg.SocketTimeout), nil
	case config.BackendYoutube:
		return youtube.NewClient(&http.Client{Timeout: cfg.SocketTimeout}, cfg.FFmpegPath), nil
	}

	return nil, fmt.Errorf("invalid backend: %s", cfg.Backend)
}

// setupCache builds the search cache, backed by redis when a URL is configured.
func setupCache(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*cache.Cache, func(), error) {
	logger := logctx.LoggerFromContext(ctx)
	opts := cache.Options{TTL: cfg.Cache.TTL, MaxEntries: cfg.Cache.MaxEntries}
	closeFn := func() {}

	if cfg.Cache.RedisURL != "" {
		store, err := cache.NewRedisStore(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, err
		}

		opts.L2 = store
		closeFn = func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close redis", "err", err)
			}
		}

		logger.Info("search cache backed by redis")
	}

	return cache.New(opts, tel), closeFn, nil
}

func setupNotification(ctx context.Context, orch *downloader.Orchestrator, cfg *config.Config) {
	if cfg.DiscordWebhookURL == "" {
		return
	}

	go notifier.WatchFailures(ctx, notifier.NewDiscordNotifier(cfg.DiscordWebhookURL), orch.OnJobFailed)
}

// setupServer prepares the handlers and middleware to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, h *rest.MediaHandler) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", h.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, cfg.Telemetry.ServiceName),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
