package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/telehealth-ai-platform/cmd/mainconfig"
	"github.com/wolfman30/telehealth-ai-platform/internal/api/router"
	"github.com/wolfman30/telehealth-ai-platform/internal/app/bootstrap"
	"github.com/wolfman30/telehealth-ai-platform/internal/chat"
	appconfig "github.com/wolfman30/telehealth-ai-platform/internal/config"
	httpmiddleware "github.com/wolfman30/telehealth-ai-platform/internal/http/middleware"
	"github.com/wolfman30/telehealth-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/telehealth-ai-platform/internal/session"
	"github.com/wolfman30/telehealth-ai-platform/internal/summary"
	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
)

func main() {
	// .env is optional; real deployments inject the environment.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting telehealth intake API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	metricsHandler, chatMetrics := setupChatMetrics()

	registry := session.NewRegistry(session.Config{
		MaxAge:        cfg.SessionMaxAge,
		SweepInterval: cfg.SessionSweepInterval,
		Logger:        logger,
		OnExpire:      chatMetrics.SessionExpired,
	})
	chatMetrics.TrackActiveSessions(registry.Len)
	defer registry.CloseAll()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	pool := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}

	var s3Client summary.S3API
	if cfg.SummaryArchiveBucket != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return err
		}
		s3Client = mainconfig.NewS3Client(awsCfg, cfg)
	}

	interview, err := bootstrap.BuildInterview(ctx, cfg, bootstrap.InterviewDeps{
		Registry:  registry,
		Redis:     redisClient,
		Summaries: bootstrap.BuildSummaryStore(cfg, pool, s3Client, logger),
		Notifier:  bootstrap.BuildNotifier(cfg, logger),
		Metrics:   chatMetrics,
	}, logger)
	if err != nil {
		return err
	}
	defer interview.Close()

	chatHandler := chat.NewHandler(chat.HandlerConfig{
		Service:             interview.Service,
		Registry:            registry,
		GeminiAPIConfigured: cfg.GeminiConfigured(),
		Logger:              logger,
	})

	r := router.New(&router.Config{
		Logger:             logger,
		Chat:               chatHandler,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ChatRateLimiter:    httpmiddleware.NewRateLimiter(cfg.ChatRateLimitPerMinute, cfg.ChatRateLimitBurst),
		StaffJWTSecret:     cfg.StaffJWTSecret,
	})

	// Voice turns can take up to TurnTimeout, so the write deadline has to
	// outlast it.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.TurnTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go registry.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return err
	}
	return nil
}

func setupChatMetrics() (http.Handler, *metrics.ChatMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewChatMetrics(reg)
}
