package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"expander/internal/http/handlers"
	httpapi "expander/internal/http/httpapi"
	"expander/internal/imagegen"
	"expander/internal/infra"
	"expander/internal/infra/geoip"
	"expander/internal/middleware"
	"expander/internal/scheduler"
	"expander/internal/storage"
)

func main() {
	// Load .env when present (optional).
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()
	sqlRunner := infra.NewSQLRunner(pool, logger)

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	apiKey := strings.TrimSpace(cfg.ImageGenAPIKey)
	if apiKey == "" {
		logger.Warn().Msg("imagegen api key missing, expansion calls will fail")
	}
	client := imagegen.NewClient(imagegen.Options{
		BaseURL:       cfg.ImageGenBaseURL,
		APIKey:        apiKey,
		RatePerMinute: cfg.ImageGenRatePerMin,
	})
	executor := scheduler.NewClientExecutor(client, cfg.ExpandCallTimeout, cfg.ImageGenMaxImages)
	batches := scheduler.NewRunner(executor, scheduler.Config{
		Concurrency: cfg.ExpandConcurrency,
		ItemDelay:   cfg.ExpandItemDelay,
		RetryDelay:  cfg.ExpandRetryDelay,
	}, logger)

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip unavailable, locale falls back to headers")
	} else if resolver != nil {
		lookup = resolver.CountryCode
	}

	app := &handlers.App{
		SQL:     sqlRunner,
		Runner:  batches,
		Store:   fileStore,
		Fetcher: &http.Client{Timeout: 60 * time.Second},
		Logger:  logger,
		BaseCtx: ctx,
	}
	router := httpapi.NewRouter(app, cfg, logger, lookup)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	// Stop the active batch before the listener so in-flight expansion calls
	// abort promptly.
	batches.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
