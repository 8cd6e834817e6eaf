package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"coloringbook/internal/adapter/repo"
	"coloringbook/internal/domain"
	"coloringbook/internal/http/handlers"
	"coloringbook/internal/http/httpapi"
	"coloringbook/internal/infra"
	"coloringbook/internal/orchestrator"
	"coloringbook/internal/providers/hf"
	"coloringbook/internal/providers/image"
	"coloringbook/internal/providers/replicate"
	"coloringbook/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	var jobs domain.JobRepository
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		jobs = repo.NewJobRepository(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, keeping job records in memory")
		jobs = repo.NewJobRepositoryMemory()
	}

	var store *storage.FileStore
	if cfg.StoragePath != "" {
		store, err = storage.NewFileStore(cfg.StoragePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure storage")
		}
	}

	gateway := newGateway(cfg, &logger)

	orc, err := orchestrator.New(orchestrator.Options{
		Gateway:      gateway,
		Jobs:         jobs,
		Logger:       &logger,
		MaxAttempts:  cfg.RetryMaxAttempts,
		RetryDelay:   cfg.RetryDelay,
		PollInterval: cfg.PollInterval,
		JobDeadline:  cfg.JobDeadline,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure orchestrator")
	}

	app := handlers.NewApp(orc, jobs, store, logger)
	router := httpapi.NewRouter(app, cfg.AnonymousDailyLimit)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("provider", cfg.ImageProvider).Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func newGateway(cfg *infra.Config, logger *infra.Logger) image.Gateway {
	switch cfg.ImageProvider {
	case "replicate":
		return replicate.NewClient(replicate.Options{
			APIToken:       cfg.ReplicateAPIToken,
			BaseURL:        cfg.ReplicateBaseURL,
			Version:        cfg.ReplicateVersion,
			Logger:         logger,
			RequestTimeout: cfg.ProviderCallTimeout,
		})
	default:
		return hf.NewClient(hf.Options{
			APIToken:       cfg.HFAPIToken,
			BaseURL:        cfg.HFBaseURL,
			Logger:         logger,
			RequestTimeout: cfg.ProviderCallTimeout,
		})
	}
}
