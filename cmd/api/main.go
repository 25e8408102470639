package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"iconforge/internal/adapter/repo"
	"iconforge/internal/cache"
	"iconforge/internal/credits"
	"iconforge/internal/generation"
	"iconforge/internal/http/handlers"
	httpapi "iconforge/internal/http/httpapi"
	"iconforge/internal/infra"
	"iconforge/internal/keypool"
	"iconforge/internal/provider/freepik"
	"iconforge/internal/render"
	"iconforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	// Redis is optional. Without it, reads fall through to Postgres.
	var genCache cache.GenerationCache = cache.NewNoop()
	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, running without cache")
	} else if redisClient != nil {
		defer redisClient.Close()
		genCache = cache.NewRedis(redisClient, logger)
	}

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init blob store")
	}

	ledger := credits.NewLedger(repo.NewCreditRepository(dbpool), logger)
	keys := keypool.NewPool(repo.NewAPIKeyRepository(dbpool), logger)
	provider := freepik.NewClient(freepik.Options{BaseURL: cfg.FreepikBaseURL})

	svc := generation.NewService(generation.Config{
		Generations: repo.NewGenerationRepository(dbpool),
		Ledger:      ledger,
		Keys:        keys,
		Cache:       genCache,
		Provider:    provider,
		Store:       store,
		Renderer:    render.NewSVGRenderer(),
		Logger:      logger,
		WebhookBase: cfg.PublicBaseURL,
	})

	app := handlers.NewApp(cfg, logger, svc, ledger, store)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
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
