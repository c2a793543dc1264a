package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prefeitura-rio/app-resume-cache/internal/config"
	"github.com/prefeitura-rio/app-resume-cache/internal/handlers"
	"github.com/prefeitura-rio/app-resume-cache/internal/logging"
	"github.com/prefeitura-rio/app-resume-cache/internal/middleware"
	"github.com/prefeitura-rio/app-resume-cache/internal/observability"
	"github.com/prefeitura-rio/app-resume-cache/internal/services"
	"github.com/prefeitura-rio/app-resume-cache/internal/store"
	"github.com/prefeitura-rio/app-resume-cache/internal/syncqueue"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// @title           Resume Cache API
// @version         1.0
// @description     Administração do cache local e da fila de sincronização offline do gerador de currículos.

// @host      localhost:8080
// @BasePath  /v1

// @tag.name cache
// @tag.description Operações sobre o cache local

// @tag.name sync
// @tag.description Operações sobre a fila de sincronização

// @tag.name health
// @tag.description Health check operations

func main() {
	// .env is optional outside development
	_ = godotenv.Load()

	// Initialize logger first
	if err := logging.InitLogger(); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logging.Logger.Fatal("failed to load config", zap.Error(err))
	}
	cfg := config.AppConfig

	// Initialize observability
	observability.InitTracer(cfg)
	defer observability.ShutdownTracer()

	ctx := context.Background()

	settings, err := services.SettingsFromConfig(cfg)
	if err != nil {
		logging.Logger.Fatal("invalid cache settings", zap.Error(err))
	}
	opener, err := services.OpenerFor(cfg)
	if err != nil {
		logging.Logger.Fatal("invalid store settings", zap.Error(err))
	}

	opts, probe := syncOptions(ctx, cfg)
	if probe != nil {
		probe.Start()
		defer probe.Stop()
	}

	svc := services.NewCacheService(settings, opener, opts...)
	if err := svc.Initialize(ctx); err != nil {
		logging.Logger.Fatal("failed to initialize cache service", zap.Error(err))
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.RequestTiming(),
		cors.Default(),
	)

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.New(svc).Register(router.Group("/v1"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.Logger.Info("starting server",
			zap.Int("port", cfg.Port),
			zap.String("environment", cfg.Environment),
			zap.String("store_driver", cfg.StoreDriver),
			zap.Bool("sync_enabled", settings.EnableSync),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := svc.Destroy(); err != nil {
		logging.Logger.Error("failed to destroy cache service", zap.Error(err))
	}

	logging.Logger.Info("server exited gracefully")
}

// syncOptions connects the sync queue to its remote. With SYNC_REMOTE=none
// it returns no options and the service runs local-only.
func syncOptions(ctx context.Context, cfg *config.Config) ([]services.Option, *syncqueue.ProbeConnectivity) {
	if cfg.SyncRemote == config.RemoteNone || !cfg.EnableSync {
		return nil, nil
	}

	db, err := config.InitMongoDB(ctx, cfg)
	if err != nil {
		logging.Logger.Fatal("failed to initialize MongoDB", zap.Error(err))
	}
	probe := syncqueue.NewProbeConnectivity(syncqueue.MongoPinger(db), cfg.ConnectivityProbeTick)
	probe.Check(ctx)

	opts := []services.Option{
		services.WithApplier(syncqueue.NewMongoApplier(db)),
		services.WithConnectivity(probe),
	}

	if cfg.SyncFailedLog == config.FailedLogRedis {
		client, err := config.InitRedis(ctx, cfg)
		if err != nil {
			logging.Logger.Fatal("failed to initialize Redis", zap.Error(err))
		}
		failedLog := syncqueue.NewRedisFailedLog(client, cfg.SyncNamespace)
		opts = append(opts, services.WithFailedLog(func(context.Context, store.Store) (syncqueue.FailedLog, error) {
			return failedLog, nil
		}))
	}
	return opts, probe
}
