// Command sync drains the persisted sync queue once against the remote and
// exits. Failed items are moved back into the queue first. Run it while the
// API is stopped, since both open the same local store.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prefeitura-rio/app-resume-cache/internal/config"
	"github.com/prefeitura-rio/app-resume-cache/internal/logging"
	"github.com/prefeitura-rio/app-resume-cache/internal/services"
	"github.com/prefeitura-rio/app-resume-cache/internal/store"
	"github.com/prefeitura-rio/app-resume-cache/internal/syncqueue"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		log.Fatal("Failed to load config:", err)
	}
	cfg := config.AppConfig

	// Initialize logging
	if err := logging.InitLogger(); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logging.Logger.Sync()

	if cfg.SyncRemote == config.RemoteNone {
		logging.Logger.Info("SYNC_REMOTE is none, nothing to drain")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	db, err := config.InitMongoDB(ctx, cfg)
	if err != nil {
		logging.Logger.Fatal("failed to initialize MongoDB", zap.Error(err))
	}
	defer func() {
		if err := db.Client().Disconnect(context.Background()); err != nil {
			logging.Logger.Warn("failed to disconnect from MongoDB", zap.Error(err))
		}
	}()

	probe := syncqueue.NewProbeConnectivity(syncqueue.MongoPinger(db), 0)
	if !probe.Check(ctx) {
		logging.Logger.Fatal("remote unreachable, queue left untouched")
	}

	settings, err := services.SettingsFromConfig(cfg)
	if err != nil {
		logging.Logger.Fatal("invalid cache settings", zap.Error(err))
	}
	// Only the queue matters for a drain
	settings.EnableLRU = false
	settings.EnableSync = true
	settings.MaintenanceSchedule = ""
	settings.Sync.SyncInterval = 0

	opener, err := services.OpenerFor(cfg)
	if err != nil {
		logging.Logger.Fatal("invalid store settings", zap.Error(err))
	}

	opts := []services.Option{
		services.WithApplier(syncqueue.NewMongoApplier(db)),
		services.WithConnectivity(probe),
	}
	if cfg.SyncFailedLog == config.FailedLogRedis {
		client, err := config.InitRedis(ctx, cfg)
		if err != nil {
			logging.Logger.Fatal("failed to initialize Redis", zap.Error(err))
		}
		defer client.Close()
		failedLog := syncqueue.NewRedisFailedLog(client, cfg.SyncNamespace)
		opts = append(opts, services.WithFailedLog(func(context.Context, store.Store) (syncqueue.FailedLog, error) {
			return failedLog, nil
		}))
	}

	svc := services.NewCacheService(settings, opener, opts...)
	if err := svc.Initialize(ctx); err != nil {
		logging.Logger.Fatal("failed to initialize cache service", zap.Error(err))
	}
	defer func() {
		if err := svc.Destroy(); err != nil {
			logging.Logger.Error("failed to destroy cache service", zap.Error(err))
		}
	}()

	retried, err := svc.RetryFailedSync(ctx)
	if err != nil {
		logging.Logger.Error("failed to retry failed items", zap.Error(err))
		return
	}
	drained, err := svc.SyncNow(ctx)
	if err != nil {
		logging.Logger.Error("failed to drain queue", zap.Error(err))
		return
	}

	status, err := svc.GetSyncStatus(ctx)
	if err != nil {
		logging.Logger.Error("failed to read sync status", zap.Error(err))
		return
	}
	logging.Logger.Info("sync drain finished",
		zap.Int("success", retried.Success+drained.Success),
		zap.Int("failed", retried.Failed+drained.Failed),
		zap.Int("resolved", retried.Resolved+drained.Resolved),
		zap.Int("queue_length", status.QueueLength),
		zap.Int("failed_items", status.FailedItems))
}
