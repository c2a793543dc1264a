package services

import (
	"context"
	"fmt"
	"time"

	"github.com/prefeitura-rio/app-resume-cache/internal/cache"
	"github.com/prefeitura-rio/app-resume-cache/internal/config"
	"github.com/prefeitura-rio/app-resume-cache/internal/store"
	"github.com/prefeitura-rio/app-resume-cache/internal/syncqueue"
)

// Opener opens the local store during Initialize
type Opener func(ctx context.Context) (store.Store, error)

// MemoryOpener opens a fresh in-memory store
func MemoryOpener() Opener {
	return func(ctx context.Context) (store.Store, error) {
		return store.NewMemoryStore(), nil
	}
}

// SQLiteOpener opens the SQLite database at path
func SQLiteOpener(path string) Opener {
	return func(ctx context.Context) (store.Store, error) {
		return store.OpenSQLite(ctx, path)
	}
}

// OpenerFor picks the opener matching cfg.StoreDriver
func OpenerFor(cfg *config.Config) (Opener, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		return MemoryOpener(), nil
	case config.StoreDriverSQLite:
		return SQLiteOpener(cfg.StorePath), nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// Settings configures a CacheService. EnableLRU and EnableSync switch the
// eviction and sync subsystems off independently.
type Settings struct {
	EnableLRU           bool
	EnableSync          bool
	Eviction            cache.Config
	Sync                syncqueue.Config
	AnalysisRetention   time.Duration
	MaintenanceSchedule string
	PhoneRegion         string
}

// DefaultSettings matches the configuration defaults
func DefaultSettings() Settings {
	return Settings{
		EnableLRU:  true,
		EnableSync: true,
		Eviction: cache.Config{
			MaxSizeBytes:    50 * 1024 * 1024,
			MaxItems:        1000,
			TTL:             7 * 24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Sync: syncqueue.Config{
			MaxRetries:         3,
			RetryDelay:         time.Second,
			BatchSize:          10,
			SyncInterval:       30 * time.Second,
			ConflictResolution: syncqueue.LastWriteWins,
		},
		AnalysisRetention: 30 * 24 * time.Hour,
		PhoneRegion:       "BR",
	}
}

// SettingsFromConfig maps the environment configuration onto Settings
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	policy, err := syncqueue.ParseConflictPolicy(cfg.SyncConflictResolution)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		EnableLRU:  cfg.EnableLRU,
		EnableSync: cfg.EnableSync && cfg.SyncRemote != config.RemoteNone,
		Eviction: cache.Config{
			MaxSizeBytes:    cfg.CacheMaxSizeBytes,
			MaxItems:        cfg.CacheMaxItems,
			TTL:             cfg.CacheTTL,
			CleanupInterval: cfg.CacheCleanupInterval,
		},
		Sync: syncqueue.Config{
			MaxRetries:         cfg.SyncMaxRetries,
			RetryDelay:         cfg.SyncRetryDelay,
			BatchSize:          cfg.SyncBatchSize,
			SyncInterval:       cfg.SyncInterval,
			ConflictResolution: policy,
		},
		AnalysisRetention:   cfg.AnalysisRetention,
		MaintenanceSchedule: cfg.MaintenanceSchedule,
		PhoneRegion:         cfg.DefaultPhoneRegion,
	}, nil
}
