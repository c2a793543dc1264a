// Package cache implements size, item-count and TTL budgets over the
// repositories of the local store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prefeitura-rio/app-resume-cache/internal/logging"
	"github.com/prefeitura-rio/app-resume-cache/internal/models"
	"github.com/prefeitura-rio/app-resume-cache/internal/observability"
	"github.com/prefeitura-rio/app-resume-cache/internal/repository"
	"github.com/prefeitura-rio/app-resume-cache/internal/store"
	"go.uber.org/zap"
)

const evictionTargetRatio = 0.8

// Collection is a repository the manager can read and evict from
type Collection interface {
	Name() string
	Find(ctx context.Context, id string) (models.Record, error)
	Delete(ctx context.Context, id string) error
}

// Config bounds the cache. A zero TTL disables idle expiry and a zero
// CleanupInterval disables the periodic cleanup.
type Config struct {
	MaxSizeBytes    int64
	MaxItems        int
	TTL             time.Duration
	CleanupInterval time.Duration
}

// Stats summarises the cache-managed entries
type Stats struct {
	TotalSizeBytes int64      `json:"total_size_bytes"`
	TotalItems     int        `json:"total_items"`
	TotalAccesses  int64      `json:"total_accesses"`
	HitRate        float64    `json:"hit_rate"`
	OldestAccess   *time.Time `json:"oldest_access,omitempty"`
	NewestAccess   *time.Time `json:"newest_access,omitempty"`
}

// CleanupResult counts the entries removed by one cleanup pass
type CleanupResult struct {
	Expired int `json:"expired"`
	Evicted int `json:"evicted"`
}

// Manager owns the cacheMetadata collection. Public operations are
// serialised by one mutex.
type Manager struct {
	cfg         Config
	meta        *repository.Repository[models.CacheMetadata]
	collections map[string]Collection
	now         func() time.Time
	logger      *logging.SafeLogger

	mu        sync.Mutex
	stopChan  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger replaces the package logger
func WithLogger(logger *logging.SafeLogger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager registers the metadata collection on st
func NewManager(ctx context.Context, st store.Store, cfg Config, opts ...Option) (*Manager, error) {
	if cfg.MaxSizeBytes <= 0 || cfg.MaxItems <= 0 {
		return nil, fmt.Errorf("cache budgets must be positive: size=%d items=%d", cfg.MaxSizeBytes, cfg.MaxItems)
	}

	meta, err := repository.New(ctx, st, models.CollectionCacheMetadata,
		repository.Index[models.CacheMetadata]{
			Name:  "lastAccessed",
			Value: func(m models.CacheMetadata) any { return m.LastAccessed },
		},
	)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg,
		meta:        meta,
		collections: make(map[string]Collection),
		now:         time.Now,
		logger:      logging.Logger.Named("eviction"),
		stopChan:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Register makes a repository's records evictable
func (m *Manager) Register(coll Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[coll.Name()] = coll
}

// Start runs Cleanup every CleanupInterval until Stop
func (m *Manager) Start() {
	if m.cfg.CleanupInterval <= 0 {
		return
	}
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.loop()
	})
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("cache cleanup started", zap.Duration("interval", m.cfg.CleanupInterval))
	for {
		select {
		case <-m.stopChan:
			m.logger.Info("cache cleanup stopped")
			return
		case <-ticker.C:
			if _, err := m.Cleanup(context.Background()); err != nil {
				m.logger.Error("periodic cache cleanup failed", zap.Error(err))
			}
		}
	}
}

// Stop ends the periodic cleanup. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

// entries loads every metadata row
func (m *Manager) entries(ctx context.Context) ([]models.CacheMetadata, error) {
	var out []models.CacheMetadata
	for entry, err := range m.meta.Scan(ctx, "", store.All(), repository.QueryOptions{}) {
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func totals(entries []models.CacheMetadata) (int64, int) {
	var size int64
	for _, e := range entries {
		size += e.SizeBytes
	}
	return size, len(entries)
}

func (m *Manager) defaultTargets() (int64, int) {
	return int64(float64(m.cfg.MaxSizeBytes) * evictionTargetRatio),
		int(float64(m.cfg.MaxItems) * evictionTargetRatio)
}

// AddToCache starts tracking record id of collection. If the store would
// exceed a budget with the new entry, least valuable entries are evicted
// first so that both budgets hold after it returns. When eviction cannot
// make room the entry is not tracked and models.ErrBudgetExceeded is
// returned.
func (m *Manager) AddToCache(ctx context.Context, collection, id string, sizeBytes int64, priority int, expiresAt *time.Time) error {
	key := models.CacheKey(collection, id)
	if sizeBytes > m.cfg.MaxSizeBytes {
		return fmt.Errorf("%w: %s is %d bytes, budget is %d", models.ErrEntryTooLarge, key, sizeBytes, m.cfg.MaxSizeBytes)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.entries(ctx)
	if err != nil {
		return err
	}
	others := make([]models.CacheMetadata, 0, len(all))
	for _, e := range all {
		if e.Key != key {
			others = append(others, e)
		}
	}

	size, items := totals(others)
	if size+sizeBytes > m.cfg.MaxSizeBytes || items+1 > m.cfg.MaxItems {
		targetSize, targetItems := m.defaultTargets()
		targetSize = min(targetSize, m.cfg.MaxSizeBytes-sizeBytes)
		targetItems = min(targetItems, m.cfg.MaxItems-1)

		var evicted []string
		others, evicted = m.evict(ctx, others, targetSize, targetItems)
		m.logger.Debug("evicted entries to admit new key",
			zap.String("key", key),
			zap.Int("evicted", len(evicted)))
		size, items = totals(others)
		if size+sizeBytes > m.cfg.MaxSizeBytes || items+1 > m.cfg.MaxItems {
			m.publish(others)
			return fmt.Errorf("%w: %s needs %d bytes, %d bytes in %d entries could not be evicted",
				models.ErrBudgetExceeded, key, sizeBytes, size, items)
		}
	}

	entry := models.CacheMetadata{
		Key:          key,
		Collection:   collection,
		RecordID:     id,
		SizeBytes:    sizeBytes,
		LastAccessed: m.now(),
		AccessCount:  1,
		Priority:     priority,
		ExpiresAt:    expiresAt,
	}
	if _, err := m.meta.Update(ctx, entry); err != nil {
		return fmt.Errorf("failed to track cache entry %s: %w", key, err)
	}

	observability.CacheSizeBytes.Set(float64(size + sizeBytes))
	observability.CacheItems.Set(float64(items + 1))
	return nil
}

// evict deletes from the front of the (priority, lastAccessed) order
// until both targets hold. It returns the surviving entries and the
// evicted keys. Failed deletions are logged and skipped.
func (m *Manager) evict(ctx context.Context, entries []models.CacheMetadata, targetSize int64, targetItems int) ([]models.CacheMetadata, []string) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.Before(b.LastAccessed)
		}
		return a.Key < b.Key
	})

	size, items := totals(entries)
	survivors := make([]models.CacheMetadata, 0, len(entries))
	var evicted []string

	for i, e := range entries {
		if size <= targetSize && items <= targetItems {
			survivors = append(survivors, entries[i:]...)
			break
		}
		if err := m.deleteEntry(ctx, e); err != nil {
			m.logger.Warn("skipping entry that could not be evicted", zap.Error(err))
			survivors = append(survivors, e)
			continue
		}
		size -= e.SizeBytes
		items--
		evicted = append(evicted, e.Key)
	}

	if len(evicted) > 0 {
		observability.CacheEvictions.WithLabelValues("lru").Add(float64(len(evicted)))
	}
	return survivors, evicted
}

// deleteEntry removes the record and then its metadata
func (m *Manager) deleteEntry(ctx context.Context, e models.CacheMetadata) error {
	if coll, ok := m.collections[e.Collection]; ok {
		if err := coll.Delete(ctx, e.RecordID); err != nil {
			return &models.EvictionDeleteError{Key: e.Key, Collection: e.Collection, Err: err}
		}
	} else {
		m.logger.Warn("cache entry belongs to an unregistered collection",
			zap.String("key", e.Key),
			zap.String("collection", e.Collection))
	}
	if err := m.meta.Delete(ctx, e.Key); err != nil {
		return &models.EvictionDeleteError{Key: e.Key, Collection: e.Collection, Err: err}
	}
	return nil
}

// Get returns record id of collection if it is tracked and not expired. A
// hit refreshes lastAccessed and bumps accessCount; an expired entry is
// deleted and reported as a miss.
func (m *Manager) Get(ctx context.Context, collection, id string) (models.Record, error) {
	key := models.CacheKey(collection, id)
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.meta.GetByID(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		observability.CacheLookups.WithLabelValues("miss").Inc()
		return nil, models.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	now := m.now()
	if entry.Expired(now, m.cfg.TTL) {
		observability.CacheLookups.WithLabelValues("expired").Inc()
		if err := m.deleteEntry(ctx, entry); err != nil {
			m.logger.Warn("failed to delete expired entry", zap.Error(err))
		} else {
			observability.CacheEvictions.WithLabelValues("expired").Inc()
		}
		return nil, models.ErrCacheMiss
	}

	coll, ok := m.collections[entry.Collection]
	if !ok {
		observability.CacheLookups.WithLabelValues("miss").Inc()
		return nil, models.ErrCacheMiss
	}
	record, err := coll.Find(ctx, entry.RecordID)
	if errors.Is(err, models.ErrNotFound) {
		// metadata outlived its record
		if err := m.meta.Delete(ctx, key); err != nil {
			m.logger.Warn("failed to drop orphaned metadata", zap.String("key", key), zap.Error(err))
		}
		observability.CacheLookups.WithLabelValues("miss").Inc()
		return nil, models.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	entry.AccessCount++
	entry.LastAccessed = now
	if _, err := m.meta.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record access to %s: %w", key, err)
	}
	observability.CacheLookups.WithLabelValues("hit").Inc()
	return record, nil
}

// GetAs is Get with the record asserted to T
func GetAs[T models.Record](ctx context.Context, m *Manager, collection, id string) (T, error) {
	var zero T
	record, err := m.Get(ctx, collection, id)
	if err != nil {
		return zero, err
	}
	typed, ok := record.(T)
	if !ok {
		return zero, fmt.Errorf("cache entry %s holds %T", models.CacheKey(collection, id), record)
	}
	return typed, nil
}

// Remove stops tracking record id of collection without touching the record
func (m *Manager) Remove(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta.Delete(ctx, models.CacheKey(collection, id))
}

// Clear drops every metadata row
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.meta.Clear(ctx); err != nil {
		return err
	}
	observability.CacheSizeBytes.Set(0)
	observability.CacheItems.Set(0)
	return nil
}

// EvictLRU evicts down to 80% of both budgets
func (m *Manager) EvictLRU(ctx context.Context) (int, error) {
	targetSize, targetItems := m.defaultTargets()
	return m.EvictTo(ctx, targetSize, targetItems)
}

// EvictTo evicts until size <= targetSize and items <= targetItems
func (m *Manager) EvictTo(ctx context.Context, targetSize int64, targetItems int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.entries(ctx)
	if err != nil {
		return 0, err
	}
	survivors, evicted := m.evict(ctx, all, targetSize, targetItems)
	m.publish(survivors)
	return len(evicted), nil
}

// RemoveExpired deletes every expired entry
func (m *Manager) RemoveExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, removed, err := m.removeExpired(ctx)
	return removed, err
}

func (m *Manager) removeExpired(ctx context.Context) ([]models.CacheMetadata, int, error) {
	all, err := m.entries(ctx)
	if err != nil {
		return nil, 0, err
	}

	now := m.now()
	live := make([]models.CacheMetadata, 0, len(all))
	removed := 0
	for _, e := range all {
		if !e.Expired(now, m.cfg.TTL) {
			live = append(live, e)
			continue
		}
		if err := m.deleteEntry(ctx, e); err != nil {
			m.logger.Warn("failed to delete expired entry", zap.Error(err))
			live = append(live, e)
			continue
		}
		removed++
	}
	if removed > 0 {
		observability.CacheEvictions.WithLabelValues("expired").Add(float64(removed))
	}
	return live, removed, nil
}

// Cleanup removes expired entries, then evicts only if still over budget
func (m *Manager) Cleanup(ctx context.Context) (CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result CleanupResult
	live, removed, err := m.removeExpired(ctx)
	if err != nil {
		return result, err
	}
	result.Expired = removed

	size, items := totals(live)
	if size > m.cfg.MaxSizeBytes || items > m.cfg.MaxItems {
		targetSize, targetItems := m.defaultTargets()
		var evicted []string
		live, evicted = m.evict(ctx, live, targetSize, targetItems)
		result.Evicted = len(evicted)
	}
	m.publish(live)

	m.logger.Info("cache cleanup finished",
		zap.Int("expired", result.Expired),
		zap.Int("evicted", result.Evicted))
	return result, nil
}

// GetCacheStats reports totals over the tracked entries
func (m *Manager) GetCacheStats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.entries(ctx)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	stats.TotalSizeBytes, stats.TotalItems = totals(all)
	for _, e := range all {
		stats.TotalAccesses += e.AccessCount
	}
	if stats.TotalAccesses > 0 {
		stats.HitRate = float64(stats.TotalItems) / float64(stats.TotalAccesses)
	}

	oldest, err := m.meta.QueryByIndex(ctx, "lastAccessed", store.All(), repository.QueryOptions{Limit: 1})
	if err != nil {
		return Stats{}, err
	}
	newest, err := m.meta.QueryByIndex(ctx, "lastAccessed", store.All(), repository.QueryOptions{Limit: 1, Direction: store.Descending})
	if err != nil {
		return Stats{}, err
	}
	if len(oldest) == 1 {
		t := oldest[0].LastAccessed
		stats.OldestAccess = &t
	}
	if len(newest) == 1 {
		t := newest[0].LastAccessed
		stats.NewestAccess = &t
	}

	m.publish(all)
	return stats, nil
}

func (m *Manager) publish(entries []models.CacheMetadata) {
	size, items := totals(entries)
	observability.CacheSizeBytes.Set(float64(size))
	observability.CacheItems.Set(float64(items))
}
