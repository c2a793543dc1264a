package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prefeitura-rio/app-resume-cache/internal/cache"
	"github.com/prefeitura-rio/app-resume-cache/internal/logging"
	"github.com/prefeitura-rio/app-resume-cache/internal/models"
	"github.com/prefeitura-rio/app-resume-cache/internal/repository"
	"github.com/prefeitura-rio/app-resume-cache/internal/store"
	"github.com/prefeitura-rio/app-resume-cache/internal/syncqueue"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Eviction priorities per entity kind. Lower values are evicted first.
const (
	priorityJob      = 1
	priorityAnalysis = 1
	priorityModel    = 2
	priorityUser     = 3
)

// FailedLogFactory builds the failed log once the store is open
type FailedLogFactory func(ctx context.Context, st store.Store) (syncqueue.FailedLog, error)

func storeFailedLog(ctx context.Context, st store.Store) (syncqueue.FailedLog, error) {
	return syncqueue.NewStoreFailedLog(ctx, st)
}

// Option configures a CacheService
type Option func(*CacheService)

// WithApplier sets the remote the sync queue replays into
func WithApplier(a syncqueue.RemoteApplier) Option {
	return func(c *CacheService) { c.applier = a }
}

// WithConnectivity sets the observer driving sync passes. Without one the
// service considers itself always online.
func WithConnectivity(o syncqueue.ConnectivityObserver) Option {
	return func(c *CacheService) { c.connectivity = o }
}

// WithFailedLog replaces the store-backed failed log
func WithFailedLog(f FailedLogFactory) Option {
	return func(c *CacheService) { c.failedLog = f }
}

// WithClock replaces time.Now in the service and its managers
func WithClock(now func() time.Time) Option {
	return func(c *CacheService) { c.now = now }
}

// WithLogger replaces the service logger
func WithLogger(logger *logging.SafeLogger) Option {
	return func(c *CacheService) { c.logger = logger }
}

// components is everything Initialize wires. The eviction and sync
// managers are nil when their subsystem is disabled.
type components struct {
	store     store.Store
	users     *repository.Repository[models.UserProfile]
	jobs      *repository.Repository[models.JobPosting]
	analyses  *repository.Repository[models.AnalysisResult]
	models    *repository.Repository[models.CachedModel]
	eviction  *cache.Manager
	sync      *syncqueue.Manager
	scheduler *cron.Cron
}

// CacheService is the single entry point over the local store. Writes land
// locally first; the eviction metadata and the sync queue follow.
type CacheService struct {
	settings     Settings
	opener       Opener
	applier      syncqueue.RemoteApplier
	connectivity syncqueue.ConnectivityObserver
	failedLog    FailedLogFactory
	now          func() time.Time
	logger       *logging.SafeLogger

	mu       sync.RWMutex
	state    *components
	optimize singleflight.Group
}

// NewCacheService creates an uninitialized service
func NewCacheService(settings Settings, opener Opener, opts ...Option) *CacheService {
	c := &CacheService{
		settings:  settings,
		opener:    opener,
		failedLog: storeFailedLog,
		now:       time.Now,
		logger:    logging.Logger.Named("cache_service"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize opens the store and starts the enabled subsystems. Calling it
// on an initialized service does nothing.
func (c *CacheService) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != nil {
		return nil
	}
	if c.opener == nil {
		return errors.New("cache service needs a store opener")
	}

	st, err := c.opener(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	s := &components{store: st}
	if err := c.wire(ctx, s); err != nil {
		if closeErr := s.close(); closeErr != nil {
			c.logger.Warn("failed to release store after init error", zap.Error(closeErr))
		}
		return err
	}

	c.state = s
	c.logger.Info("cache service initialized",
		zap.Bool("lru", s.eviction != nil),
		zap.Bool("sync", s.sync != nil))
	return nil
}

func (c *CacheService) wire(ctx context.Context, s *components) error {
	var err error
	if s.users, err = repository.New(ctx, s.store, models.CollectionUsers,
		repository.Index[models.UserProfile]{
			Name:   "email",
			Unique: true,
			Value: func(u models.UserProfile) any {
				if u.Email == "" {
					return nil
				}
				return u.Email
			},
		},
	); err != nil {
		return err
	}
	if s.jobs, err = repository.New(ctx, s.store, models.CollectionJobs,
		repository.Index[models.JobPosting]{Name: "company", Value: func(j models.JobPosting) any { return j.Company }},
		repository.Index[models.JobPosting]{Name: "createdAt", Value: func(j models.JobPosting) any { return j.CreatedAt }},
	); err != nil {
		return err
	}
	if s.analyses, err = repository.New(ctx, s.store, models.CollectionAnalyses,
		repository.Index[models.AnalysisResult]{Name: "userId", Value: func(a models.AnalysisResult) any { return a.UserID }},
		repository.Index[models.AnalysisResult]{Name: "jobId", Value: func(a models.AnalysisResult) any { return a.JobID }},
		repository.Index[models.AnalysisResult]{Name: "matchScore", Value: func(a models.AnalysisResult) any { return a.MatchScore }},
		repository.Index[models.AnalysisResult]{Name: "createdAt", Value: func(a models.AnalysisResult) any { return a.CreatedAt }},
	); err != nil {
		return err
	}
	if s.models, err = repository.New(ctx, s.store, models.CollectionCachedModels,
		repository.Index[models.CachedModel]{Name: "name", Value: func(m models.CachedModel) any { return m.Name }},
	); err != nil {
		return err
	}

	if c.settings.EnableLRU {
		s.eviction, err = cache.NewManager(ctx, s.store, c.settings.Eviction, cache.WithClock(c.now))
		if err != nil {
			return fmt.Errorf("failed to create eviction manager: %w", err)
		}
		s.eviction.Register(s.users)
		s.eviction.Register(s.jobs)
		s.eviction.Register(s.analyses)
		s.eviction.Register(s.models)
		s.eviction.Start()
	}

	if c.settings.EnableSync {
		if c.applier == nil {
			return errors.New("sync is enabled but no remote applier is configured")
		}
		connectivity := c.connectivity
		if connectivity == nil {
			connectivity = syncqueue.NewManualConnectivity(true)
		}
		failedLog, err := c.failedLog(ctx, s.store)
		if err != nil {
			return fmt.Errorf("failed to open failed log: %w", err)
		}
		journal, err := syncqueue.NewJournal(ctx, s.store)
		if err != nil {
			return fmt.Errorf("failed to open sync journal: %w", err)
		}
		s.sync, err = syncqueue.NewManager(c.settings.Sync, c.applier, connectivity, failedLog,
			syncqueue.WithJournal(journal),
			syncqueue.WithClock(c.now))
		if err != nil {
			return fmt.Errorf("failed to create sync queue: %w", err)
		}
		if err := s.sync.Start(ctx); err != nil {
			return err
		}
	}

	if c.settings.MaintenanceSchedule != "" {
		s.scheduler = cron.New()
		if _, err := s.scheduler.AddFunc(c.settings.MaintenanceSchedule, c.runMaintenance); err != nil {
			s.scheduler = nil
			return fmt.Errorf("invalid maintenance schedule %q: %w", c.settings.MaintenanceSchedule, err)
		}
		s.scheduler.Start()
	}
	return nil
}

func (c *CacheService) runMaintenance() {
	result, err := c.OptimizeCache(context.Background())
	if err != nil {
		c.logger.Error("scheduled cache optimization failed", zap.Error(err))
		return
	}
	c.logger.Info("scheduled cache optimization finished",
		zap.Int("expired", result.Expired),
		zap.Int("evicted", result.Evicted),
		zap.Int("analyses_pruned", result.AnalysesPruned))
}

// close stops the timers and releases the store
func (s *components) close() error {
	if s.scheduler != nil {
		<-s.scheduler.Stop().Done()
	}
	if s.sync != nil {
		s.sync.Stop()
	}
	if s.eviction != nil {
		s.eviction.Stop()
	}
	return s.store.Close()
}

// Destroy stops every timer and releases the store. It is safe to call more
// than once and before Initialize.
func (c *CacheService) Destroy() error {
	c.mu.Lock()
	s := c.state
	c.state = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	if err := s.close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	c.logger.Info("cache service destroyed")
	return nil
}

func (c *CacheService) current() (*components, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == nil {
		return nil, models.ErrNotInitialized
	}
	return c.state, nil
}

// track records a written key with the eviction manager
func (c *CacheService) track(ctx context.Context, s *components, collection string, record models.Record, priority int, expiresAt *time.Time) error {
	if s.eviction == nil {
		return nil
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to size %s %s: %w", collection, record.GetID(), err)
	}
	return s.eviction.AddToCache(ctx, collection, record.GetID(), int64(len(data)), priority, expiresAt)
}

// enqueue hands a mutation to the sync queue. Queue failures never reach
// the caller of a local write.
func (c *CacheService) enqueue(ctx context.Context, s *components, kind models.MutationKind, collection, id string, payload any) {
	if s.sync == nil {
		return
	}
	if _, err := s.sync.Enqueue(ctx, kind, collection, id, payload); err != nil {
		c.logger.Warn("failed to enqueue mutation",
			zap.String("kind", string(kind)),
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err))
	}
}

func write[T models.Record](ctx context.Context, c *CacheService, s *components, repo *repository.Repository[T], kind models.MutationKind, record T, priority int, expiresAt *time.Time) (T, error) {
	var err error
	if kind == models.MutationCreate {
		record, err = repo.Create(ctx, record)
	} else {
		record, err = repo.Update(ctx, record)
	}
	if err != nil {
		return record, err
	}

	trackErr := c.track(ctx, s, repo.Name(), record, priority, expiresAt)
	c.enqueue(ctx, s, kind, repo.Name(), record.GetID(), record)
	return record, trackErr
}

// lookup reads through the eviction manager so hits refresh the entry.
// Keys it does not track are read straight from the repository.
func lookup[T models.Record](ctx context.Context, s *components, repo *repository.Repository[T], id string) (T, error) {
	if s.eviction != nil {
		record, err := cache.GetAs[T](ctx, s.eviction, repo.Name(), id)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, models.ErrCacheMiss) {
			var zero T
			return zero, err
		}
	}
	return repo.GetByID(ctx, id)
}

func remove[T models.Record](ctx context.Context, c *CacheService, s *components, repo *repository.Repository[T], id string, replicate bool) error {
	if _, err := repo.GetByID(ctx, id); err != nil {
		return err
	}
	if err := repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.eviction != nil {
		if err := s.eviction.Remove(ctx, repo.Name(), id); err != nil {
			c.logger.Warn("failed to drop cache metadata", zap.String("id", id), zap.Error(err))
		}
	}
	if replicate {
		c.enqueue(ctx, s, models.MutationDelete, repo.Name(), id, nil)
	}
	return nil
}

// OptimizeResult aggregates one maintenance pass
type OptimizeResult struct {
	Expired        int `json:"expired"`
	Evicted        int `json:"evicted"`
	AnalysesPruned int `json:"analyses_pruned"`
}

// OptimizeCache runs the eviction cleanup and deletes analyses older than
// the retention window. Concurrent calls share one pass.
func (c *CacheService) OptimizeCache(ctx context.Context) (OptimizeResult, error) {
	s, err := c.current()
	if err != nil {
		return OptimizeResult{}, err
	}

	v, err, _ := c.optimize.Do("optimize", func() (any, error) {
		var result OptimizeResult
		if s.eviction != nil {
			cleanup, err := s.eviction.Cleanup(ctx)
			if err != nil {
				return result, fmt.Errorf("failed to clean up cache: %w", err)
			}
			result.Expired = cleanup.Expired
			result.Evicted = cleanup.Evicted
		}

		pruned, err := c.pruneAnalyses(ctx, s)
		result.AnalysesPruned = pruned
		if err != nil {
			return result, fmt.Errorf("failed to prune analyses: %w", err)
		}
		return result, nil
	})
	result, _ := v.(OptimizeResult)
	return result, err
}

func (c *CacheService) pruneAnalyses(ctx context.Context, s *components) (int, error) {
	if c.settings.AnalysisRetention <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-c.settings.AnalysisRetention)
	stale, err := s.analyses.QueryByIndex(ctx, "createdAt", store.Before(cutoff), repository.QueryOptions{})
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, a := range stale {
		if err := s.analyses.Delete(ctx, a.ID); err != nil {
			return pruned, err
		}
		if s.eviction != nil {
			if err := s.eviction.Remove(ctx, s.analyses.Name(), a.ID); err != nil {
				c.logger.Warn("failed to drop cache metadata", zap.String("id", a.ID), zap.Error(err))
			}
		}
		pruned++
	}
	if pruned > 0 {
		c.logger.Info("pruned old analyses", zap.Int("count", pruned), zap.Time("cutoff", cutoff))
	}
	return pruned, nil
}

// GetCacheStats reports the eviction manager's view of the cache
func (c *CacheService) GetCacheStats(ctx context.Context) (cache.Stats, error) {
	s, err := c.current()
	if err != nil {
		return cache.Stats{}, err
	}
	if s.eviction == nil {
		return cache.Stats{}, fmt.Errorf("lru: %w", models.ErrDisabled)
	}
	return s.eviction.GetCacheStats(ctx)
}

// ClearCache empties every entity collection and the cache metadata. Nothing
// is replicated to the remote.
func (c *CacheService) ClearCache(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	errs := []error{
		s.users.Clear(ctx),
		s.jobs.Clear(ctx),
		s.analyses.Clear(ctx),
		s.models.Clear(ctx),
	}
	if s.eviction != nil {
		errs = append(errs, s.eviction.Clear(ctx))
	}
	return errors.Join(errs...)
}

func (c *CacheService) syncManager() (*syncqueue.Manager, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	if s.sync == nil {
		return nil, fmt.Errorf("sync: %w", models.ErrDisabled)
	}
	return s.sync, nil
}

// SyncNow runs a sync pass, failing with models.ErrOffline when offline
func (c *CacheService) SyncNow(ctx context.Context) (syncqueue.Result, error) {
	m, err := c.syncManager()
	if err != nil {
		return syncqueue.Result{}, err
	}
	return m.ForceSync(ctx)
}

// RetryFailedSync requeues the failed log and runs a pass
func (c *CacheService) RetryFailedSync(ctx context.Context) (syncqueue.Result, error) {
	m, err := c.syncManager()
	if err != nil {
		return syncqueue.Result{}, err
	}
	return m.RetryFailedItems(ctx)
}

func (c *CacheService) GetSyncStatus(ctx context.Context) (syncqueue.Status, error) {
	m, err := c.syncManager()
	if err != nil {
		return syncqueue.Status{}, err
	}
	return m.GetSyncStatus(ctx)
}

func (c *CacheService) GetFailedItems(ctx context.Context) ([]models.SyncQueueItem, error) {
	m, err := c.syncManager()
	if err != nil {
		return nil, err
	}
	return m.GetFailedItems(ctx)
}

func (c *CacheService) ClearFailedItems(ctx context.Context) error {
	m, err := c.syncManager()
	if err != nil {
		return err
	}
	return m.ClearFailedItems(ctx)
}

// NotifyVisible tells the sync queue the application is in the foreground
func (c *CacheService) NotifyVisible() error {
	s, err := c.current()
	if err != nil {
		return err
	}
	if s.sync != nil {
		s.sync.NotifyVisible()
	}
	return nil
}
