// Package syncqueue replays local mutations against a remote with bounded
// retries, exponential backoff and a durable failed log.
package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prefeitura-rio/app-resume-cache/internal/logging"
	"github.com/prefeitura-rio/app-resume-cache/internal/models"
	"github.com/prefeitura-rio/app-resume-cache/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ConflictPolicy decides what happens when the remote copy is newer
type ConflictPolicy string

const (
	LastWriteWins ConflictPolicy = "last-write-wins"
	ClientWins    ConflictPolicy = "client-wins"
	ServerWins    ConflictPolicy = "server-wins"
)

// ParseConflictPolicy accepts the three supported policies
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(s); p {
	case LastWriteWins, ClientWins, ServerWins:
		return p, nil
	case "":
		return LastWriteWins, nil
	}
	return "", fmt.Errorf("unsupported conflict resolution %q", s)
}

// Config tunes the queue. A zero SyncInterval disables the periodic pass.
type Config struct {
	MaxRetries         int
	RetryDelay         time.Duration
	BatchSize          int
	SyncInterval       time.Duration
	ConflictResolution ConflictPolicy
}

// Result counts the outcomes of one sync pass
type Result struct {
	Success  int `json:"success"`
	Failed   int `json:"failed"`
	Resolved int `json:"resolved"`
}

// Status is a snapshot of the queue
type Status struct {
	QueueLength int        `json:"queue_length"`
	IsOnline    bool       `json:"is_online"`
	IsSyncing   bool       `json:"is_syncing"`
	FailedItems int        `json:"failed_items"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
}

// Scheduler runs f once after d, on another goroutine, and returns a func
// that cancels it
type Scheduler func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Option configures a Manager
type Option func(*Manager)

// WithJournal persists the live queue
func WithJournal(j *Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithScheduler replaces time.AfterFunc for retry backoff
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.schedule = s }
}

// WithLogger replaces the package logger
func WithLogger(logger *logging.SafeLogger) Option {
	return func(m *Manager) { m.logger = logger }
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeResolved
	outcomeFailed
)

type applyResult struct {
	item    models.SyncQueueItem
	outcome outcome
	err     error
}

// Manager owns the live queue. Mutations are appended in memory first and
// journaled after, so status reflects an Enqueue before any I/O.
type Manager struct {
	cfg          Config
	applier      RemoteApplier
	connectivity ConnectivityObserver
	failedLog    FailedLog
	journal      *Journal
	now          func() time.Time
	schedule     Scheduler
	logger       *logging.SafeLogger

	mu          sync.Mutex
	queue       []models.SyncQueueItem
	isSyncing   bool
	closed      bool
	lastSyncAt  *time.Time
	timers      map[uint64]func() bool
	nextTimer   uint64
	unsubscribe func()
	// journaling holds ids whose journal write is in flight. A pass skips
	// them so a Delete never lands before the Put it follows.
	journaling map[string]bool

	bg        sync.WaitGroup
	stopChan  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	loopWG    sync.WaitGroup
}

// NewManager creates a queue replaying through applier
func NewManager(cfg Config, applier RemoteApplier, connectivity ConnectivityObserver, failedLog FailedLog, opts ...Option) (*Manager, error) {
	if applier == nil || connectivity == nil || failedLog == nil {
		return nil, errors.New("sync queue needs an applier, a connectivity observer and a failed log")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got %d", cfg.MaxRetries)
	}
	if cfg.RetryDelay <= 0 {
		return nil, fmt.Errorf("retry delay must be positive, got %s", cfg.RetryDelay)
	}
	policy, err := ParseConflictPolicy(string(cfg.ConflictResolution))
	if err != nil {
		return nil, err
	}
	cfg.ConflictResolution = policy

	m := &Manager{
		cfg:          cfg,
		applier:      applier,
		connectivity: connectivity,
		failedLog:    failedLog,
		now:          time.Now,
		schedule:     afterFunc,
		logger:       logging.Logger.Named("sync_queue"),
		timers:       make(map[uint64]func() bool),
		journaling:   make(map[string]bool),
		stopChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start reloads the journal, subscribes to connectivity changes and runs
// the periodic pass.
func (m *Manager) Start(ctx context.Context) error {
	var startErr error
	m.startOnce.Do(func() {
		if m.journal != nil {
			items, err := m.journal.Load(ctx)
			if err != nil {
				startErr = fmt.Errorf("failed to load sync journal: %w", err)
				return
			}
			m.mu.Lock()
			m.appendLocked(items...)
			m.mu.Unlock()
			m.logger.Info("sync journal loaded", zap.Int("items", len(items)))
		}
		if n, err := m.failedLog.Len(ctx); err == nil {
			observability.SyncFailedItems.Set(float64(n))
		}

		unsubscribe := m.connectivity.Subscribe(m.onOnline, m.onOffline)
		m.mu.Lock()
		m.unsubscribe = unsubscribe
		m.mu.Unlock()

		if m.cfg.SyncInterval > 0 {
			m.loopWG.Add(1)
			go m.loop()
		}
		if m.connectivity.IsOnline() {
			m.triggerSync()
		}
	})
	return startErr
}

func (m *Manager) loop() {
	defer m.loopWG.Done()
	ticker := time.NewTicker(m.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			if _, err := m.Sync(context.Background()); err != nil {
				m.logger.Error("periodic sync failed", zap.Error(err))
			}
		}
	}
}

// Stop cancels pending retries and the periodic pass and waits for
// background passes to finish. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		for id, stop := range m.timers {
			stop()
			delete(m.timers, id)
		}
		unsubscribe := m.unsubscribe
		m.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		close(m.stopChan)
		m.loopWG.Wait()
		m.bg.Wait()
	})
}

func (m *Manager) onOnline() {
	m.logger.Info("connectivity restored, syncing")
	m.triggerSync()
}

func (m *Manager) onOffline() {
	m.logger.Warn("connectivity lost, holding mutations locally")
}

// NotifyVisible syncs when the application returns to the foreground
func (m *Manager) NotifyVisible() {
	if m.connectivity.IsOnline() {
		m.triggerSync()
	}
}

// triggerSync runs a pass in the background unless the manager is stopped
func (m *Manager) triggerSync() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.bg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.bg.Done()
		if _, err := m.Sync(context.Background()); err != nil {
			m.logger.Error("background sync failed", zap.Error(err))
		}
	}()
}

// appendLocked adds items whose id is not queued yet
func (m *Manager) appendLocked(items ...models.SyncQueueItem) {
	present := make(map[string]bool, len(m.queue))
	for _, it := range m.queue {
		present[it.ID] = true
	}
	for _, it := range items {
		if present[it.ID] {
			continue
		}
		present[it.ID] = true
		m.queue = append(m.queue, it)
	}
	observability.SyncQueueDepth.Set(float64(len(m.queue)))
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Enqueue appends a mutation and, when online and idle, starts a pass in
// the background. The item is visible in the status before it is journaled.
func (m *Manager) Enqueue(ctx context.Context, kind models.MutationKind, entity, entityID string, payload any) (models.SyncQueueItem, error) {
	if !kind.Valid() {
		return models.SyncQueueItem{}, fmt.Errorf("unknown mutation kind %q", kind)
	}
	data, err := encodePayload(payload)
	if err != nil {
		return models.SyncQueueItem{}, fmt.Errorf("failed to encode %s payload: %w", entity, err)
	}

	item := models.SyncQueueItem{
		ID:         uuid.NewString(),
		Kind:       kind,
		Entity:     entity,
		EntityID:   entityID,
		Payload:    data,
		EnqueuedAt: m.now(),
	}

	m.mu.Lock()
	m.appendLocked(item)
	if m.journal != nil {
		m.journaling[item.ID] = true
	}
	m.mu.Unlock()

	if m.journal != nil {
		err := m.journal.Put(ctx, item)
		m.mu.Lock()
		delete(m.journaling, item.ID)
		m.mu.Unlock()
		if err != nil {
			m.logger.Error("failed to journal sync item",
				zap.String("item_id", item.ID),
				zap.Error(err))
			return item, fmt.Errorf("failed to journal sync item: %w", err)
		}
	}

	m.mu.Lock()
	idle := !m.isSyncing && !m.closed
	m.mu.Unlock()
	if idle && m.connectivity.IsOnline() {
		m.triggerSync()
	}
	return item, nil
}

// eligibleLocked returns queued items not backing off and not being
// journaled, oldest first
func (m *Manager) eligibleLocked(now time.Time) []models.SyncQueueItem {
	var out []models.SyncQueueItem
	for _, it := range m.queue {
		if !it.NextAttemptAt.After(now) && !m.journaling[it.ID] {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}

// Sync runs one pass. It returns a zero Result when offline, when another
// pass is running, or when nothing is eligible, checked in that order.
// Chunks of BatchSize are applied one after another and the members of a
// chunk concurrently.
func (m *Manager) Sync(ctx context.Context) (Result, error) {
	var result Result

	m.mu.Lock()
	if m.closed || !m.connectivity.IsOnline() || m.isSyncing {
		m.mu.Unlock()
		return result, nil
	}
	eligible := m.eligibleLocked(m.now())
	if len(eligible) == 0 {
		m.mu.Unlock()
		return result, nil
	}
	m.isSyncing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.isSyncing = false
		now := m.now()
		m.lastSyncAt = &now
		more := len(m.eligibleLocked(now)) > 0
		m.mu.Unlock()

		// Items enqueued or released from backoff during the pass
		if more && m.connectivity.IsOnline() {
			m.triggerSync()
		}
	}()

	m.logger.Debug("sync pass started", zap.Int("eligible", len(eligible)))

	for start := 0; start < len(eligible); start += m.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if m.stopped() {
			break
		}
		end := min(start+m.cfg.BatchSize, len(eligible))
		chunk := eligible[start:end]

		results := make([]applyResult, len(chunk))
		var g errgroup.Group
		for i, item := range chunk {
			g.Go(func() error {
				results[i] = m.apply(ctx, item)
				return nil
			})
		}
		_ = g.Wait()

		m.settle(ctx, results, &result)
	}

	m.logger.Info("sync pass finished",
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Int("resolved", result.Resolved))
	return result, nil
}

// apply sends one item and applies the conflict policy
func (m *Manager) apply(ctx context.Context, item models.SyncQueueItem) applyResult {
	err := m.applier.Apply(ctx, item)
	if err == nil {
		return applyResult{item: item, outcome: outcomeSuccess}
	}

	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		return applyResult{item: item, outcome: outcomeFailed, err: err}
	}

	force := false
	switch m.cfg.ConflictResolution {
	case ClientWins:
		force = true
	case LastWriteWins:
		force = item.EnqueuedAt.After(conflict.RemoteUpdatedAt)
	}

	m.logger.Info("sync conflict",
		zap.String("item_id", item.ID),
		zap.String("entity", item.Entity),
		zap.String("entity_id", item.EntityID),
		zap.String("policy", string(m.cfg.ConflictResolution)),
		zap.Bool("overwrite", force))

	if !force {
		return applyResult{item: item, outcome: outcomeResolved}
	}
	forced := item
	forced.Force = true
	if err := m.applier.Apply(ctx, forced); err != nil {
		return applyResult{item: item, outcome: outcomeFailed, err: err}
	}
	return applyResult{item: item, outcome: outcomeResolved}
}

// settle removes finished items and runs the failure handling for the
// rest. Journal and failed log writes happen after the lock is released.
func (m *Manager) settle(ctx context.Context, results []applyResult, result *Result) {
	var (
		done    []string
		retried []models.SyncQueueItem
		failed  []models.SyncQueueItem
	)

	m.mu.Lock()
	for _, r := range results {
		switch r.outcome {
		case outcomeSuccess, outcomeResolved:
			m.removeLocked(r.item.ID)
			done = append(done, r.item.ID)
			if r.outcome == outcomeSuccess {
				result.Success++
				observability.SyncOperations.WithLabelValues(r.item.Entity, observability.SyncSuccess).Inc()
			} else {
				result.Resolved++
				observability.SyncOperations.WithLabelValues(r.item.Entity, observability.SyncConflict).Inc()
			}
		case outcomeFailed:
			result.Failed++
			item, exhausted, ok := m.handleSyncFailureLocked(r.item.ID, r.err)
			if !ok {
				continue
			}
			if exhausted {
				failed = append(failed, item)
			} else {
				retried = append(retried, item)
				if m.journal != nil {
					m.journaling[item.ID] = true
				}
			}
		}
	}
	observability.SyncQueueDepth.Set(float64(len(m.queue)))
	m.mu.Unlock()

	if m.journal != nil {
		for _, id := range done {
			if err := m.journal.Delete(ctx, id); err != nil {
				m.logger.Error("failed to drop synced item from journal", zap.String("item_id", id), zap.Error(err))
			}
		}
		for _, item := range retried {
			if err := m.journal.Put(ctx, item); err != nil {
				m.logger.Error("failed to journal retry state", zap.String("item_id", item.ID), zap.Error(err))
			}
		}
		if len(retried) > 0 {
			m.mu.Lock()
			for _, item := range retried {
				delete(m.journaling, item.ID)
			}
			m.mu.Unlock()
		}
	}

	if len(failed) == 0 {
		return
	}
	if err := m.failedLog.Append(ctx, failed...); err != nil {
		m.logger.Error("failed to write failed log", zap.Int("items", len(failed)), zap.Error(err))
	}
	if m.journal != nil {
		for _, item := range failed {
			if err := m.journal.Delete(ctx, item.ID); err != nil {
				m.logger.Error("failed to drop exhausted item from journal", zap.String("item_id", item.ID), zap.Error(err))
			}
		}
	}
	if n, err := m.failedLog.Len(ctx); err == nil {
		observability.SyncFailedItems.Set(float64(n))
	}
}

func (m *Manager) stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) removeLocked(id string) {
	for i, it := range m.queue {
		if it.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// handleSyncFailureLocked bumps the retry count of a queued item. Past
// MaxRetries the item leaves the queue for the failed log; otherwise it
// backs off for backoffDelay and a new pass is scheduled.
func (m *Manager) handleSyncFailureLocked(id string, cause error) (models.SyncQueueItem, bool, bool) {
	idx := -1
	for i, it := range m.queue {
		if it.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.SyncQueueItem{}, false, false
	}

	item := m.queue[idx]
	item.RetryCount++
	item.LastError = cause.Error()

	applyErr := &models.SyncApplyError{ItemID: item.ID, Kind: item.Kind, Entity: item.Entity, Err: cause}

	if item.RetryCount > m.cfg.MaxRetries {
		m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
		observability.SyncOperations.WithLabelValues(item.Entity, observability.SyncFailedLog).Inc()
		m.logger.Error("sync item exhausted its retries",
			zap.String("item_id", item.ID),
			zap.Int("retry_count", item.RetryCount),
			zap.Error(applyErr))
		return item, true, true
	}

	delay := backoffDelay(m.cfg.RetryDelay, item.RetryCount)
	item.NextAttemptAt = m.now().Add(delay)
	m.queue[idx] = item
	observability.SyncOperations.WithLabelValues(item.Entity, observability.SyncFailure).Inc()
	m.logger.Warn("sync item failed, backing off",
		zap.String("item_id", item.ID),
		zap.Int("retry_count", item.RetryCount),
		zap.Duration("delay", delay),
		zap.Error(applyErr))

	if !m.closed {
		timerID := m.nextTimer
		m.nextTimer++
		m.timers[timerID] = m.schedule(delay, func() {
			m.mu.Lock()
			delete(m.timers, timerID)
			m.mu.Unlock()
			m.triggerSync()
		})
	}
	return item, false, true
}

// MaxRetryDelay caps the backoff between two attempts of one item
const MaxRetryDelay = 24 * time.Hour

// backoffDelay is base * 2^(retryCount-1), capped at MaxRetryDelay
func backoffDelay(base time.Duration, retryCount int) time.Duration {
	if retryCount < 1 {
		return min(base, MaxRetryDelay)
	}
	shift := uint(retryCount - 1)
	if shift >= 62 || base > MaxRetryDelay>>shift {
		return MaxRetryDelay
	}
	return min(base<<shift, MaxRetryDelay)
}

// ForceSync runs a pass now, or fails with models.ErrOffline
func (m *Manager) ForceSync(ctx context.Context) (Result, error) {
	if !m.connectivity.IsOnline() {
		return Result{}, models.ErrOffline
	}
	return m.Sync(ctx)
}

// RetryFailedItems moves the failed log back into the queue with fresh
// retry counts and runs a pass. Only the entries it read leave the log, so
// items failing meanwhile stay there. Each item is journaled before it is
// removed from the log; a crash in between retries it twice at worst.
func (m *Manager) RetryFailedItems(ctx context.Context) (Result, error) {
	items, err := m.failedLog.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read failed log: %w", err)
	}
	if len(items) == 0 {
		return m.Sync(ctx)
	}

	for i := range items {
		items[i].RetryCount = 0
		items[i].LastError = ""
		items[i].NextAttemptAt = time.Time{}
		items[i].Force = false
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	if m.journal != nil {
		for _, item := range items {
			if err := m.journal.Put(ctx, item); err != nil {
				return Result{}, fmt.Errorf("failed to journal retried item %s: %w", item.ID, err)
			}
		}
	}
	if err := m.failedLog.Remove(ctx, ids...); err != nil {
		return Result{}, fmt.Errorf("failed to remove retried items from failed log: %w", err)
	}
	if n, err := m.failedLog.Len(ctx); err == nil {
		observability.SyncFailedItems.Set(float64(n))
	}

	m.mu.Lock()
	m.appendLocked(items...)
	m.mu.Unlock()

	m.logger.Info("retrying failed items", zap.Int("items", len(items)))
	return m.Sync(ctx)
}

// GetSyncStatus reports the queue state
func (m *Manager) GetSyncStatus(ctx context.Context) (Status, error) {
	failed, err := m.failedLog.Len(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to count failed items: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		QueueLength: len(m.queue),
		IsOnline:    m.connectivity.IsOnline(),
		IsSyncing:   m.isSyncing,
		FailedItems: failed,
		LastSyncAt:  m.lastSyncAt,
	}, nil
}

// Pending returns a copy of the live queue
func (m *Manager) Pending() []models.SyncQueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.SyncQueueItem, len(m.queue))
	copy(out, m.queue)
	return out
}

func (m *Manager) GetFailedItems(ctx context.Context) ([]models.SyncQueueItem, error) {
	return m.failedLog.List(ctx)
}

func (m *Manager) ClearFailedItems(ctx context.Context) error {
	if err := m.failedLog.Clear(ctx); err != nil {
		return err
	}
	observability.SyncFailedItems.Set(0)
	return nil
}
