package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prefeitura-rio/app-resume-cache/internal/models"
	"github.com/prefeitura-rio/app-resume-cache/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingScheduler captures backoff delays without ever firing
type recordingScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingScheduler) Schedule(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return func() bool { return true }
}

func (s *recordingScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type harness struct {
	ctx       context.Context
	store     store.Store
	clock     *fakeClock
	scheduler *recordingScheduler
	conn      *ManualConnectivity
	failedLog *StoreFailedLog
	manager   *Manager
}

func defaultConfig() Config {
	return Config{MaxRetries: 2, RetryDelay: time.Second, BatchSize: 10}
}

func newHarness(t *testing.T, cfg Config, applier RemoteApplier, online bool, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	failedLog, err := NewStoreFailedLog(ctx, st)
	require.NoError(t, err)

	h := &harness{
		ctx:       ctx,
		store:     st,
		clock:     newFakeClock(),
		scheduler: &recordingScheduler{},
		conn:      NewManualConnectivity(online),
		failedLog: failedLog,
	}
	opts = append([]Option{WithClock(h.clock.Now), WithScheduler(h.scheduler.Schedule)}, opts...)
	h.manager, err = NewManager(cfg, applier, h.conn, failedLog, opts...)
	require.NoError(t, err)
	t.Cleanup(h.manager.Stop)
	return h
}

// enqueue adds an update one clock tick after the previous one
func (h *harness) enqueue(t *testing.T, entityID string) models.SyncQueueItem {
	t.Helper()
	h.clock.Advance(time.Millisecond)
	item, err := h.manager.Enqueue(h.ctx, models.MutationUpdate, models.CollectionJobs, entityID,
		models.JobPosting{ID: entityID, Title: "Engineer"})
	require.NoError(t, err)
	return item
}

func (h *harness) status(t *testing.T) Status {
	t.Helper()
	s, err := h.manager.GetSyncStatus(h.ctx)
	require.NoError(t, err)
	return s
}

// countingApplier records every call and fails while err is set
type countingApplier struct {
	mu    sync.Mutex
	calls []models.SyncQueueItem
	err   error
}

func (a *countingApplier) Apply(ctx context.Context, item models.SyncQueueItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, item)
	return a.err
}

func (a *countingApplier) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *countingApplier) Calls() []models.SyncQueueItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.SyncQueueItem(nil), a.calls...)
}

func TestParseConflictPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ConflictPolicy
		wantErr bool
	}{
		{in: "last-write-wins", want: LastWriteWins},
		{in: "client-wins", want: ClientWins},
		{in: "server-wins", want: ServerWins},
		{in: "", want: LastWriteWins},
		{in: "merge", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConflictPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewManager_Validation(t *testing.T) {
	conn := NewManualConnectivity(true)
	failedLog, err := NewStoreFailedLog(context.Background(), store.NewMemoryStore())
	require.NoError(t, err)
	applier := &countingApplier{}

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "zero batch", cfg: Config{MaxRetries: 1, RetryDelay: time.Second}},
		{name: "negative retries", cfg: Config{MaxRetries: -1, RetryDelay: time.Second, BatchSize: 1}},
		{name: "zero delay", cfg: Config{MaxRetries: 1, BatchSize: 1}},
		{name: "merge policy", cfg: Config{MaxRetries: 1, RetryDelay: time.Second, BatchSize: 1, ConflictResolution: "merge"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cfg, applier, conn, failedLog)
			assert.Error(t, err)
		})
	}

	_, err = NewManager(defaultConfig(), nil, conn, failedLog)
	assert.Error(t, err)
}

func TestEnqueue_VisibleBeforeSync(t *testing.T) {
	h := newHarness(t, defaultConfig(), &countingApplier{}, false)

	item := h.enqueue(t, "job-1")
	assert.NotEmpty(t, item.ID)
	assert.Zero(t, item.RetryCount)
	var job models.JobPosting
	require.NoError(t, json.Unmarshal(item.Payload, &job))
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "Engineer", job.Title)

	status := h.status(t)
	assert.Equal(t, 1, status.QueueLength)
	assert.False(t, status.IsOnline)
	assert.False(t, status.IsSyncing)

	_, err := h.manager.Enqueue(h.ctx, models.MutationKind("upsert"), models.CollectionJobs, "job-1", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, h.status(t).QueueLength)
}

func TestSync_OfflineLeavesQueueUntouched(t *testing.T) {
	applier := &countingApplier{}
	h := newHarness(t, defaultConfig(), applier, false)
	h.enqueue(t, "job-1")

	result, err := h.manager.Sync(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)

	_, err = h.manager.ForceSync(h.ctx)
	assert.ErrorIs(t, err, models.ErrOffline)
	assert.EqualError(t, err, "cannot sync while offline")

	pending := h.manager.Pending()
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].RetryCount)
	assert.Empty(t, applier.Calls())
}

func TestSync_AppliesAndRemoves(t *testing.T) {
	applier := &countingApplier{}
	h := newHarness(t, defaultConfig(), applier, false)
	first := h.enqueue(t, "job-1")
	second := h.enqueue(t, "job-2")
	h.conn.SetOnline(true)

	result, err := h.manager.ForceSync(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Success: 2}, result)
	assert.Zero(t, h.status(t).QueueLength)
	assert.NotNil(t, h.status(t).LastSyncAt)

	var ids []string
	for _, c := range applier.Calls() {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	result, err = h.manager.Sync(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func receiveN(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	var out []string
	for len(out) < n {
		select {
		case v := <-ch:
			out = append(out, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d calls", len(out), n)
		}
	}
	return out
}

func assertNoMore(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected call for %s", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSync_ChunksRunSequentially(t *testing.T) {
	calls := make(chan string, 10)
	release := make(chan struct{})
	applier := ApplierFunc(func(ctx context.Context, item models.SyncQueueItem) error {
		calls <- item.EntityID
		<-release
		return nil
	})

	cfg := defaultConfig()
	cfg.BatchSize = 3
	h := newHarness(t, cfg, applier, false)
	for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		h.enqueue(t, id)
	}
	h.conn.SetOnline(true)

	done := make(chan Result, 1)
	go func() {
		r, err := h.manager.Sync(h.ctx)
		assert.NoError(t, err)
		done <- r
	}()

	firstChunk := receiveN(t, calls, 3)
	assertNoMore(t, calls)
	assert.ElementsMatch(t, []string{"e1", "e2", "e3"}, firstChunk)

	// A second pass is refused while the first runs
	concurrent, err := h.manager.Sync(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, concurrent)
	assert.True(t, h.status(t).IsSyncing)

	for range 3 {
		release <- struct{}{}
	}

	secondChunk := receiveN(t, calls, 2)
	assertNoMore(t, calls)
	assert.ElementsMatch(t, []string{"e4", "e5"}, secondChunk)
	for range 2 {
		release <- struct{}{}
	}

	select {
	case r := <-done:
		assert.Equal(t, Result{Success: 5}, r)
	case <-time.After(2 * time.Second):
		t.Fatal("sync pass did not finish")
	}
	assert.False(t, h.status(t).IsSyncing)
	assert.Zero(t, h.status(t).QueueLength)
}

func TestSync_RetryBackoffAndFailedLog(t *testing.T) {
	applier := &countingApplier{err: errors.New("boom")}
	h := newHarness(t, defaultConfig(), applier, false)
	h.enqueue(t, "job-1")
	h.conn.SetOnline(true)

	// First failure
	result, err := h.manager.Sync(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 1}, result)
	pending := h.manager.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, "boom", pending[0].LastError)
	assert.True(t, pending[0].NextAttemptAt.Equal(h.clock.Now().Add(time.Second)))

	// Still backing off
	result, err = h.manager.Sync(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
	assert.Equal(t, 1, h.status(t).QueueLength)

	// Second failure, retryCount == maxRetries keeps the item queued
	h.clock.Advance(time.Second)
	_, err = h.manager.Sync(h.ctx)
	require.NoError(t, err)
	status := h.status(t)
	assert.Equal(t, 1, status.QueueLength)
	assert.Zero(t, status.FailedItems)

	// Third failure exceeds maxRetries
	h.clock.Advance(2 * time.Second)
	_, err = h.manager.Sync(h.ctx)
	require.NoError(t, err)
	status = h.status(t)
	assert.Zero(t, status.QueueLength)
	assert.Equal(t, 1, status.FailedItems)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.scheduler.Delays())
	assert.Len(t, applier.Calls(), 3)

	failed, err := h.manager.GetFailedItems(h.ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].RetryCount)
	assert.Equal(t, "job-1", failed[0].EntityID)

	t.Run("retry failed items", func(t *testing.T) {
		applier.setErr(nil)
		result, err := h.manager.RetryFailedItems(h.ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{Success: 1}, result)

		calls := applier.Calls()
		assert.Zero(t, calls[len(calls)-1].RetryCount)

		status := h.status(t)
		assert.Zero(t, status.QueueLength)
		assert.Zero(t, status.FailedItems)
	})
}

func TestSync_SucceedsOnLastAllowedAttempt(t *testing.T) {
	applier := &countingApplier{err: errors.New("boom")}
	h := newHarness(t, defaultConfig(), applier, false)
	h.enqueue(t, "job-1")
	h.conn.SetOnline(true)

	for i, wait := range []time.Duration{0, time.Second} {
		h.clock.Advance(wait)
		result, err := h.manager.Sync(h.ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{Failed: 1}, result)
		pending := h.manager.Pending()
		require.Len(t, pending, 1)
		assert.Equal(t, i+1, pending[0].RetryCount)
	}

	applier.setErr(nil)
	h.clock.Advance(2 * time.Second)
	result, err := h.manager.Sync(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Success: 1}, result)

	status := h.status(t)
	assert.Zero(t, status.QueueLength)
	assert.Zero(t, status.FailedItems)
	assert.Len(t, applier.Calls(), 3)
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name       string
		base       time.Duration
		retryCount int
		want       time.Duration
	}{
		{name: "first retry", base: time.Second, retryCount: 1, want: time.Second},
		{name: "doubles", base: time.Second, retryCount: 4, want: 8 * time.Second},
		{name: "capped", base: time.Second, retryCount: 20, want: MaxRetryDelay},
		{name: "shift past duration width", base: time.Second, retryCount: 100, want: MaxRetryDelay},
		{name: "large base", base: time.Duration(1) << 62, retryCount: 2, want: MaxRetryDelay},
		{name: "zero count", base: time.Minute, retryCount: 0, want: time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backoffDelay(tt.base, tt.retryCount))
		})
	}
}

// listHookLog runs afterList once, right after the first List returns
type listHookLog struct {
	FailedLog
	once      sync.Once
	afterList func()
}

func (l *listHookLog) List(ctx context.Context) ([]models.SyncQueueItem, error) {
	items, err := l.FailedLog.List(ctx)
	l.once.Do(l.afterList)
	return items, err
}

func TestRetryFailedItems_KeepsItemsFailedMeanwhile(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	defer st.Close()
	inner, err := NewStoreFailedLog(ctx, st)
	require.NoError(t, err)

	base := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, inner.Append(ctx, queueItem("early", base)))

	log := &listHookLog{FailedLog: inner}
	log.afterList = func() {
		require.NoError(t, inner.Append(ctx, queueItem("late", base.Add(time.Minute))))
	}

	applier := &countingApplier{}
	m, err := NewManager(defaultConfig(), applier, NewManualConnectivity(true), log)
	require.NoError(t, err)
	defer m.Stop()

	result, err := m.RetryFailedItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Success: 1}, result)

	remaining, err := m.GetFailedItems(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "late", remaining[0].ID)

	calls := applier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "early", calls[0].ID)
}

func TestClearFailedItems(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxRetries = 0
	h := newHarness(t, cfg, &countingApplier{err: errors.New("boom")}, false)
	h.enqueue(t, "job-1")
	h.enqueue(t, "job-2")
	h.conn.SetOnline(true)

	result, err := h.manager.Sync(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 2}, result)
	assert.Equal(t, 2, h.status(t).FailedItems)
	assert.Empty(t, h.scheduler.Delays())

	require.NoError(t, h.manager.ClearFailedItems(h.ctx))
	assert.Zero(t, h.status(t).FailedItems)
}

func TestSync_ConflictPolicies(t *testing.T) {
	tests := []struct {
		name         string
		policy       ConflictPolicy
		remoteOffset time.Duration
		forcedErr    error
		wantResult   Result
		wantForced   int
	}{
		{name: "server wins drops the mutation", policy: ServerWins, remoteOffset: time.Minute, wantResult: Result{Resolved: 1}},
		{name: "client wins overwrites", policy: ClientWins, remoteOffset: time.Minute, wantResult: Result{Resolved: 1}, wantForced: 1},
		{name: "last write wins with older remote overwrites", policy: LastWriteWins, remoteOffset: -time.Minute, wantResult: Result{Resolved: 1}, wantForced: 1},
		{name: "last write wins with newer remote drops", policy: LastWriteWins, remoteOffset: time.Minute, wantResult: Result{Resolved: 1}},
		{name: "failed overwrite is retried", policy: ClientWins, remoteOffset: time.Minute, forcedErr: errors.New("write refused"), wantResult: Result{Failed: 1}, wantForced: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				mu     sync.Mutex
				forced int
			)
			applier := ApplierFunc(func(ctx context.Context, item models.SyncQueueItem) error {
				if item.Force {
					mu.Lock()
					forced++
					mu.Unlock()
					return tt.forcedErr
				}
				return &models.ConflictError{
					Entity:          item.Entity,
					EntityID:        item.EntityID,
					RemoteUpdatedAt: item.EnqueuedAt.Add(tt.remoteOffset),
				}
			})

			cfg := defaultConfig()
			cfg.ConflictResolution = tt.policy
			h := newHarness(t, cfg, applier, false)
			h.enqueue(t, "job-1")
			h.conn.SetOnline(true)

			result, err := h.manager.Sync(h.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantResult, result)
			mu.Lock()
			assert.Equal(t, tt.wantForced, forced)
			mu.Unlock()

			if tt.forcedErr != nil {
				assert.Equal(t, 1, h.status(t).QueueLength)
			} else {
				assert.Zero(t, h.status(t).QueueLength)
			}
		})
	}
}

func TestConnectivityDrivesSync(t *testing.T) {
	applier := &countingApplier{}
	h := newHarness(t, defaultConfig(), applier, false)
	require.NoError(t, h.manager.Start(h.ctx))

	h.enqueue(t, "job-1")
	assert.Equal(t, 1, h.status(t).QueueLength)

	h.conn.SetOnline(true)
	assert.Eventually(t, func() bool { return len(h.manager.Pending()) == 0 }, 2*time.Second, 10*time.Millisecond)

	h.conn.SetOnline(false)
	h.enqueue(t, "job-2")
	h.manager.NotifyVisible()
	assert.Never(t, func() bool { return h.status(t).QueueLength == 0 }, 100*time.Millisecond, 10*time.Millisecond)

	h.conn.SetOnline(true)
	assert.Eventually(t, func() bool { return len(h.manager.Pending()) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, applier.Calls(), 2)
}

func TestNotifyVisibleSyncsWhenOnline(t *testing.T) {
	applier := &countingApplier{}
	h := newHarness(t, defaultConfig(), applier, false)
	h.enqueue(t, "job-1")

	// Flip the flag without a subscription, so only NotifyVisible can sync
	h.conn.SetOnline(true)
	assert.Equal(t, 1, h.status(t).QueueLength)

	h.manager.NotifyVisible()
	assert.Eventually(t, func() bool { return len(h.manager.Pending()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEnqueue_SyncsInBackgroundWhenOnline(t *testing.T) {
	applier := &countingApplier{}
	h := newHarness(t, defaultConfig(), applier, true)

	h.enqueue(t, "job-1")
	assert.Eventually(t, func() bool { return len(applier.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(h.manager.Pending()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestJournal_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	defer st.Close()

	journal, err := NewJournal(ctx, st)
	require.NoError(t, err)
	failedLog, err := NewStoreFailedLog(ctx, st)
	require.NoError(t, err)

	conn := NewManualConnectivity(false)
	applier := &countingApplier{err: errors.New("boom")}
	cfg := defaultConfig()
	cfg.MaxRetries = 0

	first, err := NewManager(cfg, applier, conn, failedLog, WithJournal(journal))
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))
	a, err := first.Enqueue(ctx, models.MutationCreate, models.CollectionUsers, "u1", models.UserProfile{ID: "u1"})
	require.NoError(t, err)
	b, err := first.Enqueue(ctx, models.MutationDelete, models.CollectionUsers, "u2", nil)
	require.NoError(t, err)
	first.Stop()

	second, err := NewManager(cfg, applier, conn, failedLog, WithJournal(journal))
	require.NoError(t, err)
	require.NoError(t, second.Start(ctx))
	defer second.Stop()

	var ids []string
	for _, it := range second.Pending() {
		ids = append(ids, it.ID)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	// Exhausted items leave the journal for the failed log
	conn.SetOnline(true)
	assert.Eventually(t, func() bool {
		status, err := second.GetSyncStatus(ctx)
		return err == nil && status.FailedItems == 2 && status.QueueLength == 0
	}, 2*time.Second, 10*time.Millisecond)

	journaled, err := journal.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, journaled)
}

func TestStopPreventsFurtherPasses(t *testing.T) {
	applier := &countingApplier{}
	h := newHarness(t, defaultConfig(), applier, false)
	h.enqueue(t, "job-1")
	h.conn.SetOnline(true)

	h.manager.Stop()
	h.manager.Stop()

	result, err := h.manager.Sync(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
	h.manager.NotifyVisible()
	assert.Empty(t, applier.Calls())
}

// gatedStore blocks the first Update after arm until release is closed
type gatedStore struct {
	store.Store
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) arm() {
	s.entered = make(chan struct{})
	s.release = make(chan struct{})
	s.armed.Store(true)
}

func (s *gatedStore) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	if s.armed.CompareAndSwap(true, false) {
		close(s.entered)
		<-s.release
	}
	return s.Store.Update(ctx, fn)
}

func TestEnqueue_PassWaitsForJournalWrite(t *testing.T) {
	gate := &gatedStore{Store: store.NewMemoryStore()}
	defer gate.Close()
	journal, err := NewJournal(context.Background(), gate)
	require.NoError(t, err)

	applier := &countingApplier{}
	h := newHarness(t, defaultConfig(), applier, true, WithJournal(journal))

	gate.arm()
	done := make(chan error, 1)
	go func() {
		_, err := h.manager.Enqueue(h.ctx, models.MutationCreate, models.CollectionJobs, "job-1", models.JobPosting{ID: "job-1"})
		done <- err
	}()
	<-gate.entered

	// Queued and visible, but not applied until its journal row exists
	assert.Len(t, h.manager.Pending(), 1)
	result, err := h.manager.Sync(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
	assert.Empty(t, applier.Calls())

	close(gate.release)
	require.NoError(t, <-done)

	assert.Eventually(t, func() bool { return len(h.manager.Pending()) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		items, err := journal.Load(h.ctx)
		return err == nil && len(items) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, applier.Calls(), 1)
}
