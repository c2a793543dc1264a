package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prefeitura-rio/app-resume-cache/internal/models"
	"github.com/prefeitura-rio/app-resume-cache/internal/redisclient"
	"github.com/prefeitura-rio/app-resume-cache/internal/repository"
	"github.com/prefeitura-rio/app-resume-cache/internal/store"
	"github.com/redis/go-redis/v9"
)

// FailedLog holds mutations that exhausted their retries. Entries survive
// restarts and leave only through Remove, when they are retried, or Clear.
type FailedLog interface {
	Append(ctx context.Context, items ...models.SyncQueueItem) error
	List(ctx context.Context) ([]models.SyncQueueItem, error)
	// Remove deletes the entries with the given item ids and leaves the
	// rest, including entries appended after a List, untouched.
	Remove(ctx context.Context, ids ...string) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

func enqueuedAtIndex() repository.Index[models.SyncQueueItem] {
	return repository.Index[models.SyncQueueItem]{
		Name:  "enqueuedAt",
		Value: func(i models.SyncQueueItem) any { return i.EnqueuedAt },
	}
}

// StoreFailedLog keeps the failed log in its own collection of the local store
type StoreFailedLog struct {
	repo *repository.Repository[models.SyncQueueItem]
}

func NewStoreFailedLog(ctx context.Context, st store.Store) (*StoreFailedLog, error) {
	repo, err := repository.New(ctx, st, models.CollectionSyncFailedLog, enqueuedAtIndex())
	if err != nil {
		return nil, err
	}
	return &StoreFailedLog{repo: repo}, nil
}

func (l *StoreFailedLog) Append(ctx context.Context, items ...models.SyncQueueItem) error {
	var errs []error
	for _, res := range l.repo.BatchUpdate(ctx, items) {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// List returns entries oldest enqueued first
func (l *StoreFailedLog) List(ctx context.Context) ([]models.SyncQueueItem, error) {
	return l.repo.QueryByIndex(ctx, "enqueuedAt", store.All(), repository.QueryOptions{})
}

func (l *StoreFailedLog) Remove(ctx context.Context, ids ...string) error {
	var errs []error
	for _, id := range ids {
		if err := l.repo.Delete(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *StoreFailedLog) Clear(ctx context.Context) error {
	return l.repo.Clear(ctx)
}

func (l *StoreFailedLog) Len(ctx context.Context) (int, error) {
	return l.repo.Count(ctx)
}

// RedisFailedLog keeps the failed log in the Redis list sync:dlq:<namespace>
type RedisFailedLog struct {
	redis *redisclient.Client
	key   string
}

func NewRedisFailedLog(client *redisclient.Client, namespace string) *RedisFailedLog {
	return &RedisFailedLog{redis: client, key: fmt.Sprintf("sync:dlq:%s", namespace)}
}

// Key returns the Redis list key
func (l *RedisFailedLog) Key() string {
	return l.key
}

func (l *RedisFailedLog) Append(ctx context.Context, items ...models.SyncQueueItem) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal failed item %s: %w", item.ID, err)
		}
		values = append(values, data)
	}
	if err := l.redis.RPush(ctx, l.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to append to %s: %w", l.key, err)
	}
	return nil
}

func (l *RedisFailedLog) List(ctx context.Context) ([]models.SyncQueueItem, error) {
	raw, err := l.redis.LRange(ctx, l.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", l.key, err)
	}
	items := make([]models.SyncQueueItem, 0, len(raw))
	for _, entry := range raw {
		var item models.SyncQueueItem
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failed item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Remove drops the list entries whose item id is in ids. Each matching
// entry is removed by value in one MULTI/EXEC.
func (l *RedisFailedLog) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	raw, err := l.redis.LRange(ctx, l.key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", l.key, err)
	}
	var matches []string
	for _, entry := range raw {
		var item models.SyncQueueItem
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			return fmt.Errorf("failed to unmarshal failed item: %w", err)
		}
		if wanted[item.ID] {
			matches = append(matches, entry)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	_, err = l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, entry := range matches {
			pipe.LRem(ctx, l.key, 1, entry)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove retried items from %s: %w", l.key, err)
	}
	return nil
}

func (l *RedisFailedLog) Clear(ctx context.Context) error {
	if err := l.redis.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", l.key, err)
	}
	return nil
}

func (l *RedisFailedLog) Len(ctx context.Context) (int, error) {
	n, err := l.redis.LLen(ctx, l.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", l.key, err)
	}
	return int(n), nil
}
