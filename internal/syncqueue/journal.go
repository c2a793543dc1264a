package syncqueue

import (
	"context"

	"github.com/prefeitura-rio/app-resume-cache/internal/models"
	"github.com/prefeitura-rio/app-resume-cache/internal/repository"
	"github.com/prefeitura-rio/app-resume-cache/internal/store"
)

// Journal persists the live queue so pending mutations survive a restart
type Journal struct {
	repo *repository.Repository[models.SyncQueueItem]
}

func NewJournal(ctx context.Context, st store.Store) (*Journal, error) {
	repo, err := repository.New(ctx, st, models.CollectionSyncQueue, enqueuedAtIndex())
	if err != nil {
		return nil, err
	}
	return &Journal{repo: repo}, nil
}

func (j *Journal) Put(ctx context.Context, item models.SyncQueueItem) error {
	_, err := j.repo.Update(ctx, item)
	return err
}

func (j *Journal) Delete(ctx context.Context, id string) error {
	return j.repo.Delete(ctx, id)
}

// Load returns the journaled items oldest enqueued first
func (j *Journal) Load(ctx context.Context) ([]models.SyncQueueItem, error) {
	var items []models.SyncQueueItem
	for item, err := range j.repo.Scan(ctx, "enqueuedAt", store.All(), repository.QueryOptions{}) {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (j *Journal) Clear(ctx context.Context) error {
	return j.repo.Clear(ctx)
}
