// Package repository provides typed CRUD and index queries over one store
// collection.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/prefeitura-rio/app-resume-cache/internal/logging"
	"github.com/prefeitura-rio/app-resume-cache/internal/models"
	"github.com/prefeitura-rio/app-resume-cache/internal/store"
	"go.uber.org/zap"
)

const defaultPageSize = 100

// Index declares a secondary index and how to extract its value from a
// record. Value may return nil to leave the record out of the index.
type Index[T models.Record] struct {
	Name   string
	Unique bool
	Value  func(T) any
}

// QueryOptions bounds an index query. A zero Limit means no limit.
type QueryOptions struct {
	Limit     int
	Offset    int
	Direction store.Direction
}

// BatchResult reports the outcome of one record of a batch write
type BatchResult struct {
	Index int
	ID    string
	Err   error
}

// Repository is the typed access layer for one collection
type Repository[T models.Record] struct {
	store      store.Store
	collection string
	indexes    []Index[T]
	pageSize   int
	logger     *logging.SafeLogger
}

// New registers the collection and its indexes with the store
func New[T models.Record](ctx context.Context, st store.Store, collection string, indexes ...Index[T]) (*Repository[T], error) {
	schema := store.Schema{Name: collection}
	for _, idx := range indexes {
		schema.Indexes = append(schema.Indexes, store.IndexSpec{Name: idx.Name, Unique: idx.Unique})
	}
	if err := st.EnsureCollection(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to register collection %s: %w", collection, err)
	}

	return &Repository[T]{
		store:      st,
		collection: collection,
		indexes:    indexes,
		pageSize:   defaultPageSize,
		logger:     logging.Logger.Named("repository").With(zap.String("collection", collection)),
	}, nil
}

// Name returns the collection name
func (r *Repository[T]) Name() string {
	return r.collection
}

func (r *Repository[T]) document(record T) (store.Document, error) {
	id := record.GetID()
	if id == "" {
		return store.Document{}, fmt.Errorf("%w: empty id in %s", models.ErrInvalidRecord, r.collection)
	}
	value, err := json.Marshal(record)
	if err != nil {
		return store.Document{}, fmt.Errorf("failed to encode %s record %s: %w", r.collection, id, err)
	}

	doc := store.Document{Key: id, Value: value}
	if len(r.indexes) > 0 {
		doc.Indexes = make(map[string]any, len(r.indexes))
		for _, idx := range r.indexes {
			doc.Indexes[idx.Name] = idx.Value(record)
		}
	}
	return doc, nil
}

func (r *Repository[T]) decode(value []byte) (T, error) {
	var record T
	if err := json.Unmarshal(value, &record); err != nil {
		return record, fmt.Errorf("failed to decode %s record: %w", r.collection, err)
	}
	return record, nil
}

// translate maps store errors onto the model taxonomy
func (r *Repository[T]) translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return models.ErrNotFound
	case errors.Is(err, store.ErrConstraint):
		return fmt.Errorf("%w: %v", models.ErrConstraint, err)
	case errors.Is(err, models.ErrInvalidRecord):
		return err
	}
	return &models.StoreTransactionError{Op: op, Collection: r.collection, Err: err}
}

// Create persists a new record. It fails with a DuplicateKeyError when the
// id is already taken.
func (r *Repository[T]) Create(ctx context.Context, record T) (T, error) {
	doc, err := r.document(record)
	if err != nil {
		return record, err
	}

	err = r.store.Update(ctx, func(tx store.Tx) error {
		return tx.Insert(ctx, r.collection, doc)
	})
	if errors.Is(err, store.ErrKeyExists) {
		return record, &models.DuplicateKeyError{Collection: r.collection, ID: doc.Key}
	}
	if err != nil {
		return record, r.translate("create", err)
	}
	return record, nil
}

// GetByID returns the record or models.ErrNotFound
func (r *Repository[T]) GetByID(ctx context.Context, id string) (T, error) {
	var value []byte
	err := r.store.View(ctx, func(tx store.Tx) error {
		v, err := tx.Get(ctx, r.collection, id)
		value = v
		return err
	})
	if err != nil {
		var zero T
		return zero, r.translate("get", err)
	}
	return r.decode(value)
}

// Find is GetByID returning the untyped record
func (r *Repository[T]) Find(ctx context.Context, id string) (models.Record, error) {
	record, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Update inserts or replaces the record
func (r *Repository[T]) Update(ctx context.Context, record T) (T, error) {
	doc, err := r.document(record)
	if err != nil {
		return record, err
	}
	err = r.store.Update(ctx, func(tx store.Tx) error {
		return tx.Put(ctx, r.collection, doc)
	})
	return record, r.translate("update", err)
}

// Delete removes the record; deleting an absent id succeeds
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	err := r.store.Update(ctx, func(tx store.Tx) error {
		return tx.Delete(ctx, r.collection, id)
	})
	return r.translate("delete", err)
}

func (r *Repository[T]) Count(ctx context.Context) (int, error) {
	var n int
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.Count(ctx, r.collection)
		return err
	})
	return n, r.translate("count", err)
}

func (r *Repository[T]) Clear(ctx context.Context) error {
	err := r.store.Update(ctx, func(tx store.Tx) error {
		return tx.Clear(ctx, r.collection)
	})
	return r.translate("clear", err)
}

// QueryByIndex returns records ordered by the index and bounded by rng.
// An empty index walks the primary key.
func (r *Repository[T]) QueryByIndex(ctx context.Context, index string, rng store.Range, opts QueryOptions) ([]T, error) {
	var results []T
	err := r.store.View(ctx, func(tx store.Tx) error {
		cur, err := tx.Scan(ctx, r.collection, store.Query{
			Index:     index,
			Range:     rng,
			Direction: opts.Direction,
			Offset:    opts.Offset,
		})
		if err != nil {
			return err
		}
		defer cur.Close()

		for cur.Next() {
			record, err := r.decode(cur.Value())
			if err != nil {
				return err
			}
			results = append(results, record)
			if opts.Limit > 0 && len(results) >= opts.Limit {
				break
			}
		}
		return cur.Err()
	})
	if err != nil {
		return nil, r.translate("query", err)
	}
	return results, nil
}

// Scan walks the index lazily. Each page is read in its own transaction so
// the loop body may call back into the store. Ranging over the returned
// sequence again restarts the walk.
func (r *Repository[T]) Scan(ctx context.Context, index string, rng store.Range, opts QueryOptions) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		offset := opts.Offset
		emitted := 0
		for {
			pageLimit := r.pageSize
			if opts.Limit > 0 && opts.Limit-emitted < pageLimit {
				pageLimit = opts.Limit - emitted
			}
			if pageLimit <= 0 {
				return
			}

			page, err := r.QueryByIndex(ctx, index, rng, QueryOptions{
				Limit:     pageLimit,
				Offset:    offset,
				Direction: opts.Direction,
			})
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}

			for _, record := range page {
				if !yield(record, nil) {
					return
				}
			}
			emitted += len(page)
			offset += len(page)
			if len(page) < pageLimit {
				return
			}
		}
	}
}

// BatchCreate creates each record in its own transaction. A failure is
// reported in its BatchResult and does not stop the batch.
func (r *Repository[T]) BatchCreate(ctx context.Context, records []T) []BatchResult {
	results := make([]BatchResult, len(records))
	for i, record := range records {
		_, err := r.Create(ctx, record)
		results[i] = BatchResult{Index: i, ID: record.GetID(), Err: err}
		if err != nil {
			r.logger.Warn("batch create item failed",
				zap.Int("index", i),
				zap.String("id", record.GetID()),
				zap.Error(err))
		}
	}
	return results
}

// BatchUpdate upserts each record in its own transaction
func (r *Repository[T]) BatchUpdate(ctx context.Context, records []T) []BatchResult {
	results := make([]BatchResult, len(records))
	for i, record := range records {
		_, err := r.Update(ctx, record)
		results[i] = BatchResult{Index: i, ID: record.GetID(), Err: err}
		if err != nil {
			r.logger.Warn("batch update item failed",
				zap.Int("index", i),
				zap.String("id", record.GetID()),
				zap.Error(err))
		}
	}
	return results
}
