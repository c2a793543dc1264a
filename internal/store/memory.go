package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Update transactions run one at a
// time and commit by swapping in copy-on-write collections.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	closed      bool
}

type memCollection struct {
	schema Schema
	docs   map[string]memDoc
}

type memDoc struct {
	value   []byte
	indexes map[string]any
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (c *memCollection) clone() *memCollection {
	docs := make(map[string]memDoc, len(c.docs))
	for k, v := range c.docs {
		docs[k] = v
	}
	return &memCollection{schema: c.schema, docs: docs}
}

// EnsureCollection registers a collection. Re-registering keeps the data
// and replaces the index declarations.
func (s *MemoryStore) EnsureCollection(ctx context.Context, schema Schema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if existing, ok := s.collections[schema.Name]; ok {
		existing.schema = schema
		return nil
	}
	s.collections[schema.Name] = &memCollection{schema: schema, docs: make(map[string]memDoc)}
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	return fn(&memTx{store: s, readOnly: true})
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := &memTx{store: s, working: make(map[string]*memCollection)}
	if err := fn(tx); err != nil {
		return err
	}
	for name, coll := range tx.working {
		s.collections[name] = coll
	}
	return nil
}

// Close drops all data; later calls fail with ErrClosed
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = make(map[string]*memCollection)
	return nil
}

type memTx struct {
	store    *MemoryStore
	readOnly bool
	working  map[string]*memCollection
}

func (tx *memTx) read(collection string) (*memCollection, error) {
	if coll, ok := tx.working[collection]; ok {
		return coll, nil
	}
	coll, ok := tx.store.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return coll, nil
}

func (tx *memTx) write(collection string) (*memCollection, error) {
	if tx.readOnly {
		return nil, ErrReadOnly
	}
	if coll, ok := tx.working[collection]; ok {
		return coll, nil
	}
	coll, ok := tx.store.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	working := coll.clone()
	tx.working[collection] = working
	return working, nil
}

func (tx *memTx) Get(ctx context.Context, collection, key string) ([]byte, error) {
	coll, err := tx.read(collection)
	if err != nil {
		return nil, err
	}
	doc, ok := coll.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.value, nil
}

func (tx *memTx) Insert(ctx context.Context, collection string, doc Document) error {
	coll, err := tx.write(collection)
	if err != nil {
		return err
	}
	if _, exists := coll.docs[doc.Key]; exists {
		return ErrKeyExists
	}
	return tx.put(coll, doc)
}

func (tx *memTx) Put(ctx context.Context, collection string, doc Document) error {
	coll, err := tx.write(collection)
	if err != nil {
		return err
	}
	return tx.put(coll, doc)
}

func (tx *memTx) put(coll *memCollection, doc Document) error {
	indexes, err := normalizeIndexes(doc.Indexes)
	if err != nil {
		return err
	}

	for _, spec := range coll.schema.Indexes {
		if !spec.Unique {
			continue
		}
		v, ok := indexes[spec.Name]
		if !ok {
			continue
		}
		for key, other := range coll.docs {
			if key == doc.Key {
				continue
			}
			if ov, ok := other.indexes[spec.Name]; ok && compareValues(ov, v) == 0 {
				return fmt.Errorf("%w: %s.%s", ErrConstraint, coll.schema.Name, spec.Name)
			}
		}
	}

	value := make([]byte, len(doc.Value))
	copy(value, doc.Value)
	coll.docs[doc.Key] = memDoc{value: value, indexes: indexes}
	return nil
}

func (tx *memTx) Delete(ctx context.Context, collection, key string) error {
	coll, err := tx.write(collection)
	if err != nil {
		return err
	}
	delete(coll.docs, key)
	return nil
}

func (tx *memTx) Count(ctx context.Context, collection string) (int, error) {
	coll, err := tx.read(collection)
	if err != nil {
		return 0, err
	}
	return len(coll.docs), nil
}

func (tx *memTx) Clear(ctx context.Context, collection string) error {
	coll, err := tx.write(collection)
	if err != nil {
		return err
	}
	coll.docs = make(map[string]memDoc)
	return nil
}

type memEntry struct {
	key   string
	sort  any
	value []byte
}

func (tx *memTx) Scan(ctx context.Context, collection string, q Query) (Cursor, error) {
	coll, err := tx.read(collection)
	if err != nil {
		return nil, err
	}
	if q.Index != "" {
		if _, ok := coll.schema.index(q.Index); !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, collection, q.Index)
		}
	}
	rng, err := normalizeRange(q.Range)
	if err != nil {
		return nil, err
	}

	entries := make([]memEntry, 0, len(coll.docs))
	for key, doc := range coll.docs {
		var v any = key
		if q.Index != "" {
			iv, ok := doc.indexes[q.Index]
			if !ok {
				continue
			}
			v = iv
		}
		if !rng.contains(v) {
			continue
		}
		entries = append(entries, memEntry{key: key, sort: v, value: doc.value})
	}

	sort.Slice(entries, func(i, j int) bool {
		c := compareValues(entries[i].sort, entries[j].sort)
		if c == 0 {
			c = compareValues(entries[i].key, entries[j].key)
		}
		if q.Direction == Descending {
			return c > 0
		}
		return c < 0
	})

	if q.Offset > 0 {
		if q.Offset >= len(entries) {
			entries = nil
		} else {
			entries = entries[q.Offset:]
		}
	}

	return &memCursor{entries: entries, pos: -1}, nil
}

type memCursor struct {
	entries []memEntry
	pos     int
	closed  bool
}

func (c *memCursor) Next() bool {
	if c.closed || c.pos+1 >= len(c.entries) {
		return false
	}
	c.pos++
	return true
}

func (c *memCursor) Key() string   { return c.entries[c.pos].key }
func (c *memCursor) Value() []byte { return c.entries[c.pos].value }
func (c *memCursor) Err() error    { return nil }

func (c *memCursor) Close() error {
	c.closed = true
	return nil
}
