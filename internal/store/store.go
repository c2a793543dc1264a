// Package store defines the transactional key-value store the cache engine
// persists into, with per-collection secondary indexes and ordered cursors.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("store: key not found")
	ErrKeyExists         = errors.New("store: key already exists")
	ErrConstraint        = errors.New("store: unique index constraint violated")
	ErrUnknownCollection = errors.New("store: unknown collection")
	ErrUnknownIndex      = errors.New("store: unknown index")
	ErrReadOnly          = errors.New("store: write in read-only transaction")
	ErrClosed            = errors.New("store: closed")
)

// Direction orders a scan
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// IndexSpec declares a secondary index of a collection
type IndexSpec struct {
	Name   string
	Unique bool
}

// Schema declares a collection and its indexes
type Schema struct {
	Name    string
	Indexes []IndexSpec
}

func (s Schema) index(name string) (IndexSpec, bool) {
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexSpec{}, false
}

// Document is one stored value with its extracted index values. A nil index
// value leaves the document out of that index.
type Document struct {
	Key     string
	Value   []byte
	Indexes map[string]any
}

// Range bounds an index scan. Nil bounds are open-ended.
type Range struct {
	Lower     any
	Upper     any
	LowerOpen bool
	UpperOpen bool
}

// All matches every indexed value
func All() Range { return Range{} }

// Only matches a single value
func Only(v any) Range { return Range{Lower: v, Upper: v} }

// Between matches lower <= v <= upper
func Between(lower, upper any) Range { return Range{Lower: lower, Upper: upper} }

// AtLeast matches v >= lower
func AtLeast(lower any) Range { return Range{Lower: lower} }

// AtMost matches v <= upper
func AtMost(upper any) Range { return Range{Upper: upper} }

// Before matches v < upper
func Before(upper any) Range { return Range{Upper: upper, UpperOpen: true} }

// Query describes an ordered walk over one collection
type Query struct {
	// Index names the secondary index; empty walks the primary key
	Index     string
	Range     Range
	Direction Direction
	Offset    int
}

// Cursor is a lazy, forward-only walk over query results. It is valid only
// inside the transaction that produced it.
type Cursor interface {
	Next() bool
	Key() string
	Value() []byte
	Err() error
	Close() error
}

// Tx is one store transaction
type Tx interface {
	Get(ctx context.Context, collection, key string) ([]byte, error)
	// Insert fails with ErrKeyExists when the key is present
	Insert(ctx context.Context, collection string, doc Document) error
	// Put inserts or replaces
	Put(ctx context.Context, collection string, doc Document) error
	// Delete is a no-op for absent keys
	Delete(ctx context.Context, collection, key string) error
	Count(ctx context.Context, collection string) (int, error)
	Clear(ctx context.Context, collection string) error
	Scan(ctx context.Context, collection string, q Query) (Cursor, error)
}

// Store is an asynchronous transactional key-value store. View runs fn in a
// read-only transaction; Update commits fn's writes atomically when fn
// returns nil and discards them otherwise. fn must not start another
// transaction on the same store.
type Store interface {
	EnsureCollection(ctx context.Context, schema Schema) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// normalizeValue maps index values onto the three orderable kinds the
// store compares: int64, float64 and string.
func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case time.Time:
		return x.UnixNano(), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return x.UnixNano(), nil
	default:
		return nil, fmt.Errorf("unsupported index value type %T", v)
	}
}

func normalizeIndexes(indexes map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(indexes))
	for name, v := range indexes {
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", name, err)
		}
		if nv != nil {
			out[name] = nv
		}
	}
	return out, nil
}

func normalizeRange(r Range) (Range, error) {
	lower, err := normalizeValue(r.Lower)
	if err != nil {
		return Range{}, fmt.Errorf("lower bound: %w", err)
	}
	upper, err := normalizeValue(r.Upper)
	if err != nil {
		return Range{}, fmt.Errorf("upper bound: %w", err)
	}
	return Range{Lower: lower, Upper: upper, LowerOpen: r.LowerOpen, UpperOpen: r.UpperOpen}, nil
}

// compareValues orders normalized values: numbers before strings, numbers
// numerically, strings bytewise. This matches SQLite's ordering of
// untyped columns.
func compareValues(a, b any) int {
	as, aIsString := a.(string)
	bs, bIsString := b.(string)
	switch {
	case aIsString && bIsString:
		return strings.Compare(as, bs)
	case aIsString:
		return 1
	case bIsString:
		return -1
	}

	ai, aIsInt := a.(int64)
	bi, bIsInt := b.(int64)
	if aIsInt && bIsInt {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}

	af, bf := toFloat(a), toFloat(b)
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

// contains reports whether a normalized value lies inside a normalized range
func (r Range) contains(v any) bool {
	if r.Lower != nil {
		c := compareValues(v, r.Lower)
		if c < 0 || (c == 0 && r.LowerOpen) {
			return false
		}
	}
	if r.Upper != nil {
		c := compareValues(v, r.Upper)
		if c > 0 || (c == 0 && r.UpperOpen) {
			return false
		}
	}
	return true
}
