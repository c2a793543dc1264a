package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = Schema{
	Name: "analysisResults",
	Indexes: []IndexSpec{
		{Name: "userId"},
		{Name: "matchScore"},
		{Name: "createdAt"},
		{Name: "slug", Unique: true},
	},
}

// storeFactories runs every contract test against each implementation
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func putDoc(t *testing.T, s Store, key string, indexes map[string]any) {
	t.Helper()
	err := s.Update(context.Background(), func(tx Tx) error {
		return tx.Put(context.Background(), testSchema.Name, Document{Key: key, Value: []byte(`"` + key + `"`), Indexes: indexes})
	})
	require.NoError(t, err)
}

func scanKeys(t *testing.T, s Store, q Query) []string {
	t.Helper()
	var keys []string
	err := s.View(context.Background(), func(tx Tx) error {
		cur, err := tx.Scan(context.Background(), testSchema.Name, q)
		if err != nil {
			return err
		}
		defer cur.Close()
		for cur.Next() {
			keys = append(keys, cur.Key())
		}
		return cur.Err()
	})
	require.NoError(t, err)
	return keys
}

func TestStore_CRUD(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()
			require.NoError(t, s.EnsureCollection(ctx, testSchema))

			err := s.Update(ctx, func(tx Tx) error {
				return tx.Insert(ctx, testSchema.Name, Document{Key: "a1", Value: []byte(`{"id":"a1"}`)})
			})
			require.NoError(t, err)

			err = s.Update(ctx, func(tx Tx) error {
				return tx.Insert(ctx, testSchema.Name, Document{Key: "a1", Value: []byte(`{}`)})
			})
			assert.ErrorIs(t, err, ErrKeyExists)

			var got []byte
			err = s.View(ctx, func(tx Tx) error {
				var err error
				got, err = tx.Get(ctx, testSchema.Name, "a1")
				return err
			})
			require.NoError(t, err)
			assert.JSONEq(t, `{"id":"a1"}`, string(got))

			err = s.View(ctx, func(tx Tx) error {
				_, err := tx.Get(ctx, testSchema.Name, "missing")
				return err
			})
			assert.ErrorIs(t, err, ErrNotFound)

			err = s.Update(ctx, func(tx Tx) error {
				return tx.Delete(ctx, testSchema.Name, "a1")
			})
			require.NoError(t, err)

			var count int
			err = s.View(ctx, func(tx Tx) error {
				var err error
				count, err = tx.Count(ctx, testSchema.Name)
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, 0, count)
		})
	}
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()
			require.NoError(t, s.EnsureCollection(ctx, testSchema))

			boom := errors.New("boom")
			err := s.Update(ctx, func(tx Tx) error {
				if err := tx.Put(ctx, testSchema.Name, Document{Key: "a1", Value: []byte(`1`)}); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			err = s.View(ctx, func(tx Tx) error {
				_, err := tx.Get(ctx, testSchema.Name, "a1")
				return err
			})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ViewIsReadOnly(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()
			require.NoError(t, s.EnsureCollection(ctx, testSchema))

			err := s.View(ctx, func(tx Tx) error {
				return tx.Put(ctx, testSchema.Name, Document{Key: "a1", Value: []byte(`1`)})
			})
			assert.ErrorIs(t, err, ErrReadOnly)
		})
	}
}

func TestStore_ScanByIndex(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()
			require.NoError(t, s.EnsureCollection(ctx, testSchema))

			putDoc(t, s, "r1", map[string]any{"userId": "u1", "matchScore": 72.5, "createdAt": base})
			putDoc(t, s, "r2", map[string]any{"userId": "u2", "matchScore": 91.0, "createdAt": base.Add(time.Hour)})
			putDoc(t, s, "r3", map[string]any{"userId": "u1", "matchScore": 40, "createdAt": base.Add(2 * time.Hour)})
			putDoc(t, s, "r4", map[string]any{"userId": "u1", "matchScore": 91.0, "createdAt": nil})

			tests := []struct {
				name  string
				query Query
				want  []string
			}{
				{name: "equality", query: Query{Index: "userId", Range: Only("u1")}, want: []string{"r1", "r3", "r4"}},
				{name: "numeric ascending with key tiebreak", query: Query{Index: "matchScore"}, want: []string{"r3", "r1", "r2", "r4"}},
				{name: "numeric descending", query: Query{Index: "matchScore", Direction: Descending}, want: []string{"r4", "r2", "r1", "r3"}},
				{name: "between mixes ints and floats", query: Query{Index: "matchScore", Range: Between(40, 80)}, want: []string{"r3", "r1"}},
				{name: "open upper bound", query: Query{Index: "createdAt", Range: Before(base.Add(2 * time.Hour))}, want: []string{"r1", "r2"}},
				{name: "nil index value is skipped", query: Query{Index: "createdAt"}, want: []string{"r1", "r2", "r3"}},
				{name: "offset", query: Query{Index: "matchScore", Offset: 3}, want: []string{"r4"}},
				{name: "offset beyond end", query: Query{Index: "matchScore", Offset: 10}, want: nil},
				{name: "primary key walk", query: Query{Direction: Descending}, want: []string{"r4", "r3", "r2", "r1"}},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					assert.Equal(t, tt.want, scanKeys(t, s, tt.query))
				})
			}
		})
	}
}

func TestStore_ReindexOnPut(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()
			require.NoError(t, s.EnsureCollection(ctx, testSchema))

			putDoc(t, s, "r1", map[string]any{"userId": "u1"})
			putDoc(t, s, "r1", map[string]any{"userId": "u2"})

			assert.Empty(t, scanKeys(t, s, Query{Index: "userId", Range: Only("u1")}))
			assert.Equal(t, []string{"r1"}, scanKeys(t, s, Query{Index: "userId", Range: Only("u2")}))
		})
	}
}

func TestStore_UniqueIndex(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()
			require.NoError(t, s.EnsureCollection(ctx, testSchema))

			putDoc(t, s, "r1", map[string]any{"slug": "backend-dev"})
			// Rewriting the same document with its own value is fine
			putDoc(t, s, "r1", map[string]any{"slug": "backend-dev"})

			err := s.Update(ctx, func(tx Tx) error {
				return tx.Put(ctx, testSchema.Name, Document{Key: "r2", Value: []byte(`2`), Indexes: map[string]any{"slug": "backend-dev"}})
			})
			assert.ErrorIs(t, err, ErrConstraint)
		})
	}
}

func TestStore_ClearAndUnknowns(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()
			require.NoError(t, s.EnsureCollection(ctx, testSchema))

			putDoc(t, s, "r1", map[string]any{"userId": "u1"})
			putDoc(t, s, "r2", map[string]any{"userId": "u1"})

			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				return tx.Clear(ctx, testSchema.Name)
			}))
			assert.Empty(t, scanKeys(t, s, Query{Index: "userId"}))

			err := s.View(ctx, func(tx Tx) error {
				_, err := tx.Get(ctx, "nope", "k")
				return err
			})
			assert.ErrorIs(t, err, ErrUnknownCollection)

			err = s.View(ctx, func(tx Tx) error {
				_, err := tx.Scan(ctx, testSchema.Name, Query{Index: "nope"})
				return err
			})
			assert.ErrorIs(t, err, ErrUnknownIndex)
		})
	}
}

func TestStore_Closed(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.EnsureCollection(ctx, testSchema))
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			err := s.View(ctx, func(tx Tx) error { return nil })
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, testSchema))
	putDoc(t, s, "r1", map[string]any{"userId": "u1"})
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.EnsureCollection(ctx, testSchema))

	assert.Equal(t, []string{"r1"}, scanKeys(t, reopened, Query{Index: "userId", Range: Only("u1")}))
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "  ")
	assert.Error(t, err)
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, compareValues(int64(1), 1.5))
	assert.Equal(t, 0, compareValues(int64(2), 2.0))
	assert.Equal(t, -1, compareValues(int64(999), "a"))
	assert.Equal(t, 1, compareValues("b", "a"))
}
