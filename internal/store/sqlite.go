package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	PRIMARY KEY (collection, key)
);
CREATE TABLE IF NOT EXISTS index_entries (
	collection TEXT NOT NULL,
	index_name TEXT NOT NULL,
	value,
	key        TEXT NOT NULL,
	PRIMARY KEY (collection, index_name, key)
);
CREATE INDEX IF NOT EXISTS idx_index_entries_value
	ON index_entries (collection, index_name, value, key);
`

// SQLiteStore persists collections in a single SQLite file. Documents live
// in one table and index values in another; the value column is untyped so
// integers, reals and text keep SQLite's native ordering.
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.RWMutex
	schemas map[string]Schema
}

// OpenSQLite opens (creating if needed) the database at path
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite has a single writer; one connection also serialises transactions
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, schemas: make(map[string]Schema)}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EnsureCollection(ctx context.Context, schema Schema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	s.schemas[schema.Name] = schema
	return nil
}

func (s *SQLiteStore) schema(collection string) (Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.schemas[collection]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return schema, nil
}

func (s *SQLiteStore) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

func (s *SQLiteStore) View(ctx context.Context, fn func(tx Tx) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck

	return fn(&sqliteTx{store: s, tx: sqlTx, readOnly: true})
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&sqliteTx{store: s, tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close releases the database handle. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type sqliteTx struct {
	store    *SQLiteStore
	tx       *sql.Tx
	readOnly bool
}

func (t *sqliteTx) writable(collection string) (Schema, error) {
	if t.readOnly {
		return Schema{}, ErrReadOnly
	}
	return t.store.schema(collection)
}

func (t *sqliteTx) Get(ctx context.Context, collection, key string) ([]byte, error) {
	if _, err := t.store.schema(collection); err != nil {
		return nil, err
	}
	var value []byte
	err := t.tx.QueryRowContext(ctx,
		"SELECT value FROM documents WHERE collection = ? AND key = ?", collection, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (t *sqliteTx) Insert(ctx context.Context, collection string, doc Document) error {
	schema, err := t.writable(collection)
	if err != nil {
		return err
	}
	var exists int
	err = t.tx.QueryRowContext(ctx,
		"SELECT 1 FROM documents WHERE collection = ? AND key = ?", collection, doc.Key).Scan(&exists)
	if err == nil {
		return ErrKeyExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return t.put(ctx, schema, doc)
}

func (t *sqliteTx) Put(ctx context.Context, collection string, doc Document) error {
	schema, err := t.writable(collection)
	if err != nil {
		return err
	}
	return t.put(ctx, schema, doc)
}

func (t *sqliteTx) put(ctx context.Context, schema Schema, doc Document) error {
	indexes, err := normalizeIndexes(doc.Indexes)
	if err != nil {
		return err
	}

	for _, spec := range schema.Indexes {
		v, ok := indexes[spec.Name]
		if !spec.Unique || !ok {
			continue
		}
		var other string
		err := t.tx.QueryRowContext(ctx,
			`SELECT key FROM index_entries
			 WHERE collection = ? AND index_name = ? AND value = ? AND key <> ? LIMIT 1`,
			schema.Name, spec.Name, v, doc.Key).Scan(&other)
		if err == nil {
			return fmt.Errorf("%w: %s.%s", ErrConstraint, schema.Name, spec.Name)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}

	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO documents (collection, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (collection, key) DO UPDATE SET value = excluded.value`,
		schema.Name, doc.Key, doc.Value); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx,
		"DELETE FROM index_entries WHERE collection = ? AND key = ?", schema.Name, doc.Key); err != nil {
		return err
	}
	for name, v := range indexes {
		if _, ok := schema.index(name); !ok {
			continue
		}
		if _, err := t.tx.ExecContext(ctx,
			"INSERT INTO index_entries (collection, index_name, value, key) VALUES (?, ?, ?, ?)",
			schema.Name, name, v, doc.Key); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) Delete(ctx context.Context, collection, key string) error {
	if _, err := t.writable(collection); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND key = ?", collection, key); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx,
		"DELETE FROM index_entries WHERE collection = ? AND key = ?", collection, key)
	return err
}

func (t *sqliteTx) Count(ctx context.Context, collection string) (int, error) {
	if _, err := t.store.schema(collection); err != nil {
		return 0, err
	}
	var n int
	err := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE collection = ?", collection).Scan(&n)
	return n, err
}

func (t *sqliteTx) Clear(ctx context.Context, collection string) error {
	if _, err := t.writable(collection); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM documents WHERE collection = ?", collection); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, "DELETE FROM index_entries WHERE collection = ?", collection)
	return err
}

func (t *sqliteTx) Scan(ctx context.Context, collection string, q Query) (Cursor, error) {
	schema, err := t.store.schema(collection)
	if err != nil {
		return nil, err
	}
	rng, err := normalizeRange(q.Range)
	if err != nil {
		return nil, err
	}

	order := "ASC"
	if q.Direction == Descending {
		order = "DESC"
	}

	var (
		b    strings.Builder
		args []any
	)
	column := "key"
	if q.Index == "" {
		b.WriteString("SELECT key, value FROM documents WHERE collection = ?")
		args = append(args, collection)
	} else {
		if _, ok := schema.index(q.Index); !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, collection, q.Index)
		}
		column = "i.value"
		b.WriteString(`SELECT d.key, d.value FROM index_entries i
			JOIN documents d ON d.collection = i.collection AND d.key = i.key
			WHERE i.collection = ? AND i.index_name = ?`)
		args = append(args, collection, q.Index)
	}

	if rng.Lower != nil {
		op := ">="
		if rng.LowerOpen {
			op = ">"
		}
		fmt.Fprintf(&b, " AND %s %s ?", column, op)
		args = append(args, rng.Lower)
	}
	if rng.Upper != nil {
		op := "<="
		if rng.UpperOpen {
			op = "<"
		}
		fmt.Fprintf(&b, " AND %s %s ?", column, op)
		args = append(args, rng.Upper)
	}

	if q.Index == "" {
		fmt.Fprintf(&b, " ORDER BY key %s", order)
	} else {
		fmt.Fprintf(&b, " ORDER BY i.value %s, i.key %s", order, order)
	}
	b.WriteString(" LIMIT -1 OFFSET ?")
	args = append(args, q.Offset)

	rows, err := t.tx.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	return &sqliteCursor{rows: rows}, nil
}

type sqliteCursor struct {
	rows  *sql.Rows
	key   string
	value []byte
	err   error
}

func (c *sqliteCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	if err := c.rows.Scan(&c.key, &c.value); err != nil {
		c.err = err
		return false
	}
	return true
}

func (c *sqliteCursor) Key() string   { return c.key }
func (c *sqliteCursor) Value() []byte { return c.value }

func (c *sqliteCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *sqliteCursor) Close() error { return c.rows.Close() }
