package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Store is a small document store over SQLite. Documents are JSON objects
// keyed by (collection, id). Queries are limited to one equality filter plus
// ordering on a single field, which is why callers keep redundant boolean
// projections of their queryable fields.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	nextSub  int
	collSubs map[string]map[int]func(id string)
	docSubs  map[string]map[int]func()
}

// Open opens (and creates/migrates) the document database at the given path
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	// Ensure file exists with strict perms
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		f, err := os.OpenFile(dbPath, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create database file: %w", err)
		}
		_ = f.Close()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout=5000;")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous=NORMAL;")

	s := &Store{
		db:       db,
		collSubs: make(map[string]map[int]func(id string)),
		docSubs:  make(map[string]map[int]func()),
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	// user_version based migrations
	var ver int
	_ = s.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&ver)

	// v1: documents table
	if ver == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS documents (
  collection TEXT NOT NULL,
  id         TEXT NOT NULL,
  data       TEXT NOT NULL,
  PRIMARY KEY (collection, id)
);
`)
		if err == nil {
			_, err = tx.ExecContext(ctx, "PRAGMA user_version=1;")
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate v1: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the document's fields, or ErrDocumentMissing if it does not exist.
func (s *Store) Get(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection=? AND id=?`, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return decodeDoc(raw)
}

// Set writes the document wholesale, creating it if needed.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]interface{}) error {
	raw, err := encodeDoc(data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO documents(collection, id, data) VALUES(?,?,?)
ON CONFLICT(collection, id) DO UPDATE SET data=excluded.data;`, collection, id, raw)
	if err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	s.notify(collection, id)
	return nil
}

// Update applies a merge patch to an existing document. Patch values equal to
// the Delete sentinel remove the field. Updating a missing document is an
// error: it indicates a stale reference, not a document to fabricate.
func (s *Store) Update(ctx context.Context, collection, id string, patch Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection=? AND id=?`, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		_ = tx.Rollback()
		return fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentMissing)
	}
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("read document: %w", err)
	}
	data, err := decodeDoc(raw)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	applyPatch(data, patch)
	merged, err := encodeDoc(data)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET data=? WHERE collection=? AND id=?`, merged, collection, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.notify(collection, id)
	return nil
}

// DeleteDoc removes a document entirely. Deleting a missing document is a no-op.
func (s *Store) DeleteDoc(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection=? AND id=?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	s.notify(collection, id)
	return nil
}

func applyPatch(data map[string]interface{}, patch Patch) {
	for key, value := range patch {
		if _, isDelete := value.(deleteSentinel); isDelete {
			delete(data, key)
			continue
		}
		data[key] = value
	}
}

func encodeDoc(data map[string]interface{}) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(raw), nil
}

func decodeDoc(raw string) (map[string]interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return data, nil
}
