package docstore

import (
	"context"
	"database/sql"
	"fmt"
)

// Txn is a read-modify-write transaction over the document store. All reads
// and writes inside the transaction see a consistent view; two clients racing
// to mutate the same document never both succeed with stale reads.
type Txn struct {
	ctx     context.Context
	tx      *sql.Tx
	touched []touchedDoc
}

type touchedDoc struct {
	collection string
	id         string
}

// RunTransaction executes fn inside a transaction. If fn returns an error the
// transaction is rolled back and the error is returned unchanged. Change
// notifications for documents written inside the transaction fire after a
// successful commit.
func (s *Store) RunTransaction(ctx context.Context, fn func(txn *Txn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	txn := &Txn{ctx: ctx, tx: tx}
	if err := fn(txn); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	for _, doc := range txn.touched {
		s.notify(doc.collection, doc.id)
	}
	return nil
}

// Get reads a document inside the transaction. A missing document aborts the
// caller's read-modify-write with ErrDocumentMissing; the transaction must
// never fabricate a write for it.
func (t *Txn) Get(collection, id string) (map[string]interface{}, error) {
	var raw string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT data FROM documents WHERE collection=? AND id=?`, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("transactional read: %w", err)
	}
	return decodeDoc(raw)
}

// Set writes a document wholesale inside the transaction.
func (t *Txn) Set(collection, id string, data map[string]interface{}) error {
	raw, err := encodeDoc(data)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `INSERT INTO documents(collection, id, data) VALUES(?,?,?)
ON CONFLICT(collection, id) DO UPDATE SET data=excluded.data;`, collection, id, raw)
	if err != nil {
		return fmt.Errorf("transactional write: %w", err)
	}
	t.touched = append(t.touched, touchedDoc{collection: collection, id: id})
	return nil
}

// Update applies a merge patch inside the transaction. The target document
// must exist.
func (t *Txn) Update(collection, id string, patch Patch) error {
	data, err := t.Get(collection, id)
	if err != nil {
		return err
	}
	applyPatch(data, patch)
	return t.Set(collection, id, data)
}
