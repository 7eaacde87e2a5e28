package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/ajramos/mailtriage/internal/docstore"
)

// Collection is where per-thread triage records live, keyed by thread id.
const Collection = "thread-metadata"

// Store is the typed wrapper over the shared document store for thread
// metadata.
type Store struct {
	docs *docstore.Store
}

// NewStore creates a metadata store over the given document store.
func NewStore(docs *docstore.Store) *Store {
	return &Store{docs: docs}
}

// Fetch reads the metadata for a thread. If no record exists yet, a zeroed
// default is created atomically and returned; callers never observe a
// partially-initialized record.
func (s *Store) Fetch(ctx context.Context, id string) (*ThreadMetadata, error) {
	var meta *ThreadMetadata
	err := s.docs.RunTransaction(ctx, func(txn *docstore.Txn) error {
		data, err := txn.Get(Collection, id)
		if errors.Is(err, docstore.ErrDocumentMissing) {
			def := Default()
			doc, err := def.ToDoc()
			if err != nil {
				return err
			}
			if err := txn.Set(Collection, id, doc); err != nil {
				return err
			}
			meta = def
			return nil
		}
		if err != nil {
			return err
		}
		meta, err = FromDoc(data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch metadata for %s: %w", id, err)
	}
	return meta, nil
}

// UpdateThread applies a merge patch to a thread's metadata. The local change
// notification fires synchronously once the write has resolved.
func (s *Store) UpdateThread(ctx context.Context, id string, u *Update) error {
	if err := s.docs.Update(ctx, Collection, id, u.Patch()); err != nil {
		return fmt.Errorf("update metadata for %s: %w", id, err)
	}
	return nil
}

// Delete removes a thread's metadata record entirely.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.docs.DeleteDoc(ctx, Collection, id)
}

// ClearedUpdate resets all workflow fields to absent. With removeFromInbox it
// additionally clears moveToInbox, due and labelId; without it the due date
// and label survive so a thread kept in the inbox retains them.
func ClearedUpdate(removeFromInbox bool) *Update {
	u := &Update{
		NeedsRetriage:    Clear[bool](),
		Blocked:          Clear[*Blocked](),
		Muted:            Clear[bool](),
		ArchivedByFilter: Clear[bool](),
		FinalVersion:     Clear[bool](),
		Queued:           Clear[bool](),
		// Intentionally keep labelId and clear only hasLabel so the label a
		// thread came from is still known after it's been triaged. hasLabel is
		// what decides whether the thread shows up for triage.
		HasLabel:    Clear[bool](),
		HasPriority: Clear[bool](),
		PriorityID:  Clear[Priority](),
	}
	if removeFromInbox {
		u.MoveToInbox = Clear[bool]()
		u.Due = Clear[int64]()
		u.LabelID = Clear[int64]()
	}
	return u
}

// ClearMetadata resets a thread's workflow fields via tombstones.
func (s *Store) ClearMetadata(ctx context.Context, id string, removeFromInbox bool) error {
	return s.UpdateThread(ctx, id, ClearedUpdate(removeFromInbox))
}

// Subscribe registers fn for every metadata change, including this client's
// own writes. fn must tolerate redundant invocations.
func (s *Store) Subscribe(fn func(id string)) func() {
	return s.docs.Subscribe(Collection, fn)
}

// WhereQuery builds the one-filter-one-order query shape the store supports:
// equality on a boolean projection field, ordered by timestamp.
func WhereQuery(field string) docstore.Query {
	return docstore.Query{
		Collection: Collection,
		Field:      field,
		Equals:     true,
		OrderBy:    KeyTimestamp,
	}
}
