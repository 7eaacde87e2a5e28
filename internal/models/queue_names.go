package models

import (
	"context"
	"fmt"
	"sync"

	"github.com/ajramos/mailtriage/internal/docstore"
)

const (
	appCollection = "app"
	nameIDsDoc    = "name-ids"
	threadsDoc    = "threads"
)

// QueueNames is the shared name ↔ id registry for queue/label names. The
// mapping lives in a single document; id allocation runs inside a store
// transaction so two clients racing to name the same queue never mint two
// ids.
type QueueNames struct {
	docs *docstore.Store

	mu      sync.Mutex
	fetched bool
	nameIDs map[string]int64
	idNames map[int64]string
}

// NewQueueNames creates a registry over the given document store.
func NewQueueNames(docs *docstore.Store) *QueueNames {
	return &QueueNames{docs: docs}
}

// Fetch loads the registry document, creating an empty one if needed, and
// subscribes to keep the local cache fresh.
func (q *QueueNames) Fetch(ctx context.Context) error {
	q.mu.Lock()
	fetched := q.fetched
	q.mu.Unlock()
	if fetched {
		return nil
	}

	err := q.docs.RunTransaction(ctx, func(txn *docstore.Txn) error {
		data, err := txn.Get(appCollection, nameIDsDoc)
		if err == nil {
			q.setNameIDs(data)
			return nil
		}
		data = map[string]interface{}{"lastId": 0, "map": map[string]interface{}{}}
		if err := txn.Set(appCollection, nameIDsDoc, data); err != nil {
			return err
		}
		q.setNameIDs(data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetch queue names: %w", err)
	}

	q.docs.SubscribeDoc(appCollection, nameIDsDoc, func() {
		data, err := q.docs.Get(context.Background(), appCollection, nameIDsDoc)
		if err != nil {
			return
		}
		q.setNameIDs(data)
	})

	q.mu.Lock()
	q.fetched = true
	q.mu.Unlock()
	return nil
}

func (q *QueueNames) setNameIDs(data map[string]interface{}) {
	nameIDs := make(map[string]int64)
	idNames := make(map[int64]string)
	if m, ok := data["map"].(map[string]interface{}); ok {
		for name, raw := range m {
			if id, ok := asInt64(raw); ok {
				nameIDs[name] = id
				idNames[id] = name
			}
		}
	}
	q.mu.Lock()
	q.nameIDs = nameIDs
	q.idNames = idNames
	q.mu.Unlock()
}

// Names returns the known queue names.
func (q *QueueNames) Names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, 0, len(q.nameIDs))
	for name := range q.nameIDs {
		names = append(names, name)
	}
	return names
}

// Name resolves an id to its name.
func (q *QueueNames) Name(id int64) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	name, ok := q.idNames[id]
	return name, ok
}

// GetID resolves a name to its id, allocating a new id transactionally when
// the name is unseen. Ids start at 1, so 0 always means "absent".
func (q *QueueNames) GetID(ctx context.Context, name string) (int64, error) {
	if err := q.Fetch(ctx); err != nil {
		return 0, err
	}
	q.mu.Lock()
	if id, ok := q.nameIDs[name]; ok {
		q.mu.Unlock()
		return id, nil
	}
	q.mu.Unlock()

	var allocated int64
	err := q.docs.RunTransaction(ctx, func(txn *docstore.Txn) error {
		data, err := txn.Get(appCollection, nameIDsDoc)
		if err != nil {
			return err
		}
		m, _ := data["map"].(map[string]interface{})
		if m == nil {
			m = map[string]interface{}{}
		}
		// Another client may have created an id for this name already.
		if id, ok := asInt64(m[name]); ok {
			allocated = id
			return nil
		}
		lastID, _ := asInt64(data["lastId"])
		newID := lastID + 1
		for _, raw := range m {
			if existing, ok := asInt64(raw); ok && existing == newID {
				return fmt.Errorf("queue id %d already allocated", newID)
			}
		}
		m[name] = newID
		data["map"] = m
		data["lastId"] = newID
		allocated = newID
		if err := txn.Set(appCollection, nameIDsDoc, data); err != nil {
			return err
		}
		// The subscription refreshes the cache too, but callers need the
		// mapping as soon as GetID returns.
		q.setNameIDs(data)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("allocate queue id for %q: %w", name, err)
	}
	return allocated, nil
}

// Delete removes a name from the registry.
func (q *QueueNames) Delete(ctx context.Context, name string) error {
	return q.docs.RunTransaction(ctx, func(txn *docstore.Txn) error {
		data, err := txn.Get(appCollection, nameIDsDoc)
		if err != nil {
			return err
		}
		if m, ok := data["map"].(map[string]interface{}); ok {
			delete(m, name)
			data["map"] = m
		}
		if err := txn.Set(appCollection, nameIDsDoc, data); err != nil {
			return err
		}
		q.setNameIDs(data)
		return nil
	})
}

func asInt64(raw interface{}) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}
