package docstore

import "errors"

// ErrDocumentMissing is returned when a read targets a document that does not
// exist. Callers performing read-modify-write must surface it rather than
// fabricate a document: a missing document usually means the entity was
// deleted, not a transient race.
var ErrDocumentMissing = errors.New("document does not exist")

// Patch is a sparse field update. A value of Delete removes the field.
type Patch map[string]interface{}

type deleteSentinel struct{}

// Delete is the tombstone value used in a Patch to remove a field.
var Delete = deleteSentinel{}

// Snapshot is one query result: a document id plus its decoded fields.
type Snapshot struct {
	ID   string
	Data map[string]interface{}
}

// Query selects documents in a collection by a single equality filter,
// ordered by a single field. Both constraints mirror the store's query
// engine: range filtering is only possible on the ordering field.
type Query struct {
	Collection string
	Field      string
	Equals     interface{}
	OrderBy    string
	Descending bool
}
