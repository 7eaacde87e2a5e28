package metadata

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajramos/mailtriage/internal/docstore"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	docs, err := docstore.Open(context.Background(), filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })
	return NewStore(docs)
}

func TestFetchCreatesDefaultRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	meta, err := store.Fetch(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "", meta.HistoryID)
	assert.Empty(t, meta.MessageIDs)
	require.NotNil(t, meta.ReadCount)
	assert.Zero(t, *meta.ReadCount)

	// The default is persisted, not just returned.
	again, err := store.Fetch(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, meta.HistoryID, again.HistoryID)
}

func TestUpdateThreadThenFetch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Fetch(ctx, "t1")
	require.NoError(t, err)

	u := &Update{
		HasLabel: Set(true),
		LabelID:  Set(int64(3)),
	}
	require.NoError(t, store.UpdateThread(ctx, "t1", u))

	meta, err := store.Fetch(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, meta.HasLabel)
	assert.Equal(t, int64(3), meta.LabelID)
}

func TestUpdateThreadClearRemovesField(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Fetch(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, store.UpdateThread(ctx, "t1", &Update{Muted: Set(true)}))
	require.NoError(t, store.UpdateThread(ctx, "t1", &Update{Muted: Clear[bool]()}))

	meta, err := store.Fetch(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, meta.Muted)
}

func TestClearedUpdateFields(t *testing.T) {
	u := ClearedUpdate(false)
	assert.True(t, u.HasLabel.IsCleared())
	assert.True(t, u.HasPriority.IsCleared())
	assert.True(t, u.PriorityID.IsCleared())
	assert.True(t, u.NeedsRetriage.IsCleared())
	assert.True(t, u.Blocked.IsCleared())
	assert.True(t, u.Muted.IsCleared())
	assert.True(t, u.Queued.IsCleared())
	assert.True(t, u.ArchivedByFilter.IsCleared())
	assert.True(t, u.FinalVersion.IsCleared())
	assert.False(t, u.MoveToInbox.Touched(), "keep-in-inbox leaves moveToInbox alone")
	assert.False(t, u.Due.Touched())
	assert.False(t, u.LabelID.Touched())
}

func TestClearedUpdateRemoveFromInbox(t *testing.T) {
	u := ClearedUpdate(true)
	assert.True(t, u.MoveToInbox.IsCleared())
	assert.True(t, u.Due.IsCleared())
	assert.True(t, u.LabelID.IsCleared())
}

func TestSubscribeFiresOnThreadChange(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Fetch(ctx, "t1")
	require.NoError(t, err)

	var changed []string
	unsub := store.Subscribe(func(id string) { changed = append(changed, id) })
	defer unsub()

	require.NoError(t, store.UpdateThread(ctx, "t1", &Update{Queued: Set(true)}))
	assert.Equal(t, []string{"t1"}, changed)
}

func TestWhereQuery(t *testing.T) {
	q := WhereQuery(KeyHasLabel)
	assert.Equal(t, Collection, q.Collection)
	assert.Equal(t, KeyHasLabel, q.Field)
	assert.Equal(t, true, q.Equals)
	assert.Equal(t, KeyTimestamp, q.OrderBy)
}

func TestDeleteRemovesRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Fetch(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, store.UpdateThread(ctx, "t1", &Update{Muted: Set(true)}))
	require.NoError(t, store.Delete(ctx, "t1"))

	// Fetch recreates the default rather than resurrecting old fields.
	meta, err := store.Fetch(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, meta.Muted)
}
