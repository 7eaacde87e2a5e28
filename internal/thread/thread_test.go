package thread

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/ajramos/mailtriage/internal/docstore"
	"github.com/ajramos/mailtriage/internal/localstore"
	"github.com/ajramos/mailtriage/internal/metadata"
)

type fakeProvider struct {
	mu               sync.Mutex
	thread           *gmailv1.Thread
	threadCalls      int
	summaryCalls     int
	messageCalls     int
	blockThreadFetch chan struct{}
	messagesByID     map[string]*gmailv1.Message
}

func (p *fakeProvider) GetThread(_ context.Context, threadID string) (*gmailv1.Thread, error) {
	p.mu.Lock()
	p.threadCalls++
	block := p.blockThreadFetch
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	return p.thread, nil
}

func (p *fakeProvider) GetThreadSummary(_ context.Context, threadID string) (*gmailv1.Thread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaryCalls++
	summary := &gmailv1.Thread{Id: p.thread.Id, HistoryId: p.thread.HistoryId}
	for _, msg := range p.thread.Messages {
		summary.Messages = append(summary.Messages, &gmailv1.Message{
			Id:           msg.Id,
			LabelIds:     msg.LabelIds,
			InternalDate: msg.InternalDate,
		})
	}
	return summary, nil
}

func (p *fakeProvider) GetMessage(_ context.Context, messageID string) (*gmailv1.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messageCalls++
	if msg, ok := p.messagesByID[messageID]; ok {
		return msg, nil
	}
	for _, msg := range p.thread.Messages {
		if msg.Id == messageID {
			return msg, nil
		}
	}
	return nil, assert.AnError
}

type fakeRegistry struct {
	mu     sync.Mutex
	nextID int64
	ids    map[string]int64
	names  map[int64]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{ids: map[string]int64{}, names: map[int64]string{}}
}

func (r *fakeRegistry) GetID(_ context.Context, name string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[name]; ok {
		return id, nil
	}
	r.nextID++
	r.ids[name] = r.nextID
	r.names[r.nextID] = name
	return r.nextID, nil
}

func (r *fakeRegistry) Name(id int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[id]
	return name, ok
}

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (f *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.data[key]
	return raw, ok, nil
}

func (f *memKV) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *memKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *memKV) Keys(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

type fixture struct {
	store    *metadata.Store
	provider *fakeProvider
	registry *fakeRegistry
	cache    *Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs, err := docstore.Open(context.Background(), filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	provider := &fakeProvider{
		thread:       &gmailv1.Thread{Id: "t1"},
		messagesByID: map[string]*gmailv1.Message{},
	}
	registry := newFakeRegistry()
	store := metadata.NewStore(docs)
	cache := NewCache(Deps{
		Store:    store,
		Provider: provider,
		Labels:   registry,
		Messages: localstore.NewMessageStore(newMemKV(), nil),
	})
	return &fixture{store: store, provider: provider, registry: registry, cache: cache}
}

func (f *fixture) thread(t *testing.T, id string) *Thread {
	t.Helper()
	meta, err := f.store.Fetch(context.Background(), id)
	require.NoError(t, err)
	return f.cache.Get(id, meta)
}

func message(id string, internalDate int64, labels ...string) *gmailv1.Message {
	return &gmailv1.Message{Id: id, InternalDate: internalDate, LabelIds: labels}
}

func TestCacheReturnsSameInstance(t *testing.T) {
	f := newFixture(t)
	a := f.thread(t, "t1")
	b := f.thread(t, "t1")
	assert.Same(t, a, b)
	assert.Equal(t, 1, f.cache.Len())
}

func TestMessageCountFailsBeforeLoad(t *testing.T) {
	f := newFixture(t)
	th := f.thread(t, "t1")

	_, err := th.MessageCount()
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestMessageCountIncludesSentMessages(t *testing.T) {
	f := newFixture(t)
	th := f.thread(t, "t1")

	require.NoError(t, f.store.UpdateThread(context.Background(), "t1", &metadata.Update{
		MessageIDs: metadata.Set([]string{"m1", "m2"}),
	}))
	meta, err := f.store.Fetch(context.Background(), "t1")
	require.NoError(t, err)
	th = f.cache.Get("t1", meta)

	th.RecordSentMessage("sent-1")
	count, err := th.MessageCount()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestUpdateFetchesFullThreadWhenNothingCached(t *testing.T) {
	f := newFixture(t)
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100), message("m2", 200)},
	}
	th := f.thread(t, "t1")

	require.NoError(t, th.Update(context.Background()))

	assert.Equal(t, 1, f.provider.threadCalls)
	assert.Equal(t, 0, f.provider.summaryCalls)
	assert.Equal(t, "7", th.ProcessedHistoryID())
	assert.Equal(t, "7", th.HistoryID())
	assert.Equal(t, []string{"m1", "m2"}, th.MessageIDs())
	assert.Equal(t, time.UnixMilli(200), th.Date())
}

func TestUpdateShortCircuitsWhenConverged(t *testing.T) {
	f := newFixture(t)
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100)},
	}
	th := f.thread(t, "t1")
	require.NoError(t, th.Update(context.Background()))

	require.NoError(t, th.Update(context.Background()))

	assert.Equal(t, 1, f.provider.threadCalls, "converged state must not refetch the thread")
	assert.Equal(t, 1, f.provider.summaryCalls)
	assert.Equal(t, 0, f.provider.messageCalls)
}

func TestUpdateFetchesOnlyNewMessages(t *testing.T) {
	f := newFixture(t)
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100, "INBOX")},
	}
	th := f.thread(t, "t1")
	require.NoError(t, th.Update(context.Background()))

	// A new message arrives and the old one loses INBOX.
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 8,
		Messages: []*gmailv1.Message{
			message("m1", 100, "UNREAD"),
			message("m2", 200, "INBOX"),
		},
	}

	require.NoError(t, th.Update(context.Background()))

	assert.Equal(t, 1, f.provider.threadCalls)
	assert.Equal(t, 1, f.provider.messageCalls, "only the new message is fetched in full")
	assert.Equal(t, []string{"m1", "m2"}, th.MessageIDs())
	// The cached message picked up the provider's label change.
	assert.Equal(t, []string{"UNREAD"}, th.Messages()[0].LabelIds)
}

func TestUpdateSyncPrunesSentMessages(t *testing.T) {
	f := newFixture(t)
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100), message("sent-1", 200)},
	}
	th := f.thread(t, "t1")
	th.RecordSentMessage("sent-1")

	require.NoError(t, th.Update(context.Background()))

	count, err := th.MessageCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count, "a sent message reflected by the provider is no longer double counted")
}

func TestConcurrentFetchesShareOneNetworkCall(t *testing.T) {
	f := newFixture(t)
	block := make(chan struct{})
	f.provider.blockThreadFetch = block
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100)},
	}
	th := f.thread(t, "t1")

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = th.fetchFromNetwork(context.Background())
		}(i)
	}
	// Let the goroutines pile onto the in-flight slot before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(block)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.provider.threadCalls)
}

func TestFetchFromDiskUsesLocalCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kv := newMemKV()
	local := localstore.NewMessageStore(kv, nil)
	f.cache = NewCache(Deps{
		Store:    f.store,
		Provider: f.provider,
		Labels:   f.registry,
		Messages: local,
	})
	local.Write(ctx, "t1", "9", []*gmailv1.Message{message("m1", 100)})

	th := f.thread(t, "t1")
	require.NoError(t, th.FetchFromDisk(ctx))

	assert.Equal(t, "9", th.ProcessedHistoryID())
	require.Len(t, th.Messages(), 1)
	assert.Equal(t, 0, f.provider.threadCalls, "disk hit must not touch the network")
}

func TestArchiveUpdateClearsWorkflowState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100), message("m2", 200)},
	}
	th := f.thread(t, "t1")
	require.NoError(t, th.Update(ctx))
	require.NoError(t, th.SetLabelAndQueued(ctx, false, "newsletters", true))

	u, err := th.ArchiveUpdate(false)
	require.NoError(t, err)
	assert.True(t, u.HasLabel.IsCleared())
	assert.True(t, u.CountToArchive.IsSet())
	assert.Equal(t, 2, u.CountToArchive.Value())
	assert.True(t, th.NeedsTriage(), "the builder itself must not mutate state")

	require.NoError(t, th.UpdateMetadata(ctx, u))
	assert.False(t, th.NeedsTriage())
	assert.Equal(t, 2, th.CountToArchive())
}

func TestArchiveRepeatBecomesStuck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100)},
	}
	th := f.thread(t, "t1")
	require.NoError(t, th.Update(ctx))
	require.NoError(t, th.UpdateMetadata(ctx, th.RepeatUpdate()))

	require.NoError(t, th.Archive(ctx, false))

	assert.True(t, th.IsStuck(), "archiving a repeating thread defers it instead")
	date, err := th.StuckDate()
	require.NoError(t, err)
	require.NotNil(t, date)
	assert.True(t, date.After(time.Now()))
}

func TestMuteRepeatRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100)},
	}
	th := f.thread(t, "t1")
	require.NoError(t, th.Update(ctx))
	require.NoError(t, th.UpdateMetadata(ctx, th.RepeatUpdate()))

	err := th.Mute(ctx)
	assert.ErrorIs(t, err, ErrCannotMuteRepeat)
	assert.False(t, th.IsMuted())
}

func TestSetLabelAndQueuedClearsStuck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100)},
	}
	th := f.thread(t, "t1")
	require.NoError(t, th.Update(ctx))
	require.NoError(t, th.UpdateMetadata(ctx, th.StuckDaysUpdate(3, false)))
	require.True(t, th.IsStuck())

	require.NoError(t, th.SetLabelAndQueued(ctx, true, "newsletters", true))

	assert.False(t, th.IsStuck())
	assert.True(t, th.IsQueued())
	assert.Equal(t, "newsletters", th.Label())
}

func TestStuckDateLegacyForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Simulate an old client's write of the boolean form.
	docs, err := docstore.Open(ctx, filepath.Join(t.TempDir(), "legacy.db"))
	require.NoError(t, err)
	defer func() { _ = docs.Close() }()
	require.NoError(t, docs.Set(ctx, metadata.Collection, "t1", map[string]interface{}{
		"blocked": true,
	}))
	store := metadata.NewStore(docs)
	meta, err := store.Fetch(ctx, "t1")
	require.NoError(t, err)

	cache := NewCache(Deps{Store: store, Provider: f.provider, Labels: f.registry,
		Messages: localstore.NewMessageStore(newMemKV(), nil)})
	th := cache.Get("t1", meta)

	require.True(t, th.IsStuck())
	date, err := th.StuckDate()
	require.NoError(t, err)
	require.NotNil(t, date)
	assert.True(t, date.After(time.Now()), "legacy true means stuck until tomorrow")
}

func TestStuckDateInvalidForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	docs, err := docstore.Open(ctx, filepath.Join(t.TempDir(), "legacy.db"))
	require.NoError(t, err)
	defer func() { _ = docs.Close() }()
	require.NoError(t, docs.Set(ctx, metadata.Collection, "t1", map[string]interface{}{
		"blocked": false,
	}))
	store := metadata.NewStore(docs)
	meta, err := store.Fetch(ctx, "t1")
	require.NoError(t, err)

	cache := NewCache(Deps{Store: store, Provider: f.provider, Labels: f.registry,
		Messages: localstore.NewMessageStore(newMemKV(), nil)})
	th := cache.Get("t1", meta)

	_, err = th.StuckDate()
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestIsUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100), message("m2", 200)},
	}
	th := f.thread(t, "t1")
	require.NoError(t, th.Update(ctx))

	assert.True(t, th.IsUnread(), "readCount 0 of 2 is unread")

	require.NoError(t, th.MarkRead(ctx))
	assert.False(t, th.IsUnread())

	// MarkRead also queues the provider-side work.
	assert.Equal(t, 2, th.Metadata().CountToMarkRead)
}

func TestUpdateMetadataClearsActionInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100)},
	}
	th := f.thread(t, "t1")
	require.NoError(t, th.Update(ctx))

	inProgressChanges := 0
	th.OnInProgressChanged(func() { inProgressChanges++ })

	th.SetActionInProgress(true)
	require.True(t, th.ActionInProgress())
	require.False(t, th.ActionInProgressTime().IsZero())

	require.NoError(t, th.SetOnlyFinalVersion(ctx, true))
	assert.False(t, th.ActionInProgress())
	assert.Equal(t, 1, inProgressChanges)
	assert.True(t, th.FinalVersion())
}

func TestDueUpdateKeepsWorkflowState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100)},
	}
	th := f.thread(t, "t1")
	require.NoError(t, th.Update(ctx))
	require.NoError(t, th.SetPriority(ctx, metadata.MustDo, false))

	due := time.Now().AddDate(0, 0, 5)
	require.NoError(t, th.UpdateMetadata(ctx, th.DueUpdate(due, false)))

	assert.Equal(t, metadata.MustDo, th.PriorityID(), "setting a due date must not reset priority")
	assert.True(t, th.HasDueDate())
	require.NotNil(t, th.DueDate())
	assert.Equal(t, due.UnixMilli(), th.DueDate().UnixMilli())
}

func TestClearStuckReentersTriage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100)},
	}
	th := f.thread(t, "t1")
	require.NoError(t, th.Update(ctx))
	require.NoError(t, th.UpdateMetadata(ctx, th.StuckDaysUpdate(3, false)))

	require.NoError(t, th.UpdateMetadata(ctx, th.ClearStuckUpdate(false)))

	assert.False(t, th.IsStuck())
	assert.True(t, th.NeedsTriage(), "clearing stuck routes the thread back through triage")
}

func TestOldMetadataStateRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.thread = &gmailv1.Thread{
		Id:        "t1",
		HistoryId: 7,
		Messages:  []*gmailv1.Message{message("m1", 100)},
	}
	th := f.thread(t, "t1")
	require.NoError(t, th.Update(ctx))
	require.NoError(t, th.SetLabelAndQueued(ctx, false, "newsletters", true))
	require.NoError(t, th.SetPriority(ctx, metadata.Urgent, false))

	u, err := th.ArchiveUpdate(false)
	require.NoError(t, err)
	old := th.OldMetadataState(u)
	require.NoError(t, th.UpdateMetadata(ctx, u))
	require.False(t, th.NeedsTriage())

	require.NoError(t, th.UpdateMetadata(ctx, old))

	assert.Equal(t, metadata.Urgent, th.PriorityID())
	assert.True(t, th.Metadata().HasPriority)
	assert.Equal(t, "newsletters", th.Label())
	assert.Zero(t, th.CountToArchive(), "the archive count queued by the undone action is rolled back")
}

func TestUpdateMetadataRefreshesLocalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	th := f.thread(t, "t1")
	require.False(t, th.NeedsTriage())

	require.NoError(t, th.SetLabelAndQueued(ctx, false, "newsletters", true))

	assert.True(t, th.NeedsTriage(), "predicates see the write without waiting for an external refresh")
	fresh, err := f.store.Fetch(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, fresh.HasLabel, th.Metadata().HasLabel)
	assert.Equal(t, fresh.LabelID, th.Metadata().LabelID)
}
