package models

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ajramos/mailtriage/internal/docstore"
	"github.com/ajramos/mailtriage/internal/metadata"
	"github.com/ajramos/mailtriage/internal/thread"
)

// Destination names where a triaged thread should land. A nil Destination
// archives the thread.
type Destination struct {
	Label string
	Queue bool
}

// ModelSpec is the behavior a concrete list model plugs into the engine:
// which threads belong in the list, how they order, and how they group.
type ModelSpec interface {
	// ShouldShowThread reports whether the thread belongs in this list.
	ShouldShowThread(t *thread.Thread) bool
	// CompareThreads orders two threads. Group contiguity is enforced by
	// the engine after sorting.
	CompareThreads(a, b *thread.Thread) int
	// GroupName assigns the thread to a display group.
	GroupName(t *thread.Thread) string
	// DefaultCollapsed reports whether a group starts collapsed.
	DefaultCollapsed(group string) bool
	// AllowedCount is the per-group cap shown to the user, 0 for no cap.
	AllowedCount(group string) int
	// PostProcess runs after every rebuild with the final thread list.
	PostProcess(threads []*thread.Thread)
	// AdjustUndo lets the model amend the restore delta before an undo
	// is applied.
	AdjustUndo(t *thread.Thread, old *metadata.Update)
}

// ModelDeps bundles the shared collaborators every list model needs.
type ModelDeps struct {
	Docs  *docstore.Store
	Store *metadata.Store
	Cache *thread.Cache
	Log   logrus.FieldLogger
}

type undoEntry struct {
	thread *thread.Thread
	old    *metadata.Update
}

type undoAction struct {
	id      string
	entries []undoEntry
}

// ThreadListModel maintains a sorted, grouped list of threads matching a set
// of metadata queries. Concrete models embed it and provide a ModelSpec.
type ThreadListModel struct {
	docs  *docstore.Store
	store *metadata.Store
	cache *thread.Cache
	log   logrus.FieldLogger
	spec  ModelSpec

	mu               sync.Mutex
	queries          []docstore.Query
	forceTriageIndex int
	threads          []*thread.Thread
	groups           []string
	bestEffort       []*thread.Thread
	collapsed        map[string]bool
	undo             *undoAction
	generation       int
	listeners        []func()
	unsubscribe      func()
}

// NewThreadListModel creates the engine half of a list model. The concrete
// model must call SetQuery or SetQueries before the first Rebuild.
func NewThreadListModel(deps ModelDeps, spec ModelSpec) *ThreadListModel {
	log := deps.Log
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	return &ThreadListModel{
		docs:             deps.Docs,
		store:            deps.Store,
		cache:            deps.Cache,
		log:              log,
		spec:             spec,
		forceTriageIndex: -1,
		collapsed:        make(map[string]bool),
	}
}

// SetQuery configures a single metadata query with no force-triage slot.
func (m *ThreadListModel) SetQuery(q docstore.Query) {
	m.SetQueries(-1, q)
}

// SetQueries configures the metadata queries feeding the list.
// forceTriageIndex marks at most one query whose matches are flagged for
// forced triage; pass -1 for none.
func (m *ThreadListModel) SetQueries(forceTriageIndex int, queries ...docstore.Query) {
	m.mu.Lock()
	m.queries = queries
	m.forceTriageIndex = forceTriageIndex
	alreadySubscribed := m.unsubscribe != nil
	m.mu.Unlock()

	if !alreadySubscribed {
		unsub := m.store.Subscribe(func(string) {
			if err := m.Rebuild(context.Background()); err != nil {
				m.log.WithError(err).Warn("thread list rebuild failed")
			}
		})
		m.mu.Lock()
		m.unsubscribe = unsub
		m.mu.Unlock()
	}
}

// Teardown detaches the model from the store. Rebuilds started before
// teardown discard their results.
func (m *ThreadListModel) Teardown() {
	m.mu.Lock()
	m.generation++
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// AddListener registers a callback invoked after every completed rebuild.
func (m *ThreadListModel) AddListener(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Rebuild runs the configured queries and recomputes the sorted, grouped
// thread list. Results from a rebuild that raced with Teardown or a newer
// rebuild are dropped.
func (m *ThreadListModel) Rebuild(ctx context.Context) error {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	queries := make([]docstore.Query, len(m.queries))
	copy(queries, m.queries)
	forceIndex := m.forceTriageIndex
	m.mu.Unlock()

	seen := make(map[string]bool)
	var candidates []*thread.Thread
	for i, q := range queries {
		snapshots, err := m.docs.RunQuery(ctx, q)
		if err != nil {
			return fmt.Errorf("list query on %q: %w", q.Field, err)
		}
		for _, snap := range snapshots {
			meta, err := metadata.FromDoc(snap.Data)
			if err != nil {
				m.log.WithError(err).WithField("thread", snap.ID).Warn("skipping thread with bad metadata")
				continue
			}
			t := m.cache.Get(snap.ID, meta)
			if seen[snap.ID] {
				continue
			}
			seen[snap.ID] = true
			t.SetForceTriage(i == forceIndex)
			if m.spec.ShouldShowThread(t) {
				candidates = append(candidates, t)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return m.spec.CompareThreads(candidates[i], candidates[j]) < 0
	})
	threads, groups := m.partitionGroups(candidates)

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return nil
	}
	m.threads = threads
	m.groups = groups
	listeners := make([]func(), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.spec.PostProcess(threads)
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// partitionGroups reorders a sorted slice so each group's threads are
// contiguous, in the order groups first appear.
func (m *ThreadListModel) partitionGroups(sorted []*thread.Thread) ([]*thread.Thread, []string) {
	var order []string
	buckets := make(map[string][]*thread.Thread)
	for _, t := range sorted {
		group := m.spec.GroupName(t)
		if _, ok := buckets[group]; !ok {
			order = append(order, group)
		}
		buckets[group] = append(buckets[group], t)
	}
	out := make([]*thread.Thread, 0, len(sorted))
	for _, group := range order {
		out = append(out, buckets[group]...)
	}
	return out, order
}

// GetThreads returns the current list in display order.
func (m *ThreadListModel) GetThreads() []*thread.Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*thread.Thread, len(m.threads))
	copy(out, m.threads)
	return out
}

// GroupNames returns the display groups in list order.
func (m *ThreadListModel) GroupNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.groups))
	copy(out, m.groups)
	return out
}

// Collapsed reports whether a group is collapsed, falling back to the
// model's default when the user never toggled it.
func (m *ThreadListModel) Collapsed(group string) bool {
	m.mu.Lock()
	collapsed, ok := m.collapsed[group]
	m.mu.Unlock()
	if ok {
		return collapsed
	}
	return m.spec.DefaultCollapsed(group)
}

// SetCollapsed records a user toggle for a group.
func (m *ThreadListModel) SetCollapsed(group string, collapsed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collapsed[group] = collapsed
}

// AllowedCount exposes the per-group cap for display-time warnings.
func (m *ThreadListModel) AllowedCount(group string) int {
	return m.spec.AllowedCount(group)
}

// PushBestEffortThread parks an auto-triaged thread in the holding area
// instead of surfacing it immediately.
func (m *ThreadListModel) PushBestEffortThread(t *thread.Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bestEffort = append(m.bestEffort, t)
}

// HasBestEffortThreads reports whether the holding area is non-empty.
func (m *ThreadListModel) HasBestEffortThreads() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bestEffort) > 0
}

// ReleaseBestEffortThreads empties the holding area and returns its
// contents so the caller can triage them explicitly.
func (m *ThreadListModel) ReleaseBestEffortThreads() []*thread.Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.bestEffort
	m.bestEffort = nil
	return out
}

// MarkSingleThreadTriaged applies the destination delta to one thread,
// recording a fresh undo slot. expectedMessageCount, when non-negative,
// guards against triaging a thread that grew new messages since the user
// saw it; the action is skipped in that case.
func (m *ThreadListModel) MarkSingleThreadTriaged(ctx context.Context, t *thread.Thread, dest *Destination, expectedMessageCount int) error {
	return m.markTriaged(ctx, []*thread.Thread{t}, dest, expectedMessageCount)
}

// MarkThreadsTriaged applies the destination delta to a batch of threads as
// one undoable action.
func (m *ThreadListModel) MarkThreadsTriaged(ctx context.Context, threads []*thread.Thread, dest *Destination) error {
	return m.markTriaged(ctx, threads, dest, -1)
}

func (m *ThreadListModel) markTriaged(ctx context.Context, threads []*thread.Thread, dest *Destination, expectedMessageCount int) error {
	// The undo slot is only claimed once a thread actually gets triaged, so
	// a run where every thread is skipped leaves the previous action intact.
	action := &undoAction{id: uuid.NewString()}
	installed := false

	for _, t := range threads {
		if expectedMessageCount >= 0 {
			count, err := t.MessageCount()
			if err != nil {
				return err
			}
			if count != expectedMessageCount {
				m.log.WithField("thread", t.ID()).Info("skipping triage, thread has new messages")
				continue
			}
		}

		update, err := m.destinationUpdate(ctx, t, dest)
		if err != nil {
			return fmt.Errorf("triage %s: %w", t.ID(), err)
		}
		old := t.OldMetadataState(update)

		m.mu.Lock()
		if !installed {
			m.undo = action
			installed = true
		}
		if m.undo == action {
			action.entries = append(action.entries, undoEntry{thread: t, old: old})
		}
		m.mu.Unlock()

		t.SetActionInProgress(true)
		if err := t.UpdateMetadata(ctx, update); err != nil {
			return fmt.Errorf("triage %s: %w", t.ID(), err)
		}
	}
	return nil
}

func (m *ThreadListModel) destinationUpdate(ctx context.Context, t *thread.Thread, dest *Destination) (*metadata.Update, error) {
	if dest == nil {
		return t.ArchiveUpdate(false)
	}
	return t.SetLabelAndQueuedUpdate(ctx, dest.Queue, dest.Label, true)
}

// HasUndoAction reports whether an undoable action is pending.
func (m *ThreadListModel) HasUndoAction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.undo != nil
}

// UndoLastAction restores the metadata captured before the most recent
// triage action. Only the latest action is undoable; a new action replaces
// the slot.
func (m *ThreadListModel) UndoLastAction(ctx context.Context) error {
	m.mu.Lock()
	action := m.undo
	m.undo = nil
	m.mu.Unlock()
	if action == nil {
		return nil
	}

	for _, entry := range action.entries {
		m.spec.AdjustUndo(entry.thread, entry.old)
		entry.thread.SetActionInProgress(true)
		if err := entry.thread.UpdateMetadata(ctx, entry.old); err != nil {
			return fmt.Errorf("undo %s: %w", entry.thread.ID(), err)
		}
	}
	return nil
}
