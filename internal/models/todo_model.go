package models

import (
	"context"
	"fmt"
	"sync"

	"github.com/ajramos/mailtriage/internal/config"
	"github.com/ajramos/mailtriage/internal/docstore"
	"github.com/ajramos/mailtriage/internal/metadata"
	"github.com/ajramos/mailtriage/internal/thread"
)

const maxBadgeCount = 99

// TodoModel lists prioritized threads grouped by priority, pinned threads
// first, with an optional user-defined manual order per priority. Threads
// still needing triage are folded in at the top via the force-triage slot.
type TodoModel struct {
	*ThreadListModel
	cfg      *config.Config
	queues   *config.QueueSettings
	setBadge func(count int)

	sortMu     sync.Mutex
	sortData   map[metadata.Priority][]string
	sortCount  int
	badgeCount int
}

// NewTodoModel builds the todo list. setBadge, when non-nil, receives the
// count of pinned and must-do threads after every rebuild, capped at 99.
func NewTodoModel(ctx context.Context, deps ModelDeps, cfg *config.Config, queues *config.QueueSettings, setBadge func(int)) (*TodoModel, error) {
	m := &TodoModel{
		cfg:        cfg,
		queues:     queues,
		setBadge:   setBadge,
		badgeCount: -1,
	}
	m.ThreadListModel = NewThreadListModel(deps, m)

	if err := m.ensureThreadsDoc(ctx); err != nil {
		return nil, err
	}
	if err := m.loadSortData(ctx); err != nil {
		return nil, err
	}

	// Writes we made ourselves arrive back through this subscription;
	// the counter keeps them from forcing a redundant rebuild.
	deps.Docs.SubscribeDoc(appCollection, threadsDoc, func() {
		m.sortMu.Lock()
		if m.sortCount > 0 {
			m.sortCount--
			m.sortMu.Unlock()
			return
		}
		m.sortMu.Unlock()
		if err := m.loadSortData(context.Background()); err != nil {
			m.log.WithError(err).Warn("reloading manual sort order failed")
			return
		}
		if err := m.Rebuild(context.Background()); err != nil {
			m.log.WithError(err).Warn("todo list rebuild failed")
		}
	})

	m.SetQueries(0,
		metadata.WhereQuery(metadata.KeyHasLabel),
		metadata.WhereQuery(metadata.KeyHasPriority),
	)
	return m, nil
}

func (m *TodoModel) ensureThreadsDoc(ctx context.Context) error {
	err := m.docs.RunTransaction(ctx, func(txn *docstore.Txn) error {
		if _, err := txn.Get(appCollection, threadsDoc); err == nil {
			return nil
		}
		return txn.Set(appCollection, threadsDoc, map[string]interface{}{})
	})
	if err != nil {
		return fmt.Errorf("ensure sort document: %w", err)
	}
	return nil
}

func sortKey(p metadata.Priority) string {
	return fmt.Sprintf("sort-priority-%d", p)
}

func (m *TodoModel) loadSortData(ctx context.Context) error {
	data, err := m.docs.Get(ctx, appCollection, threadsDoc)
	if err != nil {
		return fmt.Errorf("load sort document: %w", err)
	}
	sortData := make(map[metadata.Priority][]string)
	for _, p := range metadata.PrioritySortOrder {
		raw, ok := data[sortKey(p)].([]interface{})
		if !ok {
			continue
		}
		ids := make([]string, 0, len(raw))
		for _, v := range raw {
			if id, ok := v.(string); ok {
				ids = append(ids, id)
			}
		}
		sortData[p] = ids
	}
	m.sortMu.Lock()
	m.sortData = sortData
	m.sortMu.Unlock()
	return nil
}

// SetSortOrder persists a manual order for the priority group the given
// threads belong to and resorts the list.
func (m *TodoModel) SetSortOrder(ctx context.Context, p metadata.Priority, threads []*thread.Thread) error {
	ids := make([]string, len(threads))
	ifaceIDs := make([]interface{}, len(threads))
	for i, t := range threads {
		ids[i] = t.ID()
		ifaceIDs[i] = t.ID()
	}

	m.sortMu.Lock()
	if m.sortData == nil {
		m.sortData = make(map[metadata.Priority][]string)
	}
	m.sortData[p] = ids
	m.sortCount++
	m.sortMu.Unlock()

	patch := docstore.Patch{sortKey(p): ifaceIDs}
	if err := m.docs.Update(ctx, appCollection, threadsDoc, patch); err != nil {
		m.sortMu.Lock()
		if m.sortCount > 0 {
			m.sortCount--
		}
		m.sortMu.Unlock()
		return fmt.Errorf("save sort order: %w", err)
	}
	return m.Rebuild(ctx)
}

func (m *TodoModel) manualOrder(p metadata.Priority) []string {
	m.sortMu.Lock()
	defer m.sortMu.Unlock()
	return m.sortData[p]
}

// ShouldShowThread keeps prioritized threads plus any force-triage threads.
// In vacation mode, triage threads are restricted to the vacation label and
// prioritized threads to MustDo and Pin.
func (m *TodoModel) ShouldShowThread(t *thread.Thread) bool {
	vacation := ""
	if m.cfg != nil {
		vacation = m.cfg.VacationLabel
	}
	if t.ForceTriage() || t.NeedsTriage() {
		return vacation == "" || t.Label() == vacation
	}
	meta := t.Metadata()
	if !meta.HasPriority || meta.PriorityID == 0 {
		return false
	}
	if vacation != "" && meta.PriorityID != metadata.MustDo && meta.PriorityID != metadata.Pin {
		return false
	}
	return true
}

// CompareThreads orders pinned threads first, then force-triage threads in
// triage order, then by priority, manual order, unread, and date.
func (m *TodoModel) CompareThreads(a, b *thread.Thread) int {
	aPinned := a.PriorityID() == metadata.Pin
	bPinned := b.PriorityID() == metadata.Pin
	if aPinned != bPinned {
		if aPinned {
			return -1
		}
		return 1
	}

	if a.ForceTriage() || b.ForceTriage() {
		if a.ForceTriage() && b.ForceTriage() {
			return compareTriageThreads(m.queues, a, b)
		}
		if a.ForceTriage() {
			return -1
		}
		return 1
	}

	if a.PriorityID() != b.PriorityID() {
		return metadata.ComparePriorities(a.PriorityID(), b.PriorityID())
	}

	if order := m.manualOrder(a.PriorityID()); len(order) > 0 {
		aIdx := indexOf(order, a.ID())
		bIdx := indexOf(order, b.ID())
		if aIdx != -1 || bIdx != -1 {
			// Threads absent from the manual order sort to the top so
			// new arrivals are noticed.
			if aIdx == -1 {
				return -1
			}
			if bIdx == -1 {
				return 1
			}
			return aIdx - bIdx
		}
	}

	if !aPinned && a.IsUnread() != b.IsUnread() {
		if a.IsUnread() {
			return -1
		}
		return 1
	}

	return compareDates(a.LastModifiedDate(), b.LastModifiedDate())
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// GroupName places force-triage threads in their triage group and the rest
// under their priority name.
func (m *TodoModel) GroupName(t *thread.Thread) string {
	if t.ForceTriage() {
		return triageGroupName(t)
	}
	return t.PriorityName()
}

// DefaultCollapsed hides the backlog by default.
func (m *TodoModel) DefaultCollapsed(group string) bool {
	return group == metadata.BacklogPriorityName
}

// AllowedCount returns the configured cap for a priority group, 0 when
// uncapped.
func (m *TodoModel) AllowedCount(group string) int {
	if m.cfg == nil {
		return 0
	}
	switch group {
	case metadata.PinnedPriorityName:
		return m.cfg.AllowedPinCount
	case metadata.MustDoPriorityName:
		return m.cfg.AllowedMustDoCount
	case metadata.UrgentPriorityName:
		return m.cfg.AllowedUrgentCount
	}
	return 0
}

// PostProcess recomputes the badge count from pinned and must-do threads.
func (m *TodoModel) PostProcess(threads []*thread.Thread) {
	if m.setBadge == nil {
		return
	}
	count := 0
	for _, t := range threads {
		switch t.PriorityID() {
		case metadata.Pin, metadata.MustDo:
			count++
		}
	}
	if count > maxBadgeCount {
		count = maxBadgeCount
	}
	m.sortMu.Lock()
	changed := count != m.badgeCount
	m.badgeCount = count
	m.sortMu.Unlock()
	if changed {
		m.setBadge(count)
	}
}

// AdjustUndo reopens muted threads when a mute is being undone.
func (m *TodoModel) AdjustUndo(t *thread.Thread, old *metadata.Update) {
	adjustUnmuteUndo(t, old)
}
