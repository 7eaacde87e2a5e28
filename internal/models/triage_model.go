package models

import (
	"time"

	"github.com/ajramos/mailtriage/internal/config"
	"github.com/ajramos/mailtriage/internal/metadata"
	"github.com/ajramos/mailtriage/internal/thread"
)

// TriageModel lists threads awaiting triage, grouped by queue label. Stuck
// threads sort ahead of everything, retriage threads next, then the queues
// in their configured order.
type TriageModel struct {
	*ThreadListModel
	cfg    *config.Config
	queues *config.QueueSettings
}

// NewTriageModel builds the triage list over threads flagged hasLabel.
func NewTriageModel(deps ModelDeps, cfg *config.Config, queues *config.QueueSettings) *TriageModel {
	m := &TriageModel{cfg: cfg, queues: queues}
	m.ThreadListModel = NewThreadListModel(deps, m)
	m.SetQuery(metadata.WhereQuery(metadata.KeyHasLabel))
	return m
}

// ShouldShowThread keeps only threads still needing triage, restricted to
// the vacation label when one is configured.
func (m *TriageModel) ShouldShowThread(t *thread.Thread) bool {
	if !t.NeedsTriage() && !t.ForceTriage() {
		return false
	}
	if m.cfg != nil && m.cfg.VacationLabel != "" {
		return triageGroupName(t) == m.cfg.VacationLabel
	}
	return true
}

// CompareThreads orders triage threads by group, then within the retriage
// group by priority, then oldest first.
func (m *TriageModel) CompareThreads(a, b *thread.Thread) int {
	return compareTriageThreads(m.queues, a, b)
}

// GroupName implements ModelSpec.
func (m *TriageModel) GroupName(t *thread.Thread) string {
	return triageGroupName(t)
}

// DefaultCollapsed implements ModelSpec; triage groups start expanded.
func (m *TriageModel) DefaultCollapsed(string) bool { return false }

// AllowedCount implements ModelSpec; triage groups are uncapped.
func (m *TriageModel) AllowedCount(string) int { return 0 }

// PostProcess implements ModelSpec.
func (m *TriageModel) PostProcess([]*thread.Thread) {}

// AdjustUndo reopens muted threads when a mute is being undone, so the next
// sync moves them back into the inbox.
func (m *TriageModel) AdjustUndo(t *thread.Thread, old *metadata.Update) {
	adjustUnmuteUndo(t, old)
}

func triageGroupName(t *thread.Thread) string {
	if t.IsStuck() {
		return metadata.StuckLabelName
	}
	if t.NeedsRetriage() {
		return metadata.RetriageLabelName
	}
	return t.Label()
}

func compareTriageThreads(queues *config.QueueSettings, a, b *thread.Thread) int {
	aGroup := triageGroupName(a)
	bGroup := triageGroupName(b)
	if aGroup == bGroup {
		if aGroup == metadata.RetriageLabelName && a.PriorityID() != b.PriorityID() {
			return metadata.ComparePriorities(a.PriorityID(), b.PriorityID())
		}
		return compareDates(a.LastModifiedDate(), b.LastModifiedDate())
	}
	return queues.Compare(aGroup, bGroup)
}

func compareDates(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case b.Before(a):
		return 1
	}
	return 0
}

// adjustUnmuteUndo marks a thread for inbox re-entry when the delta being
// undone was the one that muted it. Restoring the old fields alone leaves
// the thread archived server-side.
func adjustUnmuteUndo(t *thread.Thread, old *metadata.Update) {
	if !t.IsMuted() {
		return
	}
	if old.Muted.IsSet() && old.Muted.Value() {
		return
	}
	if old.Muted.Touched() {
		old.MoveToInbox = metadata.Set(true)
	}
}
