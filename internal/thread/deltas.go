package thread

import (
	"context"
	"time"

	"github.com/ajramos/mailtriage/internal/metadata"
)

// Delta builders are pure functions from the current metadata to a sparse
// update. Single-thread and bulk operations apply the same builders; only
// SetLabelAndQueuedUpdate performs I/O (the label-registry lookup) before
// returning its delta.

func (t *Thread) keepInInboxUpdate() *metadata.Update {
	u := metadata.ClearedUpdate(false)
	// Mark the last time this thread was triaged so it isn't re-surfaced for
	// retriage too soon after.
	u.RetriageTimestamp = metadata.Set(now().UnixMilli())
	return u
}

func (t *Thread) removeFromInboxUpdate() (*metadata.Update, error) {
	count, err := t.MessageCount()
	if err != nil {
		return nil, err
	}
	u := metadata.ClearedUpdate(true)
	// The provider-sync collaborator archives this many provider-side
	// messages.
	u.CountToArchive = metadata.Set(count)
	return u, nil
}

// ArchiveUpdate clears all workflow state and removes the thread from the
// inbox. A repeating thread is never fully archived, only pushed out one day.
func (t *Thread) ArchiveUpdate(archivedByFilter bool) (*metadata.Update, error) {
	// TODO: take the repeat pattern into account; this assumes daily.
	if t.HasRepeat() {
		return t.StuckDaysUpdate(1, false), nil
	}
	u, err := t.removeFromInboxUpdate()
	if err != nil {
		return nil, err
	}
	if archivedByFilter {
		u.ArchivedByFilter = metadata.Set(true)
	}
	return u, nil
}

// MuteUpdate is archive plus muted. Muting a repeating item is rejected as
// policy, not failed as an error condition.
func (t *Thread) MuteUpdate() (*metadata.Update, error) {
	if t.HasRepeat() {
		return nil, ErrCannotMuteRepeat
	}
	u, err := t.removeFromInboxUpdate()
	if err != nil {
		return nil, err
	}
	u.Muted = metadata.Set(true)
	return u, nil
}

// PriorityUpdate routes the thread into a priority bucket.
func (t *Thread) PriorityUpdate(p metadata.Priority, moveToInbox bool) *metadata.Update {
	u := t.keepInInboxUpdate()
	if moveToInbox {
		u.MoveToInbox = metadata.Set(true)
	}
	u.HasPriority = metadata.Set(true)
	u.PriorityID = metadata.Set(p)
	return u
}

// StuckUpdate defers the thread until the given date.
func (t *Thread) StuckUpdate(date time.Time, moveToInbox bool) *metadata.Update {
	u := t.keepInInboxUpdate()
	if moveToInbox {
		u.MoveToInbox = metadata.Set(true)
	}
	u.Blocked = metadata.Set(metadata.BlockedAt(date))
	return u
}

// StuckDaysUpdate defers the thread N day boundaries out; the time of day is
// snapped to midnight first so only day boundaries matter.
func (t *Thread) StuckDaysUpdate(days int, moveToInbox bool) *metadata.Update {
	return t.StuckUpdate(midnightPlusDays(days), moveToInbox)
}

// DueUpdate sets the due date. Intentionally does not clear other workflow
// metadata, so changing a due date mid-workflow doesn't reset priority or
// retriage state. Setting a new due date always re-arms the overdue
// notification.
func (t *Thread) DueUpdate(date time.Time, moveToInbox bool) *metadata.Update {
	u := &metadata.Update{}
	if moveToInbox {
		u.MoveToInbox = metadata.Set(true)
	}
	u.DueDateExpired = metadata.Clear[bool]()
	u.Due = metadata.Set(date.UnixMilli())
	return u
}

// DueDaysUpdate sets the due date N day boundaries out.
func (t *Thread) DueDaysUpdate(days int, moveToInbox bool) *metadata.Update {
	return t.DueUpdate(midnightPlusDays(days), moveToInbox)
}

// ClearStuckUpdate un-defers the thread. It also puts the thread back in the
// triage queue; otherwise clearing stuck would just make it vanish. A user
// who wants a different queue can apply that action directly instead.
func (t *Thread) ClearStuckUpdate(moveToInbox bool) *metadata.Update {
	u := &metadata.Update{}
	if moveToInbox {
		u.MoveToInbox = metadata.Set(true)
	}
	u.Blocked = metadata.Clear[*metadata.Blocked]()
	u.HasLabel = metadata.Set(true)
	return u
}

// ClearDueUpdate removes the due date.
func (t *Thread) ClearDueUpdate(moveToInbox bool) *metadata.Update {
	u := &metadata.Update{}
	if moveToInbox {
		u.MoveToInbox = metadata.Set(true)
	}
	u.Due = metadata.Clear[int64]()
	return u
}

// RepeatUpdate toggles the recurring-item marker.
func (t *Thread) RepeatUpdate() *metadata.Update {
	u := &metadata.Update{}
	if t.HasRepeat() {
		u.Repeat = metadata.Clear[metadata.Repeat]()
	} else {
		u.Repeat = metadata.Set(metadata.Repeat{Type: metadata.RepeatDaily})
	}
	return u
}

// SetLabelAndQueuedUpdate routes the thread into a named queue, resolving the
// label name through the registry. When the thread re-enters triage
// (hasLabel), any stuck state is cleared so it isn't simultaneously hidden;
// otherwise the stuck state is left alone, which covers the case of a user
// sending themself a message and immediately marking it stuck.
func (t *Thread) SetLabelAndQueuedUpdate(ctx context.Context, shouldQueue bool, label string, hasLabel bool) (*metadata.Update, error) {
	labelID, err := t.labels.GetID(ctx, label)
	if err != nil {
		return nil, err
	}
	u := &metadata.Update{
		Queued:   metadata.Set(shouldQueue),
		LabelID:  metadata.Set(labelID),
		HasLabel: metadata.Set(hasLabel),
	}
	if hasLabel {
		u.Blocked = metadata.Clear[*metadata.Blocked]()
	}
	return u, nil
}

func midnightPlusDays(days int) time.Time {
	t := now()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return midnight.AddDate(0, 0, days)
}

// Convenience verbs applying the builders directly.

// Archive archives the thread (or pushes a repeating thread out one day).
func (t *Thread) Archive(ctx context.Context, archivedByFilter bool) error {
	u, err := t.ArchiveUpdate(archivedByFilter)
	if err != nil {
		return err
	}
	return t.UpdateMetadata(ctx, u)
}

// Mute mutes the thread. Returns ErrCannotMuteRepeat for repeating items.
func (t *Thread) Mute(ctx context.Context) error {
	u, err := t.MuteUpdate()
	if err != nil {
		return err
	}
	return t.UpdateMetadata(ctx, u)
}

// SetPriority routes the thread into a priority bucket.
func (t *Thread) SetPriority(ctx context.Context, p metadata.Priority, moveToInbox bool) error {
	return t.UpdateMetadata(ctx, t.PriorityUpdate(p, moveToInbox))
}

// SetLabelAndQueued applies the label-routing delta.
func (t *Thread) SetLabelAndQueued(ctx context.Context, shouldQueue bool, label string, hasLabel bool) error {
	u, err := t.SetLabelAndQueuedUpdate(ctx, shouldQueue, label, hasLabel)
	if err != nil {
		return err
	}
	return t.UpdateMetadata(ctx, u)
}

// SetOnlyLabel updates the label id without touching any other state.
func (t *Thread) SetOnlyLabel(ctx context.Context, label string) error {
	labelID, err := t.labels.GetID(ctx, label)
	if err != nil {
		return err
	}
	return t.UpdateMetadata(ctx, &metadata.Update{LabelID: metadata.Set(labelID)})
}

// SetOnlyFinalVersion updates the final-version flag without touching any
// other state.
func (t *Thread) SetOnlyFinalVersion(ctx context.Context, value bool) error {
	return t.UpdateMetadata(ctx, &metadata.Update{FinalVersion: metadata.Set(value)})
}

// MarkRead records all current messages as read and queues the provider-side
// mark-read for the sync collaborator. A no-op when everything is already
// read.
func (t *Thread) MarkRead(ctx context.Context) error {
	meta := t.Metadata()
	if meta.ReadCount != nil && *meta.ReadCount >= len(meta.MessageIDs) {
		return nil
	}
	count, err := t.MessageCount()
	if err != nil {
		return err
	}
	return t.UpdateMetadata(ctx, &metadata.Update{
		ReadCount:       metadata.Set(count),
		CountToMarkRead: metadata.Set(count),
	})
}
