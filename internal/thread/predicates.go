package thread

import (
	"fmt"
	"time"

	"github.com/ajramos/mailtriage/internal/metadata"
)

// IsUnread reports whether some messages haven't been read. Old records don't
// carry a readCount at all; those are never considered unread.
func (t *Thread) IsUnread() bool {
	meta := t.Metadata()
	return meta.ReadCount != nil && *meta.ReadCount < len(meta.MessageIDs)
}

// IsStuck reports whether the thread is deferred to a future date.
func (t *Thread) IsStuck() bool {
	return t.Metadata().Blocked != nil
}

// StuckDate returns the stuck-until date, or nil when the thread isn't stuck.
// The legacy boolean-true form maps to one day from now; observing the
// literal false form fails with ErrInvariant.
func (t *Thread) StuckDate() (*time.Time, error) {
	blocked := t.Metadata().Blocked
	if blocked == nil {
		return nil, nil
	}
	if blocked.Invalid() {
		return nil, fmt.Errorf("%w: thread %s has blocked stored as false", ErrInvariant, t.id)
	}
	var date time.Time
	if blocked.Legacy() {
		date = now().AddDate(0, 0, 1)
	} else {
		date = time.UnixMilli(blocked.Millis())
	}
	return &date, nil
}

// HasDueDate reports whether a due date is set.
func (t *Thread) HasDueDate() bool {
	return t.Metadata().Due != 0
}

// DueDate returns the due date, or nil when none is set.
func (t *Thread) DueDate() *time.Time {
	due := t.Metadata().Due
	if due == 0 {
		return nil
	}
	date := time.UnixMilli(due)
	return &date
}

// NeedsTriage reports whether the thread is waiting in a triage queue.
func (t *Thread) NeedsTriage() bool { return t.Metadata().HasLabel }

// NeedsRetriage reports whether the thread was flagged for another pass.
func (t *Thread) NeedsRetriage() bool { return t.Metadata().NeedsRetriage }

// IsQueued reports whether the thread is parked in a non-immediate queue.
func (t *Thread) IsQueued() bool { return t.Metadata().Queued }

// IsMuted reports whether the thread is muted.
func (t *Thread) IsMuted() bool { return t.Metadata().Muted }

// HasRepeat reports whether the thread is a recurring item.
func (t *Thread) HasRepeat() bool { return t.Metadata().Repeat != nil }

// FinalVersion reports the final-version workflow flag.
func (t *Thread) FinalVersion() bool { return t.Metadata().FinalVersion }

// PriorityID returns the raw priority enum value, zero when unset.
func (t *Thread) PriorityID() metadata.Priority { return t.Metadata().PriorityID }

// PriorityName returns the display name of the priority, or "" when unset or
// outside the known enum.
func (t *Thread) PriorityName() string { return t.Metadata().PriorityID.Name() }

// LabelID returns the raw label id, zero when unset.
func (t *Thread) LabelID() int64 { return t.Metadata().LabelID }

// Label resolves the thread's label to a display name, falling back to the
// built-in names and finally to "No label".
func (t *Thread) Label() string {
	id := t.LabelID()
	if id == 0 {
		return metadata.FallbackLabelName
	}
	switch metadata.BuiltInLabelID(id) {
	case metadata.StuckLabelID:
		return metadata.StuckLabelName
	case metadata.FallbackLabelID:
		return metadata.FallbackLabelName
	}
	if name, ok := t.labels.Name(id); ok {
		return name
	}
	return metadata.FallbackLabelName
}

// HistoryID returns the last-synced provider version stamp.
func (t *Thread) HistoryID() string { return t.Metadata().HistoryID }

// MessageIDs returns the provider-ordered message ids.
func (t *Thread) MessageIDs() []string { return t.Metadata().MessageIDs }

// CountToArchive returns the provider-side archive count hint.
func (t *Thread) CountToArchive() int { return t.Metadata().CountToArchive }

// Date returns the time of the most recent message.
func (t *Thread) Date() time.Time {
	return time.UnixMilli(t.Metadata().Timestamp)
}

// LastModifiedDate is the date used for recency ordering.
func (t *Thread) LastModifiedDate() time.Time { return t.Date() }

// LastTriagedDate returns when the thread last left the triage queue, falling
// back to the last message's timestamp for records that predate retriage
// tracking.
func (t *Thread) LastTriagedDate() time.Time {
	meta := t.Metadata()
	if meta.RetriageTimestamp != 0 {
		return time.UnixMilli(meta.RetriageTimestamp)
	}
	return time.UnixMilli(meta.Timestamp)
}
