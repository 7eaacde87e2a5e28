package metadata

import (
	"github.com/ajramos/mailtriage/internal/docstore"
)

// Field is one field of a sparse metadata update: untouched, set to a value,
// or cleared (removed from the document). The store adapter translates
// Cleared into the document store's delete sentinel.
type Field[T any] struct {
	state fieldState
	value T
}

type fieldState uint8

const (
	fieldUnchanged fieldState = iota
	fieldSet
	fieldCleared
)

// Set returns a field update that writes v.
func Set[T any](v T) Field[T] {
	return Field[T]{state: fieldSet, value: v}
}

// Clear returns a field update that removes the field.
func Clear[T any]() Field[T] {
	return Field[T]{state: fieldCleared}
}

// IsSet reports whether the field writes a value.
func (f Field[T]) IsSet() bool { return f.state == fieldSet }

// IsCleared reports whether the field removes the stored value.
func (f Field[T]) IsCleared() bool { return f.state == fieldCleared }

// Touched reports whether the field changes anything at all.
func (f Field[T]) Touched() bool { return f.state != fieldUnchanged }

// Value returns the value written by a set field.
func (f Field[T]) Value() T { return f.value }

// Update is a sparse patch over ThreadMetadata. Keep the field set in sync
// with ThreadMetadata and the Key constants.
type Update struct {
	HistoryID         Field[string]
	MessageIDs        Field[[]string]
	Timestamp         Field[int64]
	RetriageTimestamp Field[int64]
	PriorityID        Field[Priority]
	LabelID           Field[int64]
	Repeat            Field[Repeat]
	NeedsRetriage     Field[bool]
	HasLabel          Field[bool]
	HasPriority       Field[bool]
	Queued            Field[bool]
	Blocked           Field[*Blocked]
	Due               Field[int64]
	DueDateExpired    Field[bool]
	Muted             Field[bool]
	ArchivedByFilter  Field[bool]
	FinalVersion      Field[bool]
	MoveToInbox       Field[bool]
	ReadCount         Field[int]
	CountToArchive    Field[int]
	CountToMarkRead   Field[int]
}

func putField[T any](p docstore.Patch, key string, f Field[T]) {
	switch {
	case f.IsCleared():
		p[key] = docstore.Delete
	case f.IsSet():
		p[key] = f.Value()
	}
}

// Patch translates the update into a document-store merge patch.
func (u *Update) Patch() docstore.Patch {
	p := docstore.Patch{}
	putField(p, KeyHistoryID, u.HistoryID)
	putField(p, KeyMessageIDs, u.MessageIDs)
	putField(p, KeyTimestamp, u.Timestamp)
	putField(p, KeyRetriageTimestamp, u.RetriageTimestamp)
	putField(p, KeyPriorityID, u.PriorityID)
	putField(p, KeyLabelID, u.LabelID)
	putField(p, KeyRepeat, u.Repeat)
	putField(p, KeyNeedsRetriage, u.NeedsRetriage)
	putField(p, KeyHasLabel, u.HasLabel)
	putField(p, KeyHasPriority, u.HasPriority)
	putField(p, KeyQueued, u.Queued)
	putField(p, KeyBlocked, u.Blocked)
	putField(p, KeyDue, u.Due)
	putField(p, KeyDueDateExpired, u.DueDateExpired)
	putField(p, KeyMuted, u.Muted)
	putField(p, KeyArchivedByFilter, u.ArchivedByFilter)
	putField(p, KeyFinalVersion, u.FinalVersion)
	putField(p, KeyMoveToInbox, u.MoveToInbox)
	putField(p, KeyReadCount, u.ReadCount)
	putField(p, KeyCountToArchive, u.CountToArchive)
	putField(p, KeyCountToMarkRead, u.CountToMarkRead)
	return p
}

func oldField[T any](touched Field[T], present bool, current T) Field[T] {
	if !touched.Touched() {
		return Field[T]{}
	}
	if !present {
		return Clear[T]()
	}
	return Set(current)
}

// OldState returns an update that restores the prior values of exactly the
// fields u touches. Fields absent from the current metadata restore to
// cleared. Undo applies the result to put the record back the way it was.
func OldState(meta *ThreadMetadata, u *Update) *Update {
	old := &Update{}
	old.HistoryID = oldField(u.HistoryID, true, meta.HistoryID)
	old.MessageIDs = oldField(u.MessageIDs, true, meta.MessageIDs)
	old.Timestamp = oldField(u.Timestamp, true, meta.Timestamp)
	old.RetriageTimestamp = oldField(u.RetriageTimestamp, meta.RetriageTimestamp != 0, meta.RetriageTimestamp)
	old.PriorityID = oldField(u.PriorityID, meta.PriorityID != 0, meta.PriorityID)
	old.LabelID = oldField(u.LabelID, meta.LabelID != 0, meta.LabelID)
	if meta.Repeat != nil {
		old.Repeat = oldField(u.Repeat, true, *meta.Repeat)
	} else {
		old.Repeat = oldField(u.Repeat, false, Repeat{})
	}
	old.NeedsRetriage = oldField(u.NeedsRetriage, meta.NeedsRetriage, meta.NeedsRetriage)
	old.HasLabel = oldField(u.HasLabel, meta.HasLabel, meta.HasLabel)
	old.HasPriority = oldField(u.HasPriority, meta.HasPriority, meta.HasPriority)
	old.Queued = oldField(u.Queued, meta.Queued, meta.Queued)
	old.Blocked = oldField(u.Blocked, meta.Blocked != nil, meta.Blocked)
	old.Due = oldField(u.Due, meta.Due != 0, meta.Due)
	old.DueDateExpired = oldField(u.DueDateExpired, meta.DueDateExpired, meta.DueDateExpired)
	old.Muted = oldField(u.Muted, meta.Muted, meta.Muted)
	old.ArchivedByFilter = oldField(u.ArchivedByFilter, meta.ArchivedByFilter, meta.ArchivedByFilter)
	old.FinalVersion = oldField(u.FinalVersion, meta.FinalVersion, meta.FinalVersion)
	old.MoveToInbox = oldField(u.MoveToInbox, meta.MoveToInbox, meta.MoveToInbox)
	if meta.ReadCount != nil {
		old.ReadCount = oldField(u.ReadCount, true, *meta.ReadCount)
	} else {
		old.ReadCount = oldField(u.ReadCount, false, 0)
	}
	old.CountToArchive = oldField(u.CountToArchive, meta.CountToArchive != 0, meta.CountToArchive)
	old.CountToMarkRead = oldField(u.CountToMarkRead, meta.CountToMarkRead != 0, meta.CountToMarkRead)
	return old
}
