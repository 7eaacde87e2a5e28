package metadata

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority values are persisted in the document store and must never be
// renumbered, only appended to.
type Priority int

const (
	NeedsFilter Priority = 1
	MustDo      Priority = 2
	Urgent      Priority = 3
	Backlog     Priority = 4
	Pin         Priority = 5
)

// Display names for priorities and built-in labels.
const (
	NeedsFilterPriorityName = "Filter"
	PinnedPriorityName      = "Pin"
	MustDoPriorityName      = "Must do"
	UrgentPriorityName      = "Urgent"
	BacklogPriorityName     = "Backlog"

	StuckLabelName    = "Stuck"
	OverdueLabelName  = "Overdue"
	FallbackLabelName = "No label"
	RetriageLabelName = "Retriage"
)

// PrioritySortOrder is the display order of priority groups, which is not the
// numeric order of the enum.
var PrioritySortOrder = []Priority{Pin, MustDo, Urgent, NeedsFilter, Backlog}

// Name returns the display name of the priority, or "" for values outside the
// known enum. Unknown values must be treated as "no displayable priority".
func (p Priority) Name() string {
	switch p {
	case NeedsFilter:
		return NeedsFilterPriorityName
	case MustDo:
		return MustDoPriorityName
	case Urgent:
		return UrgentPriorityName
	case Backlog:
		return BacklogPriorityName
	case Pin:
		return PinnedPriorityName
	}
	return ""
}

func priorityRank(p Priority) int {
	for i, candidate := range PrioritySortOrder {
		if candidate == p {
			return i
		}
	}
	// Unknown priorities sort after all known ones.
	return len(PrioritySortOrder)
}

// ComparePriorities orders priorities by PrioritySortOrder, returning a
// negative value when a sorts before b.
func ComparePriorities(a, b Priority) int {
	return priorityRank(a) - priorityRank(b)
}

// RepeatType values are persisted and must never be renumbered.
type RepeatType int

const (
	RepeatDaily RepeatType = 1
)

// Repeat marks a recurring item.
type Repeat struct {
	Type RepeatType `json:"type"`
}

// BuiltInLabelID values are negative so they can never collide with the
// registry-allocated ids, which start at 1.
type BuiltInLabelID int64

const (
	StuckLabelID    BuiltInLabelID = -1
	FallbackLabelID BuiltInLabelID = -2
)

// Blocked holds the stuck-until state. The stored form is normally an
// epoch-ms timestamp, but legacy documents may carry the boolean true,
// meaning "stuck one day from now". A stored false should never occur.
type Blocked struct {
	legacy  bool
	invalid bool
	millis  int64
}

// BlockedAt returns the timestamp form of a blocked value. All new writes use
// this form; the legacy boolean is read-only.
func BlockedAt(t time.Time) *Blocked {
	return &Blocked{millis: t.UnixMilli()}
}

func (b *Blocked) MarshalJSON() ([]byte, error) {
	if b.legacy {
		return json.Marshal(true)
	}
	return json.Marshal(b.millis)
}

func (b *Blocked) UnmarshalJSON(raw []byte) error {
	var asBool bool
	if err := json.Unmarshal(raw, &asBool); err == nil {
		if asBool {
			*b = Blocked{legacy: true}
		} else {
			*b = Blocked{invalid: true}
		}
		return nil
	}
	var millis int64
	if err := json.Unmarshal(raw, &millis); err != nil {
		return fmt.Errorf("blocked field: %w", err)
	}
	*b = Blocked{millis: millis}
	return nil
}

// Legacy reports whether this is the boolean-true form.
func (b *Blocked) Legacy() bool { return b.legacy }

// Invalid reports whether the stored value was the literal false, which is an
// invariant violation on access.
func (b *Blocked) Invalid() bool { return b.invalid }

// Millis returns the epoch-ms timestamp for the non-legacy form.
func (b *Blocked) Millis() int64 { return b.millis }

// ThreadMetadata is the canonical per-thread triage record shared across
// clients, keyed by thread id. hasLabel/hasPriority/queued are redundant
// boolean projections of labelId/priorityId so the store's query engine,
// which only range-filters on the ordering field, can still filter on
// "has this dimension" while ordering by timestamp.
type ThreadMetadata struct {
	HistoryID  string   `json:"historyId"`
	MessageIDs []string `json:"messageIds"`
	// Epoch ms of the most recent message.
	Timestamp         int64     `json:"timestamp"`
	RetriageTimestamp int64     `json:"retriageTimestamp,omitempty"`
	PriorityID        Priority  `json:"priorityId,omitempty"`
	LabelID           int64     `json:"labelId,omitempty"`
	Repeat            *Repeat   `json:"repeat,omitempty"`
	NeedsRetriage     bool      `json:"needsRetriage,omitempty"`
	HasLabel          bool      `json:"hasLabel,omitempty"`
	HasPriority       bool      `json:"hasPriority,omitempty"`
	Queued            bool      `json:"queued,omitempty"`
	Blocked           *Blocked  `json:"blocked,omitempty"`
	Due               int64     `json:"due,omitempty"`
	// One-shot flag preventing repeated "now overdue" notifications until the
	// user changes the due date again.
	DueDateExpired   bool  `json:"dueDateExpired,omitempty"`
	Muted            bool  `json:"muted,omitempty"`
	ArchivedByFilter bool  `json:"archivedByFilter,omitempty"`
	FinalVersion     bool  `json:"finalVersion,omitempty"`
	// Threads added back to the inbox here, so the provider-sync collaborator
	// should move them into the inbox instead of clearing their metadata.
	MoveToInbox bool `json:"moveToInbox,omitempty"`
	// Count of messages read. Not kept in sync with the provider's read state.
	// A pointer because old records predate the field entirely.
	ReadCount       *int `json:"readCount,omitempty"`
	CountToArchive  int  `json:"countToArchive,omitempty"`
	CountToMarkRead int  `json:"countToMarkRead,omitempty"`
}

// Field names as stored, used for queries and patches.
const (
	KeyHistoryID         = "historyId"
	KeyMessageIDs        = "messageIds"
	KeyTimestamp         = "timestamp"
	KeyRetriageTimestamp = "retriageTimestamp"
	KeyPriorityID        = "priorityId"
	KeyLabelID           = "labelId"
	KeyRepeat            = "repeat"
	KeyNeedsRetriage     = "needsRetriage"
	KeyHasLabel          = "hasLabel"
	KeyHasPriority       = "hasPriority"
	KeyQueued            = "queued"
	KeyBlocked           = "blocked"
	KeyDue               = "due"
	KeyDueDateExpired    = "dueDateExpired"
	KeyMuted             = "muted"
	KeyArchivedByFilter  = "archivedByFilter"
	KeyFinalVersion      = "finalVersion"
	KeyMoveToInbox       = "moveToInbox"
	KeyReadCount         = "readCount"
	KeyCountToArchive    = "countToArchive"
	KeyCountToMarkRead   = "countToMarkRead"
)

// FromDoc decodes a document-store snapshot into typed metadata.
func FromDoc(data map[string]interface{}) (*ThreadMetadata, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode metadata doc: %w", err)
	}
	var meta ThreadMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata doc: %w", err)
	}
	return &meta, nil
}

// ToDoc converts typed metadata to document-store fields.
func (m *ThreadMetadata) ToDoc() (map[string]interface{}, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("round-trip metadata: %w", err)
	}
	return data, nil
}

// Default returns the zeroed record written when a thread is first seen.
func Default() *ThreadMetadata {
	zero := 0
	return &ThreadMetadata{
		HistoryID:  "",
		MessageIDs: []string{},
		Timestamp:  0,
		ReadCount:  &zero,
	}
}
