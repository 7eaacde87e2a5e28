package thread

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/ajramos/mailtriage/internal/localstore"
	"github.com/ajramos/mailtriage/internal/metadata"
)

// now is a hook for tests.
var now = time.Now

// Provider is the slice of the mail provider API the sync engine consumes.
type Provider interface {
	GetThread(ctx context.Context, threadID string) (*gmailv1.Thread, error)
	GetThreadSummary(ctx context.Context, threadID string) (*gmailv1.Thread, error)
	GetMessage(ctx context.Context, messageID string) (*gmailv1.Message, error)
}

// LabelRegistry resolves queue/label names to their small-integer ids and
// back. It is synchronized externally; GetID may allocate a new id.
type LabelRegistry interface {
	GetID(ctx context.Context, name string) (int64, error)
	Name(id int64) (string, bool)
}

// processedMessages is the locally cached provider state for a thread:
// history id plus full message payloads. Body decoding is out of scope; its
// presence or absence is what gates fetch behavior.
type processedMessages struct {
	historyID string
	messages  []*gmailv1.Message
}

func (p *processedMessages) process(historyID string, messages []*gmailv1.Message) {
	p.historyID = historyID
	p.messages = messages
}

type inflightFetch struct {
	done   chan struct{}
	thread *gmailv1.Thread
	err    error
}

// Thread combines a thread id, its store-backed triage metadata and
// lazily-fetched message content. Instances are obtained from a Cache, never
// constructed directly, so reference equality holds per id.
type Thread struct {
	id string

	store    *metadata.Store
	provider Provider
	labels   LabelRegistry
	local    *localstore.MessageStore
	log      logrus.FieldLogger

	mu        sync.Mutex
	meta      *metadata.ThreadMetadata
	processed processedMessages
	// Ids of messages sent by this client but not yet reflected in the
	// provider's messageIds, so counts queued for archive/mark-read stay
	// accurate before the next sync lands.
	sentMessageIDs     []string
	inflight           *inflightFetch
	actionInProgress   bool
	actionInProgressAt time.Time
	forceTriage        bool

	updatedFns    []func()
	inProgressFns []func()
}

func newThread(id string, meta *metadata.ThreadMetadata, deps Deps) *Thread {
	return &Thread{
		id:       id,
		store:    deps.Store,
		provider: deps.Provider,
		labels:   deps.Labels,
		local:    deps.Messages,
		log:      deps.Log.WithField("thread", id),
		meta:     meta,
	}
}

// ID returns the provider-assigned thread id.
func (t *Thread) ID() string { return t.id }

// Metadata returns the current metadata snapshot. The record is replaced
// wholesale on each update cycle, so the returned value is stable.
func (t *Thread) Metadata() *metadata.ThreadMetadata {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meta
}

func (t *Thread) setMetadata(meta *metadata.ThreadMetadata) {
	t.mu.Lock()
	t.meta = meta
	t.mu.Unlock()
}

// OnUpdated registers fn to run after each metadata write or refresh.
func (t *Thread) OnUpdated(fn func()) {
	t.mu.Lock()
	t.updatedFns = append(t.updatedFns, fn)
	t.mu.Unlock()
}

// OnInProgressChanged registers fn to run when the action-in-progress flag
// flips.
func (t *Thread) OnInProgressChanged(fn func()) {
	t.mu.Lock()
	t.inProgressFns = append(t.inProgressFns, fn)
	t.mu.Unlock()
}

func (t *Thread) notifyUpdated() {
	t.mu.Lock()
	fns := append([]func(){}, t.updatedFns...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (t *Thread) notifyInProgress() {
	t.mu.Lock()
	fns := append([]func(){}, t.inProgressFns...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SetActionInProgress flags that a triage mutation is pending, so consumers
// can fade the row out and avoid double-submission.
func (t *Thread) SetActionInProgress(inProgress bool) {
	t.mu.Lock()
	t.actionInProgress = inProgress
	if inProgress {
		t.actionInProgressAt = now()
	} else {
		t.actionInProgressAt = time.Time{}
	}
	t.mu.Unlock()
}

// ActionInProgress reports whether a triage mutation is pending.
func (t *Thread) ActionInProgress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.actionInProgress
}

// ActionInProgressTime returns when the pending mutation started.
func (t *Thread) ActionInProgressTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.actionInProgressAt
}

// SetForceTriage marks the thread as matched by the force-triage query, which
// routes it to the triage grouping regardless of the hosting model's own
// grouping rule.
func (t *Thread) SetForceTriage(force bool) {
	t.mu.Lock()
	t.forceTriage = force
	t.mu.Unlock()
}

// ForceTriage reports whether the thread was matched by the force-triage query.
func (t *Thread) ForceTriage() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.forceTriage
}

// RecordSentMessage tracks a message sent by this client until a sync pulls
// it into the official messageIds.
func (t *Thread) RecordSentMessage(messageID string) {
	t.mu.Lock()
	t.sentMessageIDs = append(t.sentMessageIDs, messageID)
	t.mu.Unlock()
}

// MessageCount returns the number of messages in the thread, counting locally
// sent messages not yet reflected by the provider. Calling it before message
// details have loaded is a programming error and fails loudly.
func (t *Thread) MessageCount() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := len(t.meta.MessageIDs) + len(t.sentMessageIDs)
	if count == 0 {
		return 0, fmt.Errorf("%w: can't modify thread %s before message details have loaded, wait and try again", ErrNoMessages, t.id)
	}
	return count, nil
}

// UpdateMetadata applies a merge patch to the shared record, refreshes the
// in-memory snapshot from the store, and fires the local updated notification
// once the write has resolved. If an action was in progress it is cleared on
// every exit path, success or failure.
func (t *Thread) UpdateMetadata(ctx context.Context, u *metadata.Update) error {
	err := t.store.UpdateThread(ctx, t.id, u)
	if err == nil {
		var meta *metadata.ThreadMetadata
		if meta, err = t.store.Fetch(ctx, t.id); err == nil {
			t.setMetadata(meta)
		}
	}
	if t.ActionInProgress() {
		t.SetActionInProgress(false)
		t.notifyInProgress()
	}
	if err != nil {
		return err
	}
	t.notifyUpdated()
	return nil
}

// OldMetadataState returns the prior values of the fields u is about to
// touch, for undo to restore.
func (t *Thread) OldMetadataState(u *metadata.Update) *metadata.Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	return metadata.OldState(t.meta, u)
}
