package thread

import (
	"context"
	"fmt"

	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/ajramos/mailtriage/internal/metadata"
)

// Messages returns the locally cached message payloads; empty until the first
// fetch completes.
func (t *Thread) Messages() []*gmailv1.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processed.messages
}

// ProcessedHistoryID returns the history id of the locally cached messages.
func (t *Thread) ProcessedHistoryID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processed.historyID
}

// Update reconciles local state against the provider. With no messages cached
// it fetches the whole thread once; otherwise it fetches the lightweight
// summary and short-circuits when the history id matches both the local cache
// and the store, patching labels and fetching only new message bodies when it
// doesn't.
func (t *Thread) Update(ctx context.Context) error {
	// With no local messages it's cheaper to fetch the whole thread than the
	// individual messages.
	if len(t.Messages()) == 0 {
		data, err := t.fetchFromNetwork(ctx)
		if err != nil {
			return err
		}
		return t.saveMessageState(ctx, data.HistoryId, data.Messages)
	}

	summary, err := t.provider.GetThreadSummary(ctx, t.id)
	if err != nil {
		return fmt.Errorf("fetch thread summary: %w", err)
	}
	historyID := fmt.Sprintf("%d", summary.HistoryId)

	// If the history id on disk and in the store both match the provider,
	// there's no work to do. They can disagree with each other when an older
	// client's write overrode a newer client's.
	if t.ProcessedHistoryID() == historyID && t.HistoryID() == historyID {
		return nil
	}

	t.mu.Lock()
	cached := append([]*gmailv1.Message{}, t.processed.messages...)
	t.mu.Unlock()

	// Patch in label changes for messages we already have.
	for i := range cached {
		if i < len(summary.Messages) {
			cached[i].LabelIds = summary.Messages[i].LabelIds
		}
	}

	// Fetch full payloads only for messages not yet cached.
	for i := len(cached); i < len(summary.Messages); i++ {
		msg, err := t.provider.GetMessage(ctx, summary.Messages[i].Id)
		if err != nil {
			return fmt.Errorf("fetch new message %s: %w", summary.Messages[i].Id, err)
		}
		cached = append(cached, msg)
	}

	return t.saveMessageState(ctx, summary.HistoryId, cached)
}

// fetchFromNetwork issues at most one full-thread fetch at a time; concurrent
// callers share the pending fetch. The slot is cleared once resolved so a
// later call issues a fresh fetch.
func (t *Thread) fetchFromNetwork(ctx context.Context) (*gmailv1.Thread, error) {
	t.mu.Lock()
	fl := t.inflight
	leader := fl == nil
	if leader {
		fl = &inflightFetch{done: make(chan struct{})}
		t.inflight = fl
	}
	t.mu.Unlock()

	if leader {
		fl.thread, fl.err = t.provider.GetThread(ctx, t.id)
		close(fl.done)
		t.mu.Lock()
		t.inflight = nil
		t.mu.Unlock()
	} else {
		select {
		case <-fl.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fl.err != nil {
		return nil, fmt.Errorf("fetch thread: %w", fl.err)
	}
	return fl.thread, nil
}

// FetchFromDisk loads cached messages from the local store if none are in
// memory yet.
func (t *Thread) FetchFromDisk(ctx context.Context) error {
	if len(t.Messages()) != 0 {
		return nil
	}
	data, err := t.local.Read(ctx, t.id)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	t.mu.Lock()
	t.processed.process(data.HistoryID, data.Messages)
	t.mu.Unlock()
	t.notifyUpdated()
	return nil
}

// SyncMessagesInStore pulls in new messages and labels when the store's
// metadata doesn't match what's cached locally.
func (t *Thread) SyncMessagesInStore(ctx context.Context) error {
	if t.HistoryID() != t.ProcessedHistoryID() {
		return t.Update(ctx)
	}
	return nil
}

func (t *Thread) saveMessageState(ctx context.Context, historyID uint64, messages []*gmailv1.Message) error {
	history := fmt.Sprintf("%d", historyID)
	t.mu.Lock()
	t.processed.process(history, messages)
	t.mu.Unlock()

	if err := t.generateMetadataFromProviderState(ctx, history, messages); err != nil {
		return err
	}
	// Local disk cache is an optimization; Write logs and swallows failures.
	t.local.Write(ctx, t.id, history, messages)
	return nil
}

func (t *Thread) generateMetadataFromProviderState(ctx context.Context, historyID string, messages []*gmailv1.Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: provider returned thread %s with no messages", ErrInvariant, t.id)
	}
	messageIDs := make([]string, 0, len(messages))
	for _, msg := range messages {
		messageIDs = append(messageIDs, msg.Id)
	}
	last := messages[len(messages)-1]

	u := &metadata.Update{
		HistoryID:  metadata.Set(historyID),
		MessageIDs: metadata.Set(messageIDs),
		Timestamp:  metadata.Set(last.InternalDate),
	}

	// Sent messages that now appear in the official list no longer need local
	// tracking.
	official := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		official[id] = true
	}
	t.mu.Lock()
	kept := t.sentMessageIDs[:0]
	for _, id := range t.sentMessageIDs {
		if !official[id] {
			kept = append(kept, id)
		}
	}
	t.sentMessageIDs = kept
	t.mu.Unlock()

	if err := t.UpdateMetadata(ctx, u); err != nil {
		return err
	}

	// Re-read what was actually persisted so a stale write silently dropped by
	// a concurrent writer can't leave the in-memory copy wrong.
	meta, err := t.store.Fetch(ctx, t.id)
	if err != nil {
		return err
	}
	t.setMetadata(meta)
	t.notifyUpdated()
	return nil
}
