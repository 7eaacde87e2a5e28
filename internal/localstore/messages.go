package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	gmailv1 "google.golang.org/api/gmail/v1"
)

// WeeksToStore is how many whole weeks of message buckets survive garbage
// collection behind the current week.
const WeeksToStore = 2

const (
	keyPrefix = "thread-"
	gcTimeKey = "last-gc-time"
)

// SerializedMessages is the cached message state for one thread.
type SerializedMessages struct {
	HistoryID string             `json:"historyId"`
	Messages  []*gmailv1.Message `json:"messages"`
}

// MessageStore is the disk-backed cache for per-thread message bodies,
// bucketed by the calendar week the entry was written in. It is strictly an
// optimization: write failures are logged and swallowed.
type MessageStore struct {
	kv  KV
	log logrus.FieldLogger
	now func() time.Time
}

// NewMessageStore creates a message store over the given key-value store.
func NewMessageStore(kv KV, log logrus.FieldLogger) *MessageStore {
	if log == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		log = logger
	}
	return &MessageStore{kv: kv, log: log, now: time.Now}
}

// weekNumber is whole weeks since the epoch, so consecutive calendar weeks
// differ by exactly one.
func weekNumber(t time.Time) int64 {
	return t.UnixMilli() / (7 * 24 * time.Hour.Milliseconds())
}

func bucketKey(week int64, threadID string) string {
	return fmt.Sprintf("%s%d-%s", keyPrefix, week, threadID)
}

// Read returns the cached messages for a thread, or nil if nothing is cached.
// An entry found under the previous week's key is migrated forward (old key
// deleted, rewritten under the current week) so an active thread survives the
// week rollover without a scan.
func (s *MessageStore) Read(ctx context.Context, threadID string) (*SerializedMessages, error) {
	week := weekNumber(s.now())
	currentKey := bucketKey(week, threadID)
	raw, ok, err := s.kv.Get(ctx, currentKey)
	if err != nil {
		return nil, fmt.Errorf("read message cache: %w", err)
	}

	var oldKey string
	if !ok {
		oldKey = bucketKey(week-1, threadID)
		raw, ok, err = s.kv.Get(ctx, oldKey)
		if err != nil {
			return nil, fmt.Errorf("read message cache: %w", err)
		}
	}
	if !ok {
		return nil, nil
	}

	if oldKey != "" {
		if err := s.kv.Delete(ctx, oldKey); err != nil {
			return nil, fmt.Errorf("migrate message cache: %w", err)
		}
		if err := s.kv.Set(ctx, currentKey, raw); err != nil {
			return nil, fmt.Errorf("migrate message cache: %w", err)
		}
	}

	var data SerializedMessages
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode message cache: %w", err)
	}
	return &data, nil
}

// Write caches a thread's message state under the current week's bucket.
// Best effort: serialization or storage failures are logged and swallowed.
func (s *MessageStore) Write(ctx context.Context, threadID, historyID string, messages []*gmailv1.Message) {
	raw, err := json.Marshal(&SerializedMessages{HistoryID: historyID, Messages: messages})
	if err != nil {
		s.log.WithError(err).WithField("thread", threadID).Warn("failed to serialize message cache entry")
		return
	}
	key := bucketKey(weekNumber(s.now()), threadID)
	if err := s.kv.Set(ctx, key, raw); err != nil {
		s.log.WithError(err).WithField("thread", threadID).Warn("failed to store message cache entry")
	}
}

// GC deletes buckets more than WeeksToStore weeks behind the current week.
// It runs at most once per real calendar day, gated by a persisted timestamp,
// so callers can invoke it opportunistically.
func (s *MessageStore) GC(ctx context.Context) error {
	now := s.now()
	if last, ok := s.lastGCTime(ctx); ok {
		y1, m1, d1 := last.Date()
		y2, m2, d2 := now.Date()
		if y1 == y2 && m1 == m2 && d1 == d2 {
			return nil
		}
	}

	keys, err := s.kv.Keys(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("list message cache keys: %w", err)
	}
	currentWeek := weekNumber(now)
	for _, key := range keys {
		week, ok := parseBucketWeek(key)
		if !ok {
			continue
		}
		if currentWeek-week > WeeksToStore {
			if err := s.kv.Delete(ctx, key); err != nil {
				return fmt.Errorf("delete stale bucket %s: %w", key, err)
			}
		}
	}

	if err := s.kv.Set(ctx, gcTimeKey, []byte(strconv.FormatInt(now.UnixMilli(), 10))); err != nil {
		s.log.WithError(err).Warn("failed to persist gc timestamp")
	}
	return nil
}

func (s *MessageStore) lastGCTime(ctx context.Context) (time.Time, bool) {
	raw, ok, err := s.kv.Get(ctx, gcTimeKey)
	if err != nil || !ok {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}

func parseBucketWeek(key string) (int64, bool) {
	rest := strings.TrimPrefix(key, keyPrefix)
	if rest == key {
		return 0, false
	}
	dash := strings.Index(rest, "-")
	if dash < 0 {
		return 0, false
	}
	week, err := strconv.ParseInt(rest[:dash], 10, 64)
	if err != nil {
		return 0, false
	}
	return week, true
}
