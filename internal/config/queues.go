package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajramos/mailtriage/internal/metadata"
)

// QueueSettings is the total order over queue/label group names used when
// sorting the triage view. The order comes from a YAML file so users can
// arrange their queues; names not listed sort after all listed ones,
// alphabetically among themselves. Stuck and Retriage are pinned ahead of
// everything regardless of the file.
type QueueSettings struct {
	Order []string `yaml:"order"`

	rank map[string]int
}

// NewQueueSettings builds an ordering directly, for callers that don't load
// from a file.
func NewQueueSettings(order ...string) *QueueSettings {
	qs := &QueueSettings{Order: order}
	qs.index()
	return qs
}

// LoadQueueSettings reads the queue-ordering file. A missing file yields an
// empty ordering, which falls back to alphabetical.
func LoadQueueSettings(path string) (*QueueSettings, error) {
	qs := &QueueSettings{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		qs.index()
		return qs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue settings: %w", err)
	}
	if err := yaml.Unmarshal(data, qs); err != nil {
		return nil, fmt.Errorf("parse queue settings: %w", err)
	}
	qs.index()
	return qs, nil
}

func (q *QueueSettings) index() {
	q.rank = make(map[string]int, len(q.Order))
	for i, name := range q.Order {
		q.rank[name] = i
	}
}

// Compare orders two group names for the triage view: stuck items first,
// retriage next, then the configured queue order, then alphabetical.
func (q *QueueSettings) Compare(a, b string) int {
	if a == b {
		return 0
	}
	if special := compareSpecial(a, b, metadata.StuckLabelName); special != 0 {
		return special
	}
	if special := compareSpecial(a, b, metadata.RetriageLabelName); special != 0 {
		return special
	}
	aRank, aKnown := q.rank[a]
	bRank, bKnown := q.rank[b]
	switch {
	case aKnown && bKnown:
		return aRank - bRank
	case aKnown:
		return -1
	case bKnown:
		return 1
	}
	return strings.Compare(a, b)
}

func compareSpecial(a, b, name string) int {
	if a == name {
		return -1
	}
	if b == name {
		return 1
	}
	return 0
}
