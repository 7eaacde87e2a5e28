package thread

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ajramos/mailtriage/internal/localstore"
	"github.com/ajramos/mailtriage/internal/metadata"
)

// Deps are the collaborators every Thread shares.
type Deps struct {
	Store    *metadata.Store
	Provider Provider
	Labels   LabelRegistry
	Messages *localstore.MessageStore
	Log      logrus.FieldLogger
}

// Cache is the process-wide identity map from thread id to the single Thread
// instance for that id, so call sites can rely on reference equality for list
// diffing. There is no eviction; the map grows with distinct threads seen.
type Cache struct {
	deps Deps

	mu      sync.Mutex
	threads map[string]*Thread
}

// NewCache creates an empty thread registry. Tests instantiate isolated
// registries per case; production wires exactly one.
func NewCache(deps Deps) *Cache {
	if deps.Log == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		deps.Log = logger
	}
	return &Cache{deps: deps, threads: make(map[string]*Thread)}
}

// Get returns the Thread for id, creating it on first reference. An existing
// instance has its metadata replaced wholesale with the given snapshot.
func (c *Cache) Get(id string, meta *metadata.ThreadMetadata) *Thread {
	c.mu.Lock()
	t, ok := c.threads[id]
	c.mu.Unlock()
	if ok {
		t.setMetadata(meta)
		return t
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check: another goroutine may have created it meanwhile.
	if t, ok := c.threads[id]; ok {
		t.setMetadata(meta)
		return t
	}
	t = newThread(id, meta, c.deps)
	c.threads[id] = t
	return t
}

// Len returns the number of threads seen so far.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.threads)
}
