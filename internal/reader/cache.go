package reader

import (
	"sync/atomic"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

// Cache holds the latest snapshot for the HTTP layer. Writes come from the
// reader loop only; reads come from every request handler and the SSE
// broadcaster, so the snapshot is swapped atomically and never mutated in
// place.
type Cache struct {
	snap atomic.Pointer[model.Snapshot]
}

// NewCache returns an empty cache.
func NewCache() *Cache { return &Cache{} }

// Store publishes a new snapshot.
func (c *Cache) Store(snap model.Snapshot) {
	c.snap.Store(&snap)
}

// Load returns the latest snapshot, or false before the first frame arrives.
func (c *Cache) Load() (model.Snapshot, bool) {
	p := c.snap.Load()
	if p == nil {
		return model.Snapshot{}, false
	}
	return *p, true
}
