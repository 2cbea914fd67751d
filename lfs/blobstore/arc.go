package blobstore

import (
	lru "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/scmforge/scmcore/content"
)

// Caching wraps a Store with an adaptive-replacement in-memory cache of
// decoded blob bytes. It is the "caching store (rotated)" referenced in
// §3's ownership/lifecycle note, as distinct from a Loose store marked
// Permanent (which never evicts). Eviction only drops the in-memory
// shortcut; the wrapped Store (typically a ChunkLog) remains the source of
// truth and may itself be rotated/GC'd independently.
type Caching struct {
	underlying Store
	cache      *lru.ARCCache[content.Hash, []byte]
}

// NewCaching wraps underlying with an ARC cache holding up to capacity
// decoded blobs.
func NewCaching(underlying Store, capacity int) (*Caching, error) {
	c, err := lru.NewARC[content.Hash, []byte](capacity)
	if err != nil {
		return nil, err
	}
	return &Caching{underlying: underlying, cache: c}, nil
}

// Get consults the ARC cache first; on a miss it falls through to the
// wrapped store and populates the cache.
func (c *Caching) Get(h content.Hash, expectedSize uint64) ([]byte, bool, error) {
	if b, ok := c.cache.Get(h); ok {
		return b, true, nil
	}
	b, ok, err := c.underlying.Get(h, expectedSize)
	if err != nil || !ok {
		return b, ok, err
	}
	c.cache.Add(h, b)
	return b, true, nil
}

// Contains checks the cache before falling through.
func (c *Caching) Contains(h content.Hash) (bool, error) {
	if c.cache.Contains(h) {
		return true, nil
	}
	return c.underlying.Contains(h)
}

// Add writes through to the underlying store and seeds the cache.
func (c *Caching) Add(h content.Hash, data []byte) error {
	if err := c.underlying.Add(h, data); err != nil {
		return err
	}
	c.cache.Add(h, data)
	return nil
}

// Remove evicts from the cache and removes from the underlying store.
func (c *Caching) Remove(h content.Hash) error {
	c.cache.Remove(h)
	return c.underlying.Remove(h)
}

var _ Store = (*Caching)(nil)
