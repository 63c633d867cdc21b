package gitmodules

import (
	"sync"

	"github.com/meroton/git-toprepo/internal/oid"
)

// Cache memoizes Parse results by the blob OID of the `.gitmodules` file
// that produced them, since the same blob recurs across many commits in
// typical history (spec.md §4.3) and reparsing it every time would be
// wasted work on the loader's hot path.
type Cache struct {
	mu    sync.Mutex
	byOID map[oid.OID]ParseResult
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{byOID: make(map[oid.OID]ParseResult)}
}

// Get returns the cached parse for blobOID, parsing and storing it via
// load on first use.
func (c *Cache) Get(blobOID oid.OID, load func() ([]byte, error)) (ParseResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if result, ok := c.byOID[blobOID]; ok {
		return result, nil
	}
	data, err := load()
	if err != nil {
		return ParseResult{}, err
	}
	result := Parse(data)
	c.byOID[blobOID] = result
	return result, nil
}

// Len reports how many distinct blobs have been parsed and cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byOID)
}
