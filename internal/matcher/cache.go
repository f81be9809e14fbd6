// Package matcher holds the in-memory encoding cache and the vector matching
// routines that run against it.
package matcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hradilp/face-finder/internal/observability"
	"github.com/hradilp/face-finder/internal/store"
)

// Entry is one collection's embeddings stacked into a dense row-major matrix.
// Row i of the matrix belongs to AssetIDs[i]/AssetNames[i]. Entries are
// immutable once built; updates replace the whole entry.
type Entry struct {
	CollectionID string
	Dim          int
	Matrix       []float32 // len = Dim * Len()
	AssetIDs     []string
	AssetNames   []string
	LoadedAt     time.Time
}

// Len returns the number of vectors in the entry.
func (e *Entry) Len() int {
	return len(e.AssetIDs)
}

// Row returns the i-th vector as a slice into the matrix.
func (e *Entry) Row(i int) []float32 {
	return e.Matrix[i*e.Dim : (i+1)*e.Dim]
}

// approxSizeBytes estimates the entry's memory footprint.
func (e *Entry) approxSizeBytes() int64 {
	size := int64(len(e.Matrix)) * 4
	for i := range e.AssetIDs {
		size += int64(len(e.AssetIDs[i]) + len(e.AssetNames[i]))
	}
	return size
}

// Stats summarizes cache contents.
type Stats struct {
	Entries         int   `json:"entries"`
	TotalVectors    int   `json:"total_vectors"`
	ApproxSizeBytes int64 `json:"approx_size_bytes"`
}

// Cache is the process-wide encoding cache. A single RWMutex guards the entry
// map: entries themselves are immutable, so readers only hold the lock for
// the map lookup and cross-collection contention stays negligible. Concurrent
// misses for the same collection are collapsed into one storage scan.
type Cache struct {
	embeddings store.EmbeddingStore

	mu      sync.RWMutex
	entries map[string]*Entry
	group   singleflight.Group
}

// NewCache creates an encoding cache backed by the given embedding store.
func NewCache(embeddings store.EmbeddingStore) *Cache {
	return &Cache{
		embeddings: embeddings,
		entries:    make(map[string]*Entry),
	}
}

// Get returns the cache entry for a collection, loading it from storage on
// the first access. The bool reports whether the entry was already cached.
func (c *Cache) Get(ctx context.Context, collectionID string) (*Entry, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[collectionID]
	c.mu.RUnlock()
	if ok {
		observability.CacheHits.Inc()
		return entry, true, nil
	}

	observability.CacheMisses.Inc()
	result, err, _ := c.group.Do(collectionID, func() (any, error) {
		// Re-check: another caller may have finished loading while this
		// one waited on the flight group.
		c.mu.RLock()
		cached, ok := c.entries[collectionID]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		loaded, err := c.load(ctx, collectionID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[collectionID] = loaded
		c.mu.Unlock()
		c.updateVectorGauge()
		return loaded, nil
	})
	if err != nil {
		return nil, false, err
	}
	return result.(*Entry), false, nil
}

// load reads every embedding of a collection and stacks it into one matrix.
func (c *Cache) load(ctx context.Context, collectionID string) (*Entry, error) {
	embeddings, err := c.embeddings.ListByCollection(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("load embeddings for collection %s: %w", collectionID, err)
	}

	entry := &Entry{
		CollectionID: collectionID,
		LoadedAt:     time.Now(),
	}
	if len(embeddings) == 0 {
		return entry, nil
	}

	entry.Dim = len(embeddings[0].Vector)
	entry.Matrix = make([]float32, 0, entry.Dim*len(embeddings))
	entry.AssetIDs = make([]string, 0, len(embeddings))
	entry.AssetNames = make([]string, 0, len(embeddings))

	for _, emb := range embeddings {
		if len(emb.Vector) != entry.Dim {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d",
				emb.ID, len(emb.Vector), entry.Dim)
		}
		entry.Matrix = append(entry.Matrix, emb.Vector...)
		entry.AssetIDs = append(entry.AssetIDs, emb.AssetID)
		entry.AssetNames = append(entry.AssetNames, emb.AssetName)
	}
	return entry, nil
}

// Invalidate drops the entry for a collection. Called after any write that
// changes the collection's embedding set.
func (c *Cache) Invalidate(collectionID string) {
	c.mu.Lock()
	delete(c.entries, collectionID)
	c.mu.Unlock()
	c.updateVectorGauge()
}

// Stats returns a summary of what the cache currently holds.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{Entries: len(c.entries)}
	for _, entry := range c.entries {
		stats.TotalVectors += entry.Len()
		stats.ApproxSizeBytes += entry.approxSizeBytes()
	}
	return stats
}

func (c *Cache) updateVectorGauge() {
	c.mu.RLock()
	total := 0
	for _, entry := range c.entries {
		total += entry.Len()
	}
	c.mu.RUnlock()
	observability.CachedVectors.Set(float64(total))
}
