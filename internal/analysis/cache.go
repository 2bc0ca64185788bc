package analysis

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pixelated-empathy/bias-engine/internal/core"
)

// ResultCache memoizes analysis results by session ID. Concurrent requests
// for the same key share a single underlying computation; requests for
// different keys proceed in parallel. Capacity is bounded with
// oldest-first eviction so the cache cannot grow without limit.
type ResultCache struct {
	mu       sync.RWMutex
	entries  map[string]*core.AnalysisResult
	order    []string // insertion order, oldest first
	capacity int

	group singleflight.Group
}

// NewResultCache creates a cache bounded to capacity entries.
func NewResultCache(capacity int) *ResultCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ResultCache{
		entries:  make(map[string]*core.AnalysisResult),
		capacity: capacity,
	}
}

// Get returns the cached result for a session, if present.
func (c *ResultCache) Get(sessionID string) (*core.AnalysisResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.entries[sessionID]
	return res, ok
}

// ComputeFunc produces an analysis result on cache miss.
type ComputeFunc func(ctx context.Context) (*core.AnalysisResult, error)

// GetOrCompute returns the cached result for sessionID, computing and
// storing it on miss. If multiple callers miss concurrently for the same
// key, compute runs exactly once and all callers receive its outcome.
// The returned bool reports whether the caller was served an existing
// value; it is false only for the single caller whose compute ran.
func (c *ResultCache) GetOrCompute(ctx context.Context, sessionID string, compute ComputeFunc) (*core.AnalysisResult, bool, error) {
	if res, ok := c.Get(sessionID); ok {
		return res, true, nil
	}

	// computed is set only in the caller whose closure singleflight
	// executed; flight joiners keep their zero value and report a hit.
	computed := false
	v, err, _ := c.group.Do(sessionID, func() (interface{}, error) {
		// Re-check under the flight: another caller may have stored the
		// value between our miss and acquiring the flight.
		if res, ok := c.Get(sessionID); ok {
			return res, nil
		}
		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.put(sessionID, res)
		computed = true
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*core.AnalysisResult), !computed, nil
}

// Invalidate removes an entry (used when a caller requests skipCache).
func (c *ResultCache) Invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[sessionID]; !ok {
		return
	}
	delete(c.entries, sessionID)
	for i, id := range c.order {
		if id == sessionID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Put stores a result directly, evicting the oldest entry when full.
func (c *ResultCache) Put(sessionID string, res *core.AnalysisResult) {
	c.put(sessionID, res)
}

func (c *ResultCache) put(sessionID string, res *core.AnalysisResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[sessionID]; !exists {
		for len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, sessionID)
	}
	c.entries[sessionID] = res
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
