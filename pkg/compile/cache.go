// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package compile

import (
	"sync"

	"github.com/kraklabs/incr/pkg/analysis"
)

// StoreCache is a process-wide cache of loaded analyses keyed by
// backing file path, so repeated loads across compile units share
// memory. Entries may be evicted at any time; callers must tolerate
// misses. The cache is flushable to support long-running hosts.
type StoreCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	analysis *analysis.Analysis
	setup    analysis.MiniSetup
}

// NewStoreCache creates an empty cache.
func NewStoreCache() *StoreCache {
	return &StoreCache{entries: make(map[string]*cacheEntry)}
}

// globalCache is the shared per-process cache.
var globalCache = NewStoreCache()

// GlobalCache returns the shared per-process analysis cache.
func GlobalCache() *StoreCache {
	return globalCache
}

// Get returns the cached analysis and setup for a path.
func (c *StoreCache) Get(path string) (*analysis.Analysis, analysis.MiniSetup, bool) {
	c.mu.RLock()
	entry, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok {
		return nil, analysis.MiniSetup{}, false
	}
	return entry.analysis, entry.setup, true
}

// Put caches the analysis and setup for a path.
func (c *StoreCache) Put(path string, a *analysis.Analysis, setup analysis.MiniSetup) {
	c.mu.Lock()
	c.entries[path] = &cacheEntry{analysis: a, setup: setup}
	c.mu.Unlock()
}

// Invalidate evicts the entry for a path.
func (c *StoreCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Flush evicts every entry.
func (c *StoreCache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *StoreCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
