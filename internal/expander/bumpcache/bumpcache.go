// Package bumpcache is the expander's LRU cache from (mono commit, abs
// submodule path) to the submodule's resolved state there, plus the
// "last-bump" roots to restart a bump-chain walk from (spec.md §4.5.3).
// Insertion is restricted to power-of-two depths on a chain, bounding
// memory to O(log n) per chain.
package bumpcache

import (
	"github.com/hashicorp/golang-lru/v2"

	"github.com/meroton/git-toprepo/internal/monograph"
)

// Key identifies one cache slot.
type Key struct {
	MonoCommitID [20]byte
	Path         string
}

// Entry is what a cache hit returns: the submodule's state at Path in
// the keyed commit, and the most recent ancestors that actually touched
// it (the roots a bump-chain walk restarts from).
type Entry struct {
	State      monograph.ExpandedOrRemoved
	LastBumps  []*monograph.MonoRepoCommit
}

// Cache is an LRU-bounded map, sized generously since entries are small
// and lookups happen on every submodule bump the expander processes.
type Cache struct {
	lru *lru.Cache[Key, Entry]
}

// defaultSize comfortably holds the bump-chain cache for a large
// monorepo history (tens of thousands of commits × a handful of
// submodule paths each) without unbounded growth.
const defaultSize = 1 << 16

// New returns an empty bump cache.
func New() *Cache {
	c, err := lru.New[Key, Entry](defaultSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultSize never is.
		panic(err)
	}
	return &Cache{lru: c}
}

// Get looks up the cached state for path at commit.
func (c *Cache) Get(commit *monograph.MonoRepoCommit, path string) (Entry, bool) {
	return c.lru.Get(Key{MonoCommitID: commit.CommitID, Path: path})
}

// IsPowerOfTwoDepth reports whether depth is eligible for insertion,
// implementing spec.md §4.5.3's "only commits at power-of-two depths on
// the chain are inserted" bound. Depth 0 never occurs (commits are
// 1-indexed); depth 1 is always eligible (2^0).
func IsPowerOfTwoDepth(depth uint32) bool {
	return depth != 0 && depth&(depth-1) == 0
}

// Put records the state for path at commit, along with the roots to
// resume a bump-chain search from, but only if commit.Depth is a
// power-of-two chain depth (spec.md §4.5.3) — callers should still call
// Put unconditionally and let this check no-op, so the decision lives in
// one place.
func (c *Cache) Put(commit *monograph.MonoRepoCommit, path string, state monograph.ExpandedOrRemoved, lastBumps []*monograph.MonoRepoCommit) {
	if !IsPowerOfTwoDepth(commit.Depth) {
		return
	}
	c.lru.Add(Key{MonoCommitID: commit.CommitID, Path: path}, Entry{State: state, LastBumps: lastBumps})
}

// Len reports how many entries are currently cached.
func (c *Cache) Len() int { return c.lru.Len() }
