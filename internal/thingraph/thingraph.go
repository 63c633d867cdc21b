// Package thingraph holds the per-repository "thin commit" graph
// (spec.md §3, §4.4): a compact DAG recording, for each commit, its
// parents, tree id, `.gitmodules` blob, and the submodule-bump diff
// relative to its first parent. It never holds file contents — only the
// gitlink bumps the expander needs to reconstruct a monorepo tree.
package thingraph

import (
	"fmt"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
)

// SubmoduleContentKind discriminates a submodule bump's resolution
// state: whether `.gitmodules` could map its path to a configured repo.
type SubmoduleContentKind int

const (
	// SubmoduleResolved means the path resolved to a known SubRepoName.
	SubmoduleResolved SubmoduleContentKind = iota
	// SubmoduleUnresolved means .gitmodules did not resolve this path;
	// spec.md §3 requires this to be the only reason repo_name is absent.
	SubmoduleUnresolved
)

// ThinSubmoduleContent is the payload of an AddedOrModified bump.
type ThinSubmoduleContent struct {
	Kind     SubmoduleContentKind
	RepoName reponame.RepoName // valid only when Kind == SubmoduleResolved
	CommitID oid.OID
}

// BumpKind discriminates a ThinSubmodule bump.
type BumpKind int

const (
	BumpAddedOrModified BumpKind = iota
	BumpRemoved
)

// ThinSubmodule is one entry of a commit's submodule_bumps map.
type ThinSubmodule struct {
	Kind    BumpKind
	Content ThinSubmoduleContent // valid only when Kind == BumpAddedOrModified
}

// ThinCommit is one node of a repository's thin-commit graph. Parents are
// held as pointers into the same RepoData, so depth and submodule_paths
// can always be derived without re-consulting the map.
type ThinCommit struct {
	CommitID      oid.OID
	TreeID        oid.OID
	Parents       []*ThinCommit
	Depth         uint32
	DotGitmodules oid.OID // zero means absent
	HasGitmodules bool

	// SubmoduleBumps preserves insertion order (spec.md §3: "ordered
	// map"), since the order file-changes were observed in the
	// fast-export stream is what the expander's tree_updates sort
	// depends on for stability across otherwise-equal depths.
	SubmoduleBumps *linkedhashmap.Map // Path -> ThinSubmodule

	// submodulePaths is the derived set used to answer "is this path a
	// submodule here" in O(1); computed once at construction per
	// spec.md §3: first_parent.submodule_paths ∪ added − removed.
	submodulePaths map[string]struct{}
}

// NewRoot constructs a ThinCommit with no parents (depth 1).
func NewRoot(commitID, treeID oid.OID) *ThinCommit {
	return &ThinCommit{
		CommitID:       commitID,
		TreeID:         treeID,
		Depth:          1,
		SubmoduleBumps: linkedhashmap.New(),
		submodulePaths: make(map[string]struct{}),
	}
}

// New constructs a ThinCommit from its parents and bump diff, computing
// depth and submodule_paths per spec.md §3's invariants. bumps must be
// ordered the way they were observed in the commit's file-change list.
func New(commitID, treeID oid.OID, parents []*ThinCommit, bumps *linkedhashmap.Map) *ThinCommit {
	if bumps == nil {
		bumps = linkedhashmap.New()
	}
	c := &ThinCommit{
		CommitID:       commitID,
		TreeID:         treeID,
		Parents:        parents,
		SubmoduleBumps: bumps,
	}
	c.Depth = 1
	for _, p := range parents {
		if p.Depth+1 > c.Depth {
			c.Depth = p.Depth + 1
		}
	}

	paths := make(map[string]struct{})
	if len(parents) > 0 {
		for p := range parents[0].submodulePaths {
			paths[p] = struct{}{}
		}
	}
	it := bumps.Iterator()
	for it.Next() {
		path := it.Key().(string)
		sub := it.Value().(ThinSubmodule)
		if sub.Kind == BumpRemoved {
			delete(paths, path)
		} else {
			paths[path] = struct{}{}
		}
	}
	c.submodulePaths = paths
	return c
}

// FirstParent returns the first parent, or nil for a root commit.
func (c *ThinCommit) FirstParent() *ThinCommit {
	if len(c.Parents) == 0 {
		return nil
	}
	return c.Parents[0]
}

// IsSubmodulePath reports whether path is a live submodule at this
// commit (submodule_paths, spec.md §3).
func (c *ThinCommit) IsSubmodulePath(path string) bool {
	_, ok := c.submodulePaths[path]
	return ok
}

// SubmodulePaths returns every path that is a live submodule at this
// commit, in no particular order.
func (c *ThinCommit) SubmodulePaths() []string {
	out := make([]string, 0, len(c.submodulePaths))
	for p := range c.submodulePaths {
		out = append(out, p)
	}
	return out
}

// Bump looks up the bump recorded for path at this exact commit (not
// inherited from a parent); ok is false if this commit did not touch
// path.
func (c *ThinCommit) Bump(path string) (ThinSubmodule, bool) {
	v, ok := c.SubmoduleBumps.Get(path)
	if !ok {
		return ThinSubmodule{}, false
	}
	return v.(ThinSubmodule), true
}

// RepoData is the thin-commit graph and dedup cache for one namespaced
// repository (spec.md §3).
type RepoData struct {
	URL         string
	ThinCommits map[oid.OID]*ThinCommit
	DedupCache  map[oid.OID]oid.OID // WithoutCommitterId -> commit id
}

// NewRepoData returns an empty RepoData for url.
func NewRepoData(url string) *RepoData {
	return &RepoData{
		URL:         url,
		ThinCommits: make(map[oid.OID]*ThinCommit),
		DedupCache:  make(map[oid.OID]oid.OID),
	}
}

// Add records c, keyed by its commit id. It is an error to add a commit
// whose parents are not already present, preserving the "no dangling
// parents" invariant (spec.md §3).
func (r *RepoData) Add(c *ThinCommit) error {
	for _, p := range c.Parents {
		if _, ok := r.ThinCommits[p.CommitID]; !ok {
			return fmt.Errorf("thingraph: parent %s of %s not present in graph", p.CommitID, c.CommitID)
		}
	}
	r.ThinCommits[c.CommitID] = c
	return nil
}

// Get looks up a commit by id.
func (r *RepoData) Get(id oid.OID) (*ThinCommit, bool) {
	c, ok := r.ThinCommits[id]
	return c, ok
}

// Len reports how many commits are in the graph.
func (r *RepoData) Len() int { return len(r.ThinCommits) }

// SortedByDepth returns every commit in ascending-depth order, the shape
// spec.md §4.7 requires for cache serialization (parents before
// children). Ties are broken by commit id for determinism.
func (r *RepoData) SortedByDepth() []*ThinCommit {
	out := make([]*ThinCommit, 0, len(r.ThinCommits))
	for _, c := range r.ThinCommits {
		out = append(out, c)
	}
	sortByDepthThenID(out)
	return out
}

func sortByDepthThenID(commits []*ThinCommit) {
	// Simple insertion sort is adequate: callers invoke this once per
	// cache write/read, not on a hot path, and n is the commit count of
	// a single repo's loaded graph.
	for i := 1; i < len(commits); i++ {
		for j := i; j > 0; j-- {
			a, b := commits[j-1], commits[j]
			if a.Depth < b.Depth || (a.Depth == b.Depth && oid.Compare(a.CommitID, b.CommitID) <= 0) {
				break
			}
			commits[j-1], commits[j] = commits[j], commits[j-1]
		}
	}
}
