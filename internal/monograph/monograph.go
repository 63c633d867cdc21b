// Package monograph holds the rewritten "mono" commit graph the expander
// produces (spec.md §3, §4.5): each node interleaves a top-repo commit
// with the submodule commits it bumps, with edges to both in-mono
// parents and commits that remain outside the mono graph.
package monograph

import (
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
)

// SubmoduleContent names a specific commit in an enabled sub-repository.
type SubmoduleContent struct {
	RepoName     reponame.RepoName
	OrigCommitID oid.OID
}

// ExpandedKind discriminates the outcome of expanding one submodule bump.
type ExpandedKind int

const (
	// ExpandedOK means the sub commit was successfully injected into the
	// mono graph.
	ExpandedOK ExpandedKind = iota
	// ExpandedKeptAsSubmodule means the sub-repo is disabled in config,
	// so the gitlink is left untouched rather than inlined.
	ExpandedKeptAsSubmodule
	// ExpandedCommitMissing means the sub commit is absent from the
	// loaded graph.
	ExpandedCommitMissing
	// ExpandedUnknownSubmodule means the bump's repo_name never resolved.
	ExpandedUnknownSubmodule
	// ExpandedRegressed means the sub commit is not an ancestor of any
	// mono parent's version at this path; a reset commit was synthesized.
	ExpandedRegressed
)

// ExpandedSubmodule is the classified outcome of one submodule bump
// (spec.md §3: "exactly one variant per bump").
type ExpandedSubmodule struct {
	Kind ExpandedKind
	// Content is valid for ExpandedOK, ExpandedCommitMissing, and
	// ExpandedRegressed.
	Content SubmoduleContent
	// KeptCommitID is valid for ExpandedKeptAsSubmodule and
	// ExpandedUnknownSubmodule: the raw gitlink id left in place.
	KeptCommitID oid.OID
}

// BumpOutcomeKind discriminates one submodule_bumps entry in a mono
// commit: either an ExpandedSubmodule outcome, or the path was removed.
type BumpOutcomeKind int

const (
	BumpOutcomeExpanded BumpOutcomeKind = iota
	BumpOutcomeRemoved
)

// ExpandedOrRemoved is one entry of a MonoRepoCommit's submodule_bumps.
type ExpandedOrRemoved struct {
	Kind      BumpOutcomeKind
	Submodule ExpandedSubmodule // valid when Kind == BumpOutcomeExpanded
}

// ParentKind discriminates a MonoRepoParent edge.
type ParentKind int

const (
	// ParentMono is an edge to another node of this same mono graph.
	ParentMono ParentKind = iota
	// ParentOriginalSubmod is an edge out of the mono graph, preserving
	// file-level ancestry (spec.md §4.5.1) for a submodule commit that
	// could not be injected.
	ParentOriginalSubmod
)

// MonoRepoParent is one parent edge of a MonoRepoCommit.
type MonoRepoParent struct {
	Kind ParentKind
	Mono *MonoRepoCommit // valid when Kind == ParentMono

	// Path and CommitID are valid when Kind == ParentOriginalSubmod.
	Path     reponame.Path
	CommitID oid.OID
}

// MonoRepoCommit is one node of the mono graph (spec.md §3).
type MonoRepoCommit struct {
	// CommitID is assigned lazily, once fast-import reports the mark's
	// object id (spec.md §3 Lifecycle).
	CommitID oid.OID
	Mark     int

	Parents []MonoRepoParent
	// TopBump is set iff this commit originates from a top commit.
	TopBump   oid.OID
	HasTopBump bool

	SubmoduleBumps map[string]ExpandedOrRemoved
	Depth          uint32

	submodulePaths map[string]struct{}
}

// New constructs a MonoRepoCommit, computing depth from its mono parents
// and deriving submodule_paths the same way thingraph.New does: the
// canonical super-parent's paths (first parent, if Mono) union added
// minus removed.
func New(parents []MonoRepoParent, bumps map[string]ExpandedOrRemoved) *MonoRepoCommit {
	c := &MonoRepoCommit{Parents: parents, SubmoduleBumps: bumps}

	c.Depth = 1
	for _, p := range parents {
		if p.Kind == ParentMono && p.Mono != nil && p.Mono.Depth+1 > c.Depth {
			c.Depth = p.Mono.Depth + 1
		}
	}

	paths := make(map[string]struct{})
	if len(parents) > 0 && parents[0].Kind == ParentMono && parents[0].Mono != nil {
		for p := range parents[0].Mono.submodulePaths {
			paths[p] = struct{}{}
		}
	}
	for path, outcome := range bumps {
		if outcome.Kind == BumpOutcomeRemoved {
			delete(paths, path)
		} else {
			paths[path] = struct{}{}
		}
	}
	c.submodulePaths = paths
	return c
}

// SetTopBump records that this commit originates from top commit id.
func (c *MonoRepoCommit) SetTopBump(id oid.OID) {
	c.TopBump = id
	c.HasTopBump = true
}

// IsSubmodulePath reports whether path is a live submodule at this node.
func (c *MonoRepoCommit) IsSubmodulePath(path string) bool {
	_, ok := c.submodulePaths[path]
	return ok
}

// SubmodulePaths returns every path that is a live submodule mount at
// this node, in no particular order. The splitter uses this to find the
// innermost enclosing submodule for a file change (spec.md §4.6 step 2).
func (c *MonoRepoCommit) SubmodulePaths() []string {
	out := make([]string, 0, len(c.submodulePaths))
	for p := range c.submodulePaths {
		out = append(out, p)
	}
	return out
}

// CanonicalSuperParent returns the first parent if it is a Mono edge,
// which spec.md §3 calls "the canonical super-parent".
func (c *MonoRepoCommit) CanonicalSuperParent() *MonoRepoCommit {
	if len(c.Parents) == 0 || c.Parents[0].Kind != ParentMono {
		return nil
	}
	return c.Parents[0].Mono
}

// Graph owns every MonoRepoCommit produced during expansion, plus the
// top_to_mono_map that records which mono commit each top commit became
// (spec.md §3 ImportCache fields, minus the per-repo thin graphs which
// live in internal/thingraph).
type Graph struct {
	Commits      map[oid.OID]*MonoRepoCommit // keyed by assigned CommitID
	TopToMono    map[oid.OID]*MonoRepoCommit // keyed by top commit id
}

// NewGraph returns an empty mono graph.
func NewGraph() *Graph {
	return &Graph{
		Commits:   make(map[oid.OID]*MonoRepoCommit),
		TopToMono: make(map[oid.OID]*MonoRepoCommit),
	}
}

// Record stores c once its object id is known, and — if it has a
// top-bump — links top_to_mono_map[c.TopBump] = c, maintaining the
// invariant that top_to_mono_map's values are a subset of Commits'
// values (spec.md §3).
func (g *Graph) Record(c *MonoRepoCommit) {
	g.Commits[c.CommitID] = c
	if c.HasTopBump {
		g.TopToMono[c.TopBump] = c
	}
}
