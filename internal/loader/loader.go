// Package loader implements spec.md §4.4: for one source repository
// (the top repository or a configured submodule), it streams a git
// fast-export of the commits not yet in the live thin-commit graph,
// converts each into a thingraph.ThinCommit, diffs its submodule bumps
// against its first parent, and resolves each bump's repo name via the
// .gitmodules blob effective at that commit.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"github.com/meroton/git-toprepo/internal/config"
	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/gitmodules"
	"github.com/meroton/git-toprepo/internal/obslog"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
	"github.com/meroton/git-toprepo/internal/thingraph"
)

// TreeResolver answers "what tree does this commit point at", a fact
// git fast-export's own grammar never reports (spec.md §4.1).
type TreeResolver interface {
	TreeID(commitID oid.OID) (oid.OID, error)
}

// RefEnumerator lists the tips a repository's namespace currently
// carries (spec.md §4.4 step 1): full ref name -> tip commit id.
type RefEnumerator interface {
	ListRefs(repoName reponame.RepoName) (map[string]oid.OID, error)
}

// BlobReader reads a blob's raw content, used to fetch `.gitmodules`
// contents by id.
type BlobReader interface {
	Blob(blobID oid.OID) ([]byte, error)
}

// ExportSource is the subset of *fastexport.Reader the loader consumes,
// narrowed to an interface so tests can feed a canned entry sequence
// without spawning git.
type ExportSource interface {
	Next() (*fastexport.Entry, error)
	Close() error
}

// ExportOpener opens an ExportSource over the given revision range.
type ExportOpener func(ctx context.Context, revs fastexport.Revisions) (ExportSource, error)

// Fetcher is the loader's only contract with the (out-of-scope, spec.md
// §1) fetch subprocess orchestration: given a repo and a set of wanted
// commits, attempt to retrieve them and report which remain absent
// afterward (spec.md §4.4 step 6).
type Fetcher interface {
	Fetch(repoName reponame.RepoName, wanted []oid.OID) (stillMissing map[oid.OID]bool, err error)
}

// Loader loads one repository's thin-commit graph.
type Loader struct {
	RepoName reponame.RepoName
	Repo     *thingraph.RepoData // mutated in place
	Config   *config.Config
	Modules  *gitmodules.Cache
	Blobs    BlobReader
	Trees    TreeResolver
	Refs     RefEnumerator
	Open     ExportOpener
	Log      *obslog.Logger
}

// Result summarizes one Load call: the submodule commits it newly
// recorded as needed, grouped by the repository that owns them —
// spec.md §4.4 step 6's input for cross-repo re-fetch reconciliation.
type Result struct {
	Needed map[reponame.RepoName]map[oid.OID]struct{}
	// LoadedCommits is how many new ThinCommits this call added.
	LoadedCommits int
}

func newResult() *Result {
	return &Result{Needed: make(map[reponame.RepoName]map[oid.OID]struct{})}
}

func (r *Result) addNeeded(repo reponame.RepoName, id oid.OID) {
	set, ok := r.Needed[repo]
	if !ok {
		set = make(map[oid.OID]struct{})
		r.Needed[repo] = set
	}
	set[id] = struct{}{}
}

// Load implements spec.md §4.4: classify this repo's ref tips,
// fast-export everything not already in l.Repo, and fold each exported
// commit into the thin-commit graph.
func (l *Loader) Load(ctx context.Context) (*Result, error) {
	refs, err := l.Refs.ListRefs(l.RepoName)
	if err != nil {
		return nil, fmt.Errorf("loader: listing refs for %s: %w", l.RepoName, err)
	}

	var positive []string
	seen := make(map[oid.OID]struct{})
	for _, tip := range refs {
		if _, known := l.Repo.Get(tip); known {
			continue
		}
		if _, dup := seen[tip]; dup {
			continue
		}
		seen[tip] = struct{}{}
		positive = append(positive, tip.String())
	}
	if len(positive) == 0 {
		return newResult(), nil
	}
	sort.Strings(positive) // deterministic fast-export invocation across runs

	negative := make([]string, 0, len(l.Repo.ThinCommits))
	for id := range l.Repo.ThinCommits {
		negative = append(negative, id.String())
	}
	sort.Strings(negative)

	src, err := l.Open(ctx, fastexport.Revisions{Positive: positive, Negative: negative})
	if err != nil {
		return nil, fmt.Errorf("loader: fast-export %s: %w", l.RepoName, err)
	}
	defer src.Close()

	result := newResult()
	ctxLog := l.Log.Context("loading %s", l.RepoName)

	for {
		entry, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, ctxLog.Errorf("%v", err)
		}
		if entry.Kind != fastexport.EntryCommit {
			continue // Reset entries carry no graph information for the loader
		}
		if err := l.foldCommit(entry.Commit, result, ctxLog); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// foldCommit converts one exported commit into a ThinCommit and adds it
// to l.Repo, per spec.md §4.4 step 4-5.
func (l *Loader) foldCommit(c *fastexport.Commit, result *Result, ctxLog *obslog.Context) error {
	parentIDs := c.Parents()
	parents := make([]*thingraph.ThinCommit, 0, len(parentIDs))
	for _, pid := range parentIDs {
		p, ok := l.Repo.Get(pid)
		if !ok {
			return ctxLog.Errorf("commit %s references parent %s which was not exported or already known (stream out of order)", c.OriginalOID, pid)
		}
		parents = append(parents, p)
	}

	treeID, err := l.Trees.TreeID(c.OriginalOID)
	if err != nil {
		return ctxLog.Errorf("resolving tree for %s: %v", c.OriginalOID, err)
	}

	var firstParent *thingraph.ThinCommit
	if len(parents) > 0 {
		firstParent = parents[0]
	}

	bumps := linkedhashmap.New()
	dotGitmodules := oid.Zero
	hasGitmodules := false
	if firstParent != nil {
		dotGitmodules = firstParent.DotGitmodules
		hasGitmodules = firstParent.HasGitmodules
	}

	for _, fc := range c.FileChanges {
		path := string(fc.Path)
		if path == ".gitmodules" {
			if fc.Kind == fastexport.ChangeDelete {
				dotGitmodules, hasGitmodules = oid.Zero, false
				continue
			}
			if fc.Mode != "100644" && fc.Mode != "100755" {
				ctxLog.Warn(l.RepoName.String()+"\x00badmode", "commit %s: .gitmodules has unexpected mode %s, treating as absent", c.OriginalOID, fc.Mode)
				dotGitmodules, hasGitmodules = oid.Zero, false
				continue
			}
			dotGitmodules, hasGitmodules = fc.OID, true
			continue
		}

		prevContent, wasSubmodule := currentSubmoduleContent(firstParent, path)

		switch {
		case fc.IsGitlink():
			if wasSubmodule && prevContent.CommitID == fc.OID {
				continue // identical bump, elided per spec.md §4.4 step 4
			}
			bumps.Put(path, thingraph.ThinSubmodule{
				Kind: thingraph.BumpAddedOrModified,
				Content: thingraph.ThinSubmoduleContent{
					Kind:     thingraph.SubmoduleUnresolved,
					CommitID: fc.OID,
				},
			})
		case fc.Kind == fastexport.ChangeDelete:
			if wasSubmodule {
				bumps.Put(path, thingraph.ThinSubmodule{Kind: thingraph.BumpRemoved})
			}
		default: // ordinary file modify
			if wasSubmodule {
				bumps.Put(path, thingraph.ThinSubmodule{Kind: thingraph.BumpRemoved})
			}
		}
	}

	// Resolve each newly-added bump's repo name against the effective
	// .gitmodules at this commit (spec.md §4.4 step 5).
	modules, err := l.loadGitmodules(dotGitmodules, hasGitmodules)
	if err != nil {
		return ctxLog.Errorf("parsing .gitmodules at %s: %v", c.OriginalOID, err)
	}
	it := bumps.Iterator()
	for it.Next() {
		path := it.Key().(string)
		bump := it.Value().(thingraph.ThinSubmodule)
		if bump.Kind != thingraph.BumpAddedOrModified {
			continue
		}
		content := l.resolveSubmodule(path, bump.Content.CommitID, modules, ctxLog)
		bumps.Put(path, thingraph.ThinSubmodule{Kind: thingraph.BumpAddedOrModified, Content: content})
		if content.Kind == thingraph.SubmoduleResolved {
			result.addNeeded(content.RepoName, content.CommitID)
		}
	}

	thin := thingraph.New(c.OriginalOID, treeID, parents, bumps)
	thin.DotGitmodules = dotGitmodules
	thin.HasGitmodules = hasGitmodules
	if err := l.Repo.Add(thin); err != nil {
		return ctxLog.Errorf("%v", err)
	}
	result.LoadedCommits++
	return nil
}

// resolveSubmodule implements spec.md §4.4 step 5: a path resolves only
// when .gitmodules both names it and its URL is claimed by a configured
// repo; anything else is Unresolved, warned once per repo and path (not
// per commit, to avoid log spam across a long branch of unchanged history).
func (l *Loader) resolveSubmodule(path string, commitID oid.OID, modules *gitmodules.Config, ctxLog *obslog.Context) thingraph.ThinSubmoduleContent {
	sub, ok := modules.ByPath(path)
	if !ok {
		ctxLog.Warn(l.RepoName.String()+"\x00unresolved\x00"+path, "submodule path %q not found in .gitmodules", path)
		return thingraph.ThinSubmoduleContent{Kind: thingraph.SubmoduleUnresolved, CommitID: commitID}
	}
	rn, ok := l.Config.ResolveURL(sub.URL)
	if !ok {
		ctxLog.Warn(l.RepoName.String()+"\x00unresolved\x00"+path, "submodule path %q url %q is not configured", path, sub.URL)
		return thingraph.ThinSubmoduleContent{Kind: thingraph.SubmoduleUnresolved, CommitID: commitID}
	}
	return thingraph.ThinSubmoduleContent{Kind: thingraph.SubmoduleResolved, RepoName: rn, CommitID: commitID}
}

func (l *Loader) loadGitmodules(blobID oid.OID, has bool) (*gitmodules.Config, error) {
	if !has {
		return &gitmodules.Config{}, nil
	}
	result, err := l.Modules.Get(blobID, func() ([]byte, error) { return l.Blobs.Blob(blobID) })
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// currentSubmoduleContent walks the first-parent chain starting at
// commit to find the most recent bump recorded at path, the way
// internal/expander's currentSubCommit does for the mono graph.
func currentSubmoduleContent(commit *thingraph.ThinCommit, path string) (thingraph.ThinSubmoduleContent, bool) {
	for cur := commit; cur != nil; cur = cur.FirstParent() {
		bump, ok := cur.Bump(path)
		if !ok {
			if cur.FirstParent() == nil {
				break
			}
			continue
		}
		if bump.Kind == thingraph.BumpRemoved {
			return thingraph.ThinSubmoduleContent{}, false
		}
		return bump.Content, true
	}
	return thingraph.ThinSubmoduleContent{}, false
}
