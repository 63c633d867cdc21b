package importcache

import (
	"fmt"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"github.com/meroton/git-toprepo/internal/monograph"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
	"github.com/meroton/git-toprepo/internal/thingraph"
)

// PackThin converts every repo's live thin-commit graph into its
// gob-friendly Packed form, in depth order (spec.md §4.7's required
// on-disk ordering, and the ordering PackedCommit.ParentIdx relies on —
// every parent's index is smaller than its own).
func PackThin(repos map[reponame.RepoName]*thingraph.RepoData) map[string]PackedRepoData {
	out := make(map[string]PackedRepoData, len(repos))
	for name, repo := range repos {
		ordered := repo.SortedByDepth()
		idx := make(map[oid.OID]int, len(ordered))
		for i, c := range ordered {
			idx[c.CommitID] = i
		}

		commits := make([]PackedCommit, len(ordered))
		for i, c := range ordered {
			parentIdx := make([]int, len(c.Parents))
			for j, p := range c.Parents {
				parentIdx[j] = idx[p.CommitID]
			}
			paths, bumps := packThinBumps(c.SubmoduleBumps)
			commits[i] = PackedCommit{
				CommitID:      c.CommitID,
				TreeID:        c.TreeID,
				ParentIdx:     parentIdx,
				Depth:         c.Depth,
				DotGitmodules: c.DotGitmodules,
				HasGitmodules: c.HasGitmodules,
				BumpPaths:     paths,
				Bumps:         bumps,
			}
		}
		out[name.String()] = PackedRepoData{
			URL:        repo.URL,
			Commits:    commits,
			DedupCache: repo.DedupCache,
		}
	}
	return out
}

func packThinBumps(bumps *linkedhashmap.Map) ([]string, map[string]PackedSubmodule) {
	paths := make([]string, 0)
	packed := make(map[string]PackedSubmodule)
	it := bumps.Iterator()
	for it.Next() {
		path := it.Key().(string)
		sub := it.Value().(thingraph.ThinSubmodule)
		paths = append(paths, path)
		if sub.Kind == thingraph.BumpRemoved {
			packed[path] = PackedSubmodule{Removed: true}
			continue
		}
		content := sub.Content
		if content.Kind == thingraph.SubmoduleUnresolved {
			packed[path] = PackedSubmodule{Unresolved: true, SubCommitID: content.CommitID}
			continue
		}
		packed[path] = PackedSubmodule{SubRepoName: content.RepoName.String(), SubCommitID: content.CommitID}
	}
	return paths, packed
}

// UnpackThin rebuilds the live thin-commit graphs from a Record's packed
// form. Every repo's commits must be stored in depth order (PackThin's
// contract), so ParentIdx always references an already-rebuilt commit.
func UnpackThin(in map[string]PackedRepoData) (map[reponame.RepoName]*thingraph.RepoData, error) {
	out := make(map[reponame.RepoName]*thingraph.RepoData, len(in))
	for nameStr, packed := range in {
		name := reponame.New(nameStr)
		repo := thingraph.NewRepoData(packed.URL)
		built := make([]*thingraph.ThinCommit, len(packed.Commits))
		for i, pc := range packed.Commits {
			parents := make([]*thingraph.ThinCommit, len(pc.ParentIdx))
			for j, pidx := range pc.ParentIdx {
				if pidx < 0 || pidx >= i {
					return nil, fmt.Errorf("importcache: repo %s commit %d: parent index %d out of order", nameStr, i, pidx)
				}
				parents[j] = built[pidx]
			}
			bumps := unpackThinBumps(pc.BumpPaths, pc.Bumps)
			c := thingraph.New(pc.CommitID, pc.TreeID, parents, bumps)
			c.DotGitmodules = pc.DotGitmodules
			c.HasGitmodules = pc.HasGitmodules
			built[i] = c
			if err := repo.Add(c); err != nil {
				return nil, fmt.Errorf("importcache: repo %s: %w", nameStr, err)
			}
		}
		for id, dest := range packed.DedupCache {
			repo.DedupCache[id] = dest
		}
		out[name] = repo
	}
	return out, nil
}

func unpackThinBumps(paths []string, packed map[string]PackedSubmodule) *linkedhashmap.Map {
	bumps := linkedhashmap.New()
	for _, path := range paths {
		ps := packed[path]
		if ps.Removed {
			bumps.Put(path, thingraph.ThinSubmodule{Kind: thingraph.BumpRemoved})
			continue
		}
		if ps.Unresolved {
			bumps.Put(path, thingraph.ThinSubmodule{
				Kind:    thingraph.BumpAddedOrModified,
				Content: thingraph.ThinSubmoduleContent{Kind: thingraph.SubmoduleUnresolved, CommitID: ps.SubCommitID},
			})
			continue
		}
		bumps.Put(path, thingraph.ThinSubmodule{
			Kind: thingraph.BumpAddedOrModified,
			Content: thingraph.ThinSubmoduleContent{
				Kind:     thingraph.SubmoduleResolved,
				RepoName: reponame.New(ps.SubRepoName),
				CommitID: ps.SubCommitID,
			},
		})
	}
	return bumps
}

// PackMono flattens the mono graph into depth order, so every
// PackedMonoParent.MonoIdx points at an already-written entry.
func PackMono(graph *monograph.Graph) []PackedMonoCommit {
	ordered := make([]*monograph.MonoRepoCommit, 0, len(graph.Commits))
	for _, c := range graph.Commits {
		ordered = append(ordered, c)
	}
	sortMonoByDepth(ordered)

	idx := make(map[oid.OID]int, len(ordered))
	for i, c := range ordered {
		idx[c.CommitID] = i
	}

	out := make([]PackedMonoCommit, len(ordered))
	for i, c := range ordered {
		parents := make([]PackedMonoParent, len(c.Parents))
		for j, p := range c.Parents {
			if p.Kind == monograph.ParentOriginalSubmod {
				parents[j] = PackedMonoParent{IsOriginalSubmod: true, Path: p.Path.String(), CommitID: p.CommitID}
				continue
			}
			parents[j] = PackedMonoParent{MonoIdx: idx[p.Mono.CommitID]}
		}
		out[i] = PackedMonoCommit{
			CommitID:       c.CommitID,
			Parents:        parents,
			HasTopBump:     c.HasTopBump,
			TopBump:        c.TopBump,
			SubmoduleBumps: packMonoBumps(c.SubmoduleBumps),
			Depth:          c.Depth,
		}
	}
	return out
}

func packMonoBumps(bumps map[string]monograph.ExpandedOrRemoved) map[string]PackedExpandedOrRemoved {
	out := make(map[string]PackedExpandedOrRemoved, len(bumps))
	for path, b := range bumps {
		if b.Kind == monograph.BumpOutcomeRemoved {
			out[path] = PackedExpandedOrRemoved{Removed: true}
			continue
		}
		out[path] = PackedExpandedOrRemoved{
			Kind:         int(b.Submodule.Kind),
			RepoName:     b.Submodule.Content.RepoName.String(),
			OrigCommitID: b.Submodule.Content.OrigCommitID,
			KeptCommitID: b.Submodule.KeptCommitID,
		}
	}
	return out
}

func sortMonoByDepth(commits []*monograph.MonoRepoCommit) {
	for i := 1; i < len(commits); i++ {
		for j := i; j > 0 && lessMono(commits[j], commits[j-1]); j-- {
			commits[j], commits[j-1] = commits[j-1], commits[j]
		}
	}
}

func lessMono(a, b *monograph.MonoRepoCommit) bool {
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return oid.Compare(a.CommitID, b.CommitID) < 0
}

// UnpackMono rebuilds the mono graph from its packed, depth-ordered form.
func UnpackMono(packed []PackedMonoCommit) (*monograph.Graph, error) {
	graph := monograph.NewGraph()
	built := make([]*monograph.MonoRepoCommit, len(packed))
	for i, pc := range packed {
		parents := make([]monograph.MonoRepoParent, len(pc.Parents))
		for j, pp := range pc.Parents {
			if pp.IsOriginalSubmod {
				parents[j] = monograph.MonoRepoParent{
					Kind:     monograph.ParentOriginalSubmod,
					Path:     reponame.PathFromString(pp.Path),
					CommitID: pp.CommitID,
				}
				continue
			}
			if pp.MonoIdx < 0 || pp.MonoIdx >= i {
				return nil, fmt.Errorf("importcache: mono commit %d: parent index %d out of order", i, pp.MonoIdx)
			}
			parents[j] = monograph.MonoRepoParent{Kind: monograph.ParentMono, Mono: built[pp.MonoIdx]}
		}
		c := monograph.New(parents, unpackMonoBumps(pc.SubmoduleBumps))
		c.CommitID = pc.CommitID
		c.Depth = pc.Depth
		if pc.HasTopBump {
			c.SetTopBump(pc.TopBump)
		}
		built[i] = c
		graph.Record(c)
	}
	return graph, nil
}

func unpackMonoBumps(packed map[string]PackedExpandedOrRemoved) map[string]monograph.ExpandedOrRemoved {
	out := make(map[string]monograph.ExpandedOrRemoved, len(packed))
	for path, pb := range packed {
		if pb.Removed {
			out[path] = monograph.ExpandedOrRemoved{Kind: monograph.BumpOutcomeRemoved}
			continue
		}
		out[path] = monograph.ExpandedOrRemoved{
			Kind: monograph.BumpOutcomeExpanded,
			Submodule: monograph.ExpandedSubmodule{
				Kind: monograph.ExpandedKind(pb.Kind),
				Content: monograph.SubmoduleContent{
					RepoName:     reponame.New(pb.RepoName),
					OrigCommitID: pb.OrigCommitID,
				},
				KeptCommitID: pb.KeptCommitID,
			},
		}
	}
	return out
}
