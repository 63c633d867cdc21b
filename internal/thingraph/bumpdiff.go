package thingraph

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"

	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/oid"
)

// modeAllowsGitmodules is the set of blob modes .gitmodules may carry
// without triggering a warning (spec.md §4.4 step 4: "only modes 100644
// and 100755 accepted").
func modeAllowsGitmodules(mode string) bool {
	return mode == "100644" || mode == "100755"
}

// BumpDiffResult is the outcome of computing a commit's submodule-bump
// diff against its first parent.
type BumpDiffResult struct {
	Bumps         *linkedhashmap.Map // Path -> ThinSubmodule, insertion order preserved
	DotGitmodules oid.OID
	HasGitmodules bool
	Warnings      []string
}

// ComputeBumpDiff implements spec.md §4.4 step 4: inspect a commit's raw
// file-change list (from fastexport) and the first parent's submodule
// state, and produce the ordered bump diff plus any `.gitmodules` update.
func ComputeBumpDiff(changes []fastexport.FileChange, firstParent *ThinCommit) BumpDiffResult {
	result := BumpDiffResult{Bumps: linkedhashmap.New()}
	if firstParent != nil {
		result.DotGitmodules = firstParent.DotGitmodules
		result.HasGitmodules = firstParent.HasGitmodules
	}

	for _, ch := range changes {
		path := string(ch.Path)

		if path == ".gitmodules" {
			switch ch.Kind {
			case fastexport.ChangeDelete:
				result.DotGitmodules = oid.Zero
				result.HasGitmodules = false
			case fastexport.ChangeModify:
				if !modeAllowsGitmodules(ch.Mode) {
					result.Warnings = append(result.Warnings, "commit updates .gitmodules with unsupported mode "+ch.Mode+", treating as absent")
					result.DotGitmodules = oid.Zero
					result.HasGitmodules = false
				} else {
					result.DotGitmodules = ch.OID
					result.HasGitmodules = true
				}
			}
			continue
		}

		wasSubmodule := firstParent != nil && firstParent.IsSubmodulePath(path)

		switch ch.Kind {
		case fastexport.ChangeDelete:
			if wasSubmodule {
				result.Bumps.Put(path, ThinSubmodule{Kind: BumpRemoved})
			}
		case fastexport.ChangeModify:
			if ch.IsGitlink() {
				if wasSubmodule && firstParentSubmoduleCommit(firstParent, path) == ch.OID {
					continue // identical bump, elided per spec.md §4.4
				}
				result.Bumps.Put(path, ThinSubmodule{
					Kind: BumpAddedOrModified,
					Content: ThinSubmoduleContent{
						Kind:     SubmoduleUnresolved,
						CommitID: ch.OID,
					},
				})
			} else if wasSubmodule {
				// Was a submodule, now a regular file/mode: Removed.
				result.Bumps.Put(path, ThinSubmodule{Kind: BumpRemoved})
			}
		}
	}
	return result
}

// firstParentSubmoduleCommit is a defensive lookup used only to decide
// elision when the path's own bump isn't recorded directly on the first
// parent (e.g. inherited from an ancestor further back); submodule_paths
// guarantees the path is live, but ComputeBumpDiff only has access to the
// first parent's own bump map, so a miss here safely falls through to
// recording a fresh bump rather than silently losing a change.
func firstParentSubmoduleCommit(firstParent *ThinCommit, path string) oid.OID {
	if firstParent == nil {
		return oid.Zero
	}
	if b, ok := firstParent.Bump(path); ok && b.Kind == BumpAddedOrModified {
		return b.Content.CommitID
	}
	return oid.Zero
}
