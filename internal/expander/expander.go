// Package expander implements spec.md §4.5: given the top repository's
// thin-commit graph and every enabled submodule's thin-commit graph, it
// produces a single rewritten "mono" commit graph whose trees inline
// every recursively enabled submodule, emitted via git fast-import.
package expander

import (
	"fmt"
	stdpath "path"
	"sort"

	"github.com/meroton/git-toprepo/internal/config"
	"github.com/meroton/git-toprepo/internal/expander/bumpcache"
	"github.com/meroton/git-toprepo/internal/message"
	"github.com/meroton/git-toprepo/internal/monograph"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
	"github.com/meroton/git-toprepo/internal/thingraph"
)

// SubRepos is everything the expander needs to resolve a submodule bump:
// its thin-commit graph and whether it is enabled in config.
type SubRepos struct {
	Config *config.Config
	Repos  map[reponame.RepoName]*thingraph.RepoData
}

func (s SubRepos) repoFor(name reponame.RepoName) (*thingraph.RepoData, bool) {
	r, ok := s.Repos[name]
	return r, ok
}

// Sink is where the expander deposits finished mono commits — normally a
// fast-import writer, abstracted here so the algorithm can be unit
// tested without a subprocess.
type Sink interface {
	// EmitCommit writes one mono commit c with the given tree updates and
	// message, and reports whether writing it failed.
	EmitCommit(c *monograph.MonoRepoCommit, treeUpdates []TreeUpdate, message string) error
}

// TreeUpdate is one `M 040000 <tree_id> <abs_path>` file change the
// expander attaches to an emitted mono commit.
type TreeUpdate struct {
	Path   string
	TreeID oid.OID
}

// Expander holds the shared state spec.md §5 says is coordinator-owned:
// the bump cache and the mono graph being built. Submodule path
// resolution (`.gitmodules` parsing) happens upstream in internal/loader,
// which hands the expander already-resolved ThinSubmoduleContent; the
// expander itself never reads blobs.
type Expander struct {
	subs      SubRepos
	cache     *bumpcache.Cache
	graph     *monograph.Graph
	injecting map[oid.OID]monograph.MonoRepoParent // memoizes injection by sub-commit identity, per §4.5.1
}

// New constructs an Expander over subs, the already-loaded thin graphs
// for every configured submodule repository.
func New(subs SubRepos) *Expander {
	return NewWithGraph(subs, monograph.NewGraph())
}

// NewWithGraph constructs an Expander that resumes expansion onto an
// already-populated mono graph, the shape a cache restore hands back
// (spec.md §4.7). The bump cache itself is not persisted, so it starts
// empty and repopulates lazily as ExpandTop revisits each path.
func NewWithGraph(subs SubRepos, graph *monograph.Graph) *Expander {
	return &Expander{
		subs:      subs,
		cache:     bumpcache.New(),
		graph:     graph,
		injecting: make(map[oid.OID]monograph.MonoRepoParent),
	}
}

// Graph returns the mono graph built so far.
func (e *Expander) Graph() *monograph.Graph { return e.graph }

// ExpandTop expands one top commit T, per spec.md §4.5 steps 1-5.
func (e *Expander) ExpandTop(t *thingraph.ThinCommit, sink Sink) (*monograph.MonoRepoCommit, error) {
	monoParents, err := e.translateTopParents(t)
	if err != nil {
		return nil, err
	}

	submodUpdates := make(map[string]monograph.ExpandedOrRemoved)
	var treeUpdates []TreeUpdate
	var extraParents []monograph.MonoRepoParent

	it := t.SubmoduleBumps.Iterator()
	paths := make([]string, 0)
	for it.Next() {
		paths = append(paths, it.Key().(string))
	}
	sort.Strings(paths) // deterministic processing order; final tree_updates are re-sorted outer-before-inner below

	for _, path := range paths {
		bumpVal, _ := t.SubmoduleBumps.Get(path)
		bump := bumpVal.(thingraph.ThinSubmodule)

		if bump.Kind == thingraph.BumpRemoved {
			submodUpdates[path] = monograph.ExpandedOrRemoved{Kind: monograph.BumpOutcomeRemoved}
			continue
		}

		if err := e.expandSubmoduleTree(path, bump.Content, monoParents, sink, submodUpdates, &treeUpdates, &extraParents); err != nil {
			return nil, err
		}
	}

	sortTreeUpdatesOuterFirst(treeUpdates)

	mono := monograph.New(append(monoParents, extraParents...), submodUpdates)
	mono.SetTopBump(t.CommitID)

	msg := assembleTopMessage(t, submodUpdates)
	if err := sink.EmitCommit(mono, treeUpdates, msg); err != nil {
		return nil, err
	}
	e.graph.Record(mono)

	// Populate the bump cache once per top-level mono commit: injected
	// and reset interstitial commits never carry a top_bump, so they
	// never re-enter top_to_mono_map and can never surface again as a
	// future mono parent. Only this commit can.
	for path, outcome := range submodUpdates {
		if outcome.Kind != monograph.BumpOutcomeExpanded {
			continue
		}
		e.cache.Put(mono, path, outcome, []*monograph.MonoRepoCommit{mono})
	}
	return mono, nil
}

// expandSubmoduleTree expands one submodule bump at path and, if it
// resolved to a live sub commit, recurses into that commit's own
// currently-mounted submodules so every recursively enabled submodule
// gets inlined at its composed abs_path (spec.md §4.5 step 2, §2
// component 6). The bump cache and injection machinery are keyed by
// arbitrary path strings, so nested paths are expanded with the exact
// same expandBump call nested paths use at the top level.
func (e *Expander) expandSubmoduleTree(
	path string,
	content thingraph.ThinSubmoduleContent,
	monoParents []monograph.MonoRepoParent,
	sink Sink,
	updates map[string]monograph.ExpandedOrRemoved,
	treeUpdates *[]TreeUpdate,
	extraParents *[]monograph.MonoRepoParent,
) error {
	outcome, treeID, extra, err := e.expandBump(path, content, monoParents, sink)
	if err != nil {
		return err
	}
	updates[path] = monograph.ExpandedOrRemoved{Kind: monograph.BumpOutcomeExpanded, Submodule: outcome}
	if outcome.Kind == monograph.ExpandedOK || outcome.Kind == monograph.ExpandedRegressed {
		*treeUpdates = append(*treeUpdates, TreeUpdate{Path: path, TreeID: treeID})
	}
	if extra != nil {
		*extraParents = append(*extraParents, *extra)
	}
	if outcome.Kind != monograph.ExpandedOK && outcome.Kind != monograph.ExpandedRegressed {
		return nil
	}

	repo, ok := e.subs.repoFor(content.RepoName)
	if !ok {
		return nil
	}
	subCommit, ok := repo.Get(content.CommitID)
	if !ok {
		return nil
	}

	childPaths := subCommit.SubmodulePaths()
	sort.Strings(childPaths)
	for _, childPath := range childPaths {
		childBump, ok := resolveSubmoduleAt(subCommit, childPath)
		if !ok || childBump.Kind == thingraph.BumpRemoved {
			continue
		}
		absPath := stdpath.Join(path, childPath)
		if err := e.expandSubmoduleTree(absPath, childBump.Content, monoParents, sink, updates, treeUpdates, extraParents); err != nil {
			return err
		}
	}
	return nil
}

// resolveSubmoduleAt finds the bump most recently recorded at path
// along c's own first-parent chain, the same first-parent-only
// inheritance thingraph.New uses when it accumulates a commit's live
// submodule paths (ThinCommit.SubmoduleBumps only records the diff at
// the exact commit it was set on, not the accumulated state).
func resolveSubmoduleAt(c *thingraph.ThinCommit, path string) (thingraph.ThinSubmodule, bool) {
	for cur := c; cur != nil; cur = cur.FirstParent() {
		if b, ok := cur.Bump(path); ok {
			return b, true
		}
	}
	return thingraph.ThinSubmodule{}, false
}

// translateTopParents implements spec.md §4.5 step 1.
func (e *Expander) translateTopParents(t *thingraph.ThinCommit) ([]monograph.MonoRepoParent, error) {
	if len(t.Parents) == 0 {
		return nil, nil
	}
	parents := make([]monograph.MonoRepoParent, 0, len(t.Parents))
	for _, p := range t.Parents {
		mono, ok := e.graph.TopToMono[p.CommitID]
		if !ok {
			return nil, fmt.Errorf("expander: top parent %s not yet expanded (out-of-order walk)", p.CommitID)
		}
		parents = append(parents, monograph.MonoRepoParent{Kind: monograph.ParentMono, Mono: mono})
	}
	return parents, nil
}

// expandBump implements spec.md §4.5 step 3 for one direct submodule
// bump at path, returning its classification, the tree id to write at
// that path (if any), and an extra mono parent edge to attach to the
// commit being expanded when this bump required a regression reset or
// an injection (nil when the exact sub commit was already reachable
// through an existing mono parent and no new edge is needed).
func (e *Expander) expandBump(path string, content thingraph.ThinSubmoduleContent, monoParents []monograph.MonoRepoParent, sink Sink) (monograph.ExpandedSubmodule, oid.OID, *monograph.MonoRepoParent, error) {
	if content.Kind == thingraph.SubmoduleUnresolved {
		return monograph.ExpandedSubmodule{Kind: monograph.ExpandedUnknownSubmodule, KeptCommitID: content.CommitID}, oid.Zero, nil, nil
	}
	if !e.subs.Config.Enabled(content.RepoName) {
		return monograph.ExpandedSubmodule{Kind: monograph.ExpandedKeptAsSubmodule, KeptCommitID: content.CommitID}, oid.Zero, nil, nil
	}
	repo, ok := e.subs.repoFor(content.RepoName)
	if !ok {
		return monograph.ExpandedSubmodule{Kind: monograph.ExpandedKeptAsSubmodule, KeptCommitID: content.CommitID}, oid.Zero, nil, nil
	}
	subCommit, ok := repo.Get(content.CommitID)
	if !ok {
		return monograph.ExpandedSubmodule{
			Kind:    monograph.ExpandedCommitMissing,
			Content: monograph.SubmoduleContent{RepoName: content.RepoName, OrigCommitID: content.CommitID},
		}, oid.Zero, nil, nil
	}

	for _, mp := range monoParents {
		if mp.Kind != monograph.ParentMono || mp.Mono == nil {
			continue
		}
		if state, ok := e.cache.Get(mp.Mono, path); ok && state.State.Kind == monograph.BumpOutcomeExpanded &&
			state.State.Submodule.Kind == monograph.ExpandedOK &&
			state.State.Submodule.Content.OrigCommitID == content.CommitID {
			return state.State.Submodule, subCommit.TreeID, nil, nil
		}
		if cur, ok := currentSubCommit(mp.Mono, path); ok && cur == content.CommitID {
			return monograph.ExpandedSubmodule{
				Kind:    monograph.ExpandedOK,
				Content: monograph.SubmoduleContent{RepoName: content.RepoName, OrigCommitID: content.CommitID},
			}, subCommit.TreeID, nil, nil
		}
	}

	conflicts := e.collectConflicts(monoParents, path, repo, subCommit)
	if len(conflicts) > 0 {
		outcome, resetMono, err := e.synthesizeReset(path, content.RepoName, subCommit, conflicts, monoParents, sink)
		if err != nil {
			return monograph.ExpandedSubmodule{}, oid.Zero, nil, err
		}
		extra := monograph.MonoRepoParent{Kind: monograph.ParentMono, Mono: resetMono}
		return outcome, subCommit.TreeID, &extra, nil
	}

	extra, err := e.inject(path, content.RepoName, subCommit, monoParents, sink)
	if err != nil {
		return monograph.ExpandedSubmodule{}, oid.Zero, nil, err
	}

	outcome := monograph.ExpandedSubmodule{
		Kind:    monograph.ExpandedOK,
		Content: monograph.SubmoduleContent{RepoName: content.RepoName, OrigCommitID: content.CommitID},
	}
	return outcome, subCommit.TreeID, &extra, nil
}

// findLastBumpNode walks mono's canonical super-parent chain to find the
// nearest ancestor (mono itself included) that recorded a bump at path,
// returning that ancestor and the sub-repo commit id it resolved to (ok
// is false if path was never tracked along this chain, or if the nearest
// recorded outcome there is a removal or anything other than ExpandedOK).
func findLastBumpNode(mono *monograph.MonoRepoCommit, path string) (*monograph.MonoRepoCommit, oid.OID, bool) {
	for cur := mono; cur != nil; cur = cur.CanonicalSuperParent() {
		outcome, ok := cur.SubmoduleBumps[path]
		if !ok {
			continue
		}
		if outcome.Kind == monograph.BumpOutcomeExpanded && outcome.Submodule.Kind == monograph.ExpandedOK {
			return cur, outcome.Submodule.Content.OrigCommitID, true
		}
		return nil, oid.Zero, false
	}
	return nil, oid.Zero, false
}

// currentSubCommit is findLastBumpNode without the node, for callers
// that only need the resolved sub-repo commit id.
func currentSubCommit(mono *monograph.MonoRepoCommit, path string) (oid.OID, bool) {
	_, id, ok := findLastBumpNode(mono, path)
	return id, ok
}

// isAncestor reports whether ancestor is ancestor-or-self of descendant
// within a single sub-repo's thin-commit graph, via a depth-bounded
// parent walk (depth only increases, so this always terminates).
func isAncestor(ancestor, descendant *thingraph.ThinCommit) bool {
	if ancestor.CommitID == descendant.CommitID {
		return true
	}
	if ancestor.Depth > descendant.Depth {
		return false
	}
	visited := make(map[oid.OID]struct{})
	queue := []*thingraph.ThinCommit{descendant}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if _, seen := visited[c.CommitID]; seen {
			continue
		}
		visited[c.CommitID] = struct{}{}
		if c.CommitID == ancestor.CommitID {
			return true
		}
		if c.Depth <= ancestor.Depth {
			continue
		}
		queue = append(queue, c.Parents...)
	}
	return false
}

// collectConflicts implements spec.md §4.5.2's regression trigger: it
// gathers, across every direct mono parent's independently-tracked
// history at path, every distinct previously-recorded sub-repo commit
// that is NOT an ancestor of the newly wanted commit. A non-empty result
// means the bump would move path backward (or sideways) relative to at
// least one line of history, which spec.md calls a regression.
func (e *Expander) collectConflicts(monoParents []monograph.MonoRepoParent, path string, repo *thingraph.RepoData, wanted *thingraph.ThinCommit) []oid.OID {
	seen := make(map[oid.OID]struct{})
	var conflicts []oid.OID
	for _, mp := range monoParents {
		if mp.Kind != monograph.ParentMono || mp.Mono == nil {
			continue
		}
		prevID, ok := currentSubCommit(mp.Mono, path)
		if !ok || prevID == wanted.CommitID {
			continue
		}
		if _, dup := seen[prevID]; dup {
			continue
		}
		prev, ok := repo.Get(prevID)
		if !ok {
			continue // commit no longer loaded; nothing to compare ancestry against
		}
		if !isAncestor(prev, wanted) {
			seen[prevID] = struct{}{}
			conflicts = append(conflicts, prevID)
		}
	}
	oid.Sort(conflicts)
	return conflicts
}

// synthesizeReset implements spec.md §4.5.2: when a bump regresses path
// relative to one or more mono parents' history there, an interstitial
// mono commit is emitted first, resetting path to the wanted sub commit
// and recording every conflicting prior commit id in its message, so the
// discontinuity is visible in history rather than silently overwritten.
func (e *Expander) synthesizeReset(path string, repoName reponame.RepoName, wanted *thingraph.ThinCommit, conflicts []oid.OID, monoParents []monograph.MonoRepoParent, sink Sink) (monograph.ExpandedSubmodule, *monograph.MonoRepoCommit, error) {
	bumps := map[string]monograph.ExpandedOrRemoved{
		path: {
			Kind: monograph.BumpOutcomeExpanded,
			Submodule: monograph.ExpandedSubmodule{
				Kind:    monograph.ExpandedOK,
				Content: monograph.SubmoduleContent{RepoName: repoName, OrigCommitID: wanted.CommitID},
			},
		},
	}
	mono := monograph.New(monoParents, bumps)

	if err := sink.EmitCommit(mono, []TreeUpdate{{Path: path, TreeID: wanted.TreeID}}, resetMessage(path, wanted, conflicts)); err != nil {
		return monograph.ExpandedSubmodule{}, nil, err
	}
	e.graph.Record(mono)

	outcome := monograph.ExpandedSubmodule{
		Kind:    monograph.ExpandedRegressed,
		Content: monograph.SubmoduleContent{RepoName: repoName, OrigCommitID: wanted.CommitID},
	}
	return outcome, mono, nil
}

// resetMessage renders the synthesized reset commit's message, per
// spec.md §4.5.2: a short heading naming path and the target commit,
// followed by the conflicting commit ids it overrides.
func resetMessage(path string, wanted *thingraph.ThinCommit, conflicts []oid.OID) string {
	msg := fmt.Sprintf("Resetting submodule %s to %s\n\n", path, wanted.CommitID.Short(12))
	for _, c := range conflicts {
		msg += fmt.Sprintf("Conflicts with %s\n", c)
	}
	return msg
}

// inject implements spec.md §4.5.1: produce the mono parent edge that
// carries wantedSub's history at path into the commit being expanded.
// The caller has already ruled out a regression (collectConflicts), so
// any ancestor found here is known to be forward progress relative to
// whatever is currently recorded at path.
//
// The depth-first search over mono ancestors is the same first-parent
// bump-chain walk collectConflicts/currentSubCommit use
// (findLastBumpNode). When none of monoParents' chains has ever
// recorded path, there is nothing in the mono graph to bridge wantedSub
// to: the caller's own commit is already about to write wantedSub's
// tree at path, so a bare OriginalSubmod edge fully captures its
// external lineage without creating a redundant node — this is the
// Linear expansion case, where a submodule bumped for the first time
// (sub 1→2 under top A(no sub)→B(sub=2)) yields only an
// OriginalSubmod{path, commit_id=2} parent on B', with no synthetic
// node for the skipped commit 1.
//
// When a base ancestor is found, exactly one bridging mono commit is
// emitted chaining base to wantedSub — a single intermediate node
// rather than one per individually-skipped submodule commit along
// wantedSub's own ancestry, since nothing else in the mono graph needs
// to address those intermediate commits by themselves.
func (e *Expander) inject(path string, repoName reponame.RepoName, wantedSub *thingraph.ThinCommit, monoParents []monograph.MonoRepoParent, sink Sink) (monograph.MonoRepoParent, error) {
	if existing, ok := e.injecting[wantedSub.CommitID]; ok {
		return existing, nil
	}

	var base *monograph.MonoRepoCommit
	for _, mp := range monoParents {
		if mp.Kind != monograph.ParentMono || mp.Mono == nil {
			continue
		}
		if node, _, ok := findLastBumpNode(mp.Mono, path); ok {
			base = node
			break
		}
	}

	if base == nil {
		parent := monograph.MonoRepoParent{
			Kind:     monograph.ParentOriginalSubmod,
			Path:     reponame.PathFromString(path),
			CommitID: wantedSub.CommitID,
		}
		e.injecting[wantedSub.CommitID] = parent
		return parent, nil
	}

	bumps := map[string]monograph.ExpandedOrRemoved{
		path: {
			Kind: monograph.BumpOutcomeExpanded,
			Submodule: monograph.ExpandedSubmodule{
				Kind:    monograph.ExpandedOK,
				Content: monograph.SubmoduleContent{RepoName: repoName, OrigCommitID: wantedSub.CommitID},
			},
		},
	}
	mono := monograph.New([]monograph.MonoRepoParent{{Kind: monograph.ParentMono, Mono: base}}, bumps)
	if err := sink.EmitCommit(mono, []TreeUpdate{{Path: path, TreeID: wantedSub.TreeID}}, injectMessage(path, wantedSub)); err != nil {
		return monograph.MonoRepoParent{}, err
	}
	e.graph.Record(mono)

	parent := monograph.MonoRepoParent{Kind: monograph.ParentMono, Mono: mono}
	e.injecting[wantedSub.CommitID] = parent
	return parent, nil
}

// injectMessage renders an injected bridging commit's message.
func injectMessage(path string, wanted *thingraph.ThinCommit) string {
	return fmt.Sprintf("Injecting submodule %s at %s\n", path, wanted.CommitID.Short(12))
}

// sortTreeUpdatesOuterFirst sorts so outer paths precede inner paths
// (spec.md §4.5 step 4), i.e. shorter paths first, then lexicographic.
func sortTreeUpdatesOuterFirst(updates []TreeUpdate) {
	sort.Slice(updates, func(i, j int) bool {
		if len(updates[i].Path) != len(updates[j].Path) {
			return len(updates[i].Path) < len(updates[j].Path)
		}
		return updates[i].Path < updates[j].Path
	})
}

// assembleTopMessage builds the mono commit's message via
// internal/message, attaching a status per bump outcome.
func assembleTopMessage(t *thingraph.ThinCommit, updates map[string]monograph.ExpandedOrRemoved) string {
	origins := []message.Origin{
		{Path: "<top>", Status: message.Status{Kind: message.StatusCommit, CommitID: t.CommitID.String()}},
	}
	paths := make([]string, 0, len(updates))
	for p := range updates {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		origins = append(origins, message.Origin{Path: p, Status: statusFor(updates[p])})
	}
	return message.Assemble(origins)
}

func statusFor(u monograph.ExpandedOrRemoved) message.Status {
	if u.Kind == monograph.BumpOutcomeRemoved {
		return message.Status{Kind: message.StatusRemoved}
	}
	switch u.Submodule.Kind {
	case monograph.ExpandedOK:
		return message.Status{Kind: message.StatusCommit, CommitID: u.Submodule.Content.OrigCommitID.String()}
	case monograph.ExpandedKeptAsSubmodule:
		return message.Status{Kind: message.StatusSubmodule, CommitID: u.Submodule.KeptCommitID.String()}
	case monograph.ExpandedCommitMissing:
		return message.Status{Kind: message.StatusNotFound, CommitID: u.Submodule.Content.OrigCommitID.String()}
	case monograph.ExpandedUnknownSubmodule:
		return message.Status{Kind: message.StatusUnknownSubmodule, CommitID: u.Submodule.KeptCommitID.String()}
	case monograph.ExpandedRegressed:
		return message.Status{Kind: message.StatusRegressed, CommitID: u.Submodule.Content.OrigCommitID.String()}
	default:
		return message.Status{Kind: message.StatusCommit}
	}
}
