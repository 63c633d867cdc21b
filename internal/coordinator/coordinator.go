// Package coordinator implements spec.md §5: a single struct owning every
// mutable graph — the per-repo thin-commit graphs, the mono graph, the
// bump cache — and exposing the four entry points (Clone, Fetch,
// Recombine, Push) a driver (normally cmd/toprepo) calls into. Loading is
// fanned out across repos in parallel, bounded by a worker count, but
// every mutation to shared state happens back on the calling goroutine so
// the graphs themselves are never touched concurrently.
package coordinator

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/meroton/git-toprepo/internal/config"
	"github.com/meroton/git-toprepo/internal/expander"
	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/gitmodules"
	"github.com/meroton/git-toprepo/internal/loader"
	"github.com/meroton/git-toprepo/internal/monograph"
	"github.com/meroton/git-toprepo/internal/obslog"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
	"github.com/meroton/git-toprepo/internal/splitter"
	"github.com/meroton/git-toprepo/internal/thingraph"
)

// RepoEnv is everything a Loader needs for one repository, supplied by
// the driver (normally backed by real git subprocesses against a local
// clone's object store, see cmd/toprepo).
type RepoEnv struct {
	Refs  loader.RefEnumerator
	Blobs loader.BlobReader
	Trees loader.TreeResolver
	Open  loader.ExportOpener
}

// Coordinator owns every repository's thin-commit graph, the mono graph,
// and the expander's bump cache, and serializes all mutation of that
// state onto whichever goroutine calls its methods.
type Coordinator struct {
	Config *config.Config
	Log    *obslog.Logger

	repos   map[reponame.RepoName]*thingraph.RepoData
	envs    map[reponame.RepoName]RepoEnv
	modules *gitmodules.Cache
	exp     *expander.Expander

	// Concurrency bounds how many repos Fetch loads in parallel.
	Concurrency int
}

// New constructs a Coordinator over cfg, with one RepoEnv per enabled
// repo plus the top repository (reponame.Top is always present).
func New(cfg *config.Config, log *obslog.Logger, envs map[reponame.RepoName]RepoEnv) *Coordinator {
	repos := make(map[reponame.RepoName]*thingraph.RepoData, len(envs))
	for name := range envs {
		url := ""
		if name.IsTop() {
			url = "<top>"
		} else if rc, ok := cfg.Repos[name]; ok && len(rc.URLs) > 0 {
			url = rc.URLs[0]
		}
		repos[name] = thingraph.NewRepoData(url)
	}
	c := &Coordinator{
		Config:      cfg,
		Log:         log,
		repos:       repos,
		envs:        envs,
		modules:     gitmodules.NewCache(),
		Concurrency: 4,
	}
	c.exp = expander.New(expander.SubRepos{Config: cfg, Repos: repos})
	return c
}

// NewFromCache constructs a Coordinator the same way New does, except
// the per-repo thin-commit graphs and the mono graph resume from a prior
// cache restore instead of starting empty (spec.md §4.7). Any env
// present without a matching cached repo starts empty as usual.
func NewFromCache(cfg *config.Config, log *obslog.Logger, envs map[reponame.RepoName]RepoEnv, cachedRepos map[reponame.RepoName]*thingraph.RepoData, graph *monograph.Graph) *Coordinator {
	repos := make(map[reponame.RepoName]*thingraph.RepoData, len(envs))
	for name := range envs {
		if r, ok := cachedRepos[name]; ok {
			repos[name] = r
			continue
		}
		url := ""
		if name.IsTop() {
			url = "<top>"
		} else if rc, ok := cfg.Repos[name]; ok && len(rc.URLs) > 0 {
			url = rc.URLs[0]
		}
		repos[name] = thingraph.NewRepoData(url)
	}
	c := &Coordinator{
		Config:      cfg,
		Log:         log,
		repos:       repos,
		envs:        envs,
		modules:     gitmodules.NewCache(),
		Concurrency: 4,
	}
	c.exp = expander.NewWithGraph(expander.SubRepos{Config: cfg, Repos: repos}, graph)
	return c
}

// Graph exposes the mono graph built so far, read-only from the caller's
// perspective once Recombine has returned.
func (c *Coordinator) Graph() *monograph.Graph { return c.exp.Graph() }

// Repo returns the live thin-commit graph for name, if loaded.
func (c *Coordinator) Repo(name reponame.RepoName) (*thingraph.RepoData, bool) {
	r, ok := c.repos[name]
	return r, ok
}

// Repos returns every repository's live thin-commit graph, keyed by
// name, for persistence by internal/importcache.
func (c *Coordinator) Repos() map[reponame.RepoName]*thingraph.RepoData {
	return c.repos
}

// Fetch implements spec.md §4.4 step 6: loads every repo's new commits in
// parallel, then repeatedly reconciles cross-repo "needed but missing"
// submodule commits by asking each named repo's Fetcher for them, until a
// round discovers nothing new or every Fetcher reports nothing more is
// obtainable. It returns the total number of newly loaded thin commits
// across every repo and round.
func (c *Coordinator) Fetch(ctx context.Context, fetchers map[reponame.RepoName]loader.Fetcher) (int, error) {
	total := 0
	pending := map[reponame.RepoName]map[oid.OID]struct{}{}
	for {
		results, err := c.loadAll(ctx, loadAllFor(c.repos))
		if err != nil {
			return total, err
		}
		for _, r := range results {
			total += r.LoadedCommits
			for repo, ids := range r.Needed {
				merge(pending, repo, ids)
			}
		}
		if len(pending) == 0 {
			return total, nil
		}

		progressed := false
		for name, wanted := range pending {
			if len(wanted) == 0 {
				continue
			}
			f, ok := fetchers[name]
			if !ok {
				continue
			}
			ids := make([]oid.OID, 0, len(wanted))
			for id := range wanted {
				ids = append(ids, id)
			}
			oid.Sort(ids)
			stillMissing, err := f.Fetch(name, ids)
			if err != nil {
				return total, c.Log.Context("fetching needed commits for %s", name).Errorf("%v", err)
			}
			still := make(map[oid.OID]struct{}, len(stillMissing))
			for id, missing := range stillMissing {
				if missing {
					still[id] = struct{}{}
				}
			}
			if len(still) < len(wanted) {
				progressed = true
			}
			pending[name] = still
		}
		if !progressed {
			for name, wanted := range pending {
				for id := range wanted {
					c.Log.Warn(name.String()+"\x00missing\x00"+id.String(), "commit %s needed by a submodule bump in %s could not be fetched", id, name)
				}
			}
			return total, nil
		}
	}
}

func loadAllFor(repos map[reponame.RepoName]*thingraph.RepoData) []reponame.RepoName {
	names := make([]reponame.RepoName, 0, len(repos))
	for n := range repos {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return reponame.Less(names[i], names[j]) })
	return names
}

// loadAll runs one Loader per name in names, up to c.Concurrency at a
// time, and returns each one's Result keyed by name. Every Loader only
// mutates its own RepoData and each goroutine writes only its own slot of
// a per-name slice; the result map is built on the calling goroutine
// after every loader has finished.
func (c *Coordinator) loadAll(ctx context.Context, names []reponame.RepoName) (map[reponame.RepoName]*loader.Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Concurrency)

	slots := make([]*loader.Result, len(names))
	for i, name := range names {
		i, name := i, name
		env, ok := c.envs[name]
		if !ok {
			continue
		}
		l := &loader.Loader{
			RepoName: name,
			Repo:     c.repos[name],
			Config:   c.Config,
			Modules:  c.modules,
			Blobs:    env.Blobs,
			Trees:    env.Trees,
			Refs:     env.Refs,
			Open:     env.Open,
			Log:      c.Log,
		}
		g.Go(func() error {
			r, err := l.Load(gctx)
			if err != nil {
				return err
			}
			slots[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	results := make(map[reponame.RepoName]*loader.Result, len(names))
	for i, r := range slots {
		if r != nil {
			results[names[i]] = r
		}
	}
	return results, nil
}

func merge(pending map[reponame.RepoName]map[oid.OID]struct{}, repo reponame.RepoName, ids map[oid.OID]struct{}) {
	set, ok := pending[repo]
	if !ok {
		set = make(map[oid.OID]struct{})
		pending[repo] = set
	}
	for id := range ids {
		set[id] = struct{}{}
	}
}

// Recombine implements spec.md §4.5's driving loop: every top commit not
// yet present in the mono graph, oldest first, is expanded via
// internal/expander and recorded. sink receives each synthesized mono
// commit in expansion order, normally backed by a fast-import writer.
func (c *Coordinator) Recombine(sink expander.Sink) (int, error) {
	top, ok := c.repos[reponame.Top]
	if !ok {
		return 0, fmt.Errorf("coordinator: no top repository configured")
	}
	pending := top.SortedByDepth()

	n := 0
	for _, t := range pending {
		if _, done := c.exp.Graph().TopToMono[t.CommitID]; done {
			continue
		}
		if _, err := c.exp.ExpandTop(t, sink); err != nil {
			return n, fmt.Errorf("coordinator: expanding %s: %w", t.CommitID, err)
		}
		n++
	}
	return n, nil
}

// Push implements spec.md §4.6: splits every commit entry exported for
// pushRange through a Splitter, then deduplicates and drives the
// resulting push targets through pusher with bounded parallelism.
func (c *Coordinator) Push(ctx context.Context, commits []*fastexport.Commit, topPushURL string, writer splitter.ImportWriter, pusher splitter.Pusher, remoteRef string, concurrency int) (int, error) {
	s := splitter.New(c.exp.Graph(), c.Config, topPushURL, writer)
	for _, commit := range commits {
		if err := s.ProcessCommit(commit); err != nil {
			return 0, fmt.Errorf("coordinator: splitting %s: %w", commit.OriginalOID, err)
		}
	}
	targets, err := s.Finish()
	if err != nil {
		return 0, fmt.Errorf("coordinator: resolving push targets: %w", err)
	}
	return splitter.PushAll(ctx, targets, remoteRef, pusher, concurrency)
}

// Clone is Fetch against a coordinator with no prior state: every repo's
// graph starts empty, so the first Fetch call necessarily loads
// everything reachable from configured refs.
func (c *Coordinator) Clone(ctx context.Context, fetchers map[reponame.RepoName]loader.Fetcher) (int, error) {
	return c.Fetch(ctx, fetchers)
}
