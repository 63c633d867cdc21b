package main

import (
	"github.com/meroton/git-toprepo/internal/expander"
	"github.com/meroton/git-toprepo/internal/loader"
	"github.com/meroton/git-toprepo/internal/monograph"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
	"github.com/meroton/git-toprepo/pkg/progress"
)

// progressGroupFor starts a progress group that only renders when the
// caller opted in with --progress; every command that can run
// unattended (CI, scripted fetches) gets the quiet, zero-overhead Group
// by default.
func progressGroupFor(g *Globals) *progress.Group {
	return progress.NewGroup(!g.Progress)
}

// progressFetcher decorates a loader.Fetcher with a bar tick per repo
// fetched, so `fetch --progress` shows which of the configured
// repositories git-toprepo is currently pulling from.
type progressFetcher struct {
	loader.Fetcher
	bar *progress.Bar
}

func (f progressFetcher) Fetch(repoName reponame.RepoName, wanted []oid.OID) (map[oid.OID]bool, error) {
	stillMissing, err := f.Fetcher.Fetch(repoName, wanted)
	f.bar.Increment(1)
	return stillMissing, err
}

// withFetchProgress wraps every fetcher in fetchers with a shared bar
// sized to the repo count.
func withFetchProgress(fetchers map[reponame.RepoName]loader.Fetcher, bar *progress.Bar) map[reponame.RepoName]loader.Fetcher {
	out := make(map[reponame.RepoName]loader.Fetcher, len(fetchers))
	for name, f := range fetchers {
		out[name] = progressFetcher{Fetcher: f, bar: bar}
	}
	return out
}

// progressSink decorates an expander.Sink with a bar tick per mono
// commit emitted, so `recombine --progress`/`fetch --progress` show
// expansion advancing even though the final commit count isn't known
// until fast-import finishes reporting marks.
type progressSink struct {
	expander.Sink
	bar *progress.Bar
}

func (s progressSink) EmitCommit(c *monograph.MonoRepoCommit, updates []expander.TreeUpdate, message string) error {
	err := s.Sink.EmitCommit(c, updates, message)
	s.bar.Increment(1)
	return err
}
