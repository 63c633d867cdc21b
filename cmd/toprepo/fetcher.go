package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/meroton/git-toprepo/internal/config"
	"github.com/meroton/git-toprepo/internal/gitcmd"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
)

// gitFetcher implements loader.Fetcher against a real `git fetch`
// subprocess, landing every ref into this repo's namespace the way
// internal/loader's RefEnumerator expects to find it (spec.md §4.4
// step 1, "refs/namespaces/<repo_name>/…").
type gitFetcher struct {
	ctx      context.Context
	repoPath string
	cfg      *config.Config
	// remote is the outer repository's configured remote to resolve the
	// top repository's URL from (fetch's own URL is never stored in
	// config.Config, which only tracks submodules).
	remote string
}

func newGitFetcher(ctx context.Context, repoPath string, cfg *config.Config, remote string) *gitFetcher {
	return &gitFetcher{ctx: ctx, repoPath: repoPath, cfg: cfg, remote: remote}
}

// Fetch runs one default-refspec fetch for name's url and reports which
// of wanted are still absent from the repository's object store
// afterward (spec.md §4.4 step 6).
func (f *gitFetcher) Fetch(name reponame.RepoName, wanted []oid.OID) (map[oid.OID]bool, error) {
	url, depth, prune, err := f.urlAndOptions(name)
	if err != nil {
		return toMissingSet(wanted), err
	}

	args := []string{"fetch", url, "+refs/heads/*:" + name.RefPrefix() + "heads/*", "+refs/tags/*:" + name.RefPrefix() + "tags/*"}
	if depth > 0 {
		args = append(args, "--depth="+strconv.Itoa(depth))
	}
	if prune {
		args = append(args, "--prune")
	}
	cmd := gitcmd.New(f.ctx, f.repoPath, args...)
	if err := cmd.Run(); err != nil {
		return toMissingSet(wanted), fmt.Errorf("fetcher: git fetch %s: %w", url, err)
	}

	env, err := newGitEnv(f.ctx, f.repoPath)
	if err != nil {
		return toMissingSet(wanted), err
	}
	defer env.Close()

	still := make(map[oid.OID]bool)
	for _, id := range wanted {
		if _, _, ok, err := env.catFile.Object(id.String()); err != nil || !ok {
			still[id] = true
		}
	}
	return still, nil
}

// urlAndOptions resolves name's fetch URL and options: the top
// repository's URL comes from the outer repo's own remote config, every
// submodule's from its [repo.<name>] block.
func (f *gitFetcher) urlAndOptions(name reponame.RepoName) (url string, depth int, prune bool, err error) {
	if name.IsTop() {
		out, err := gitcmd.New(f.ctx, f.repoPath, "remote", "get-url", f.remote).OneLine()
		if err != nil {
			return "", 0, false, fmt.Errorf("fetcher: resolving url for remote %s: %w", f.remote, err)
		}
		return out, 0, false, nil
	}
	rc, ok := f.cfg.Repos[name]
	if !ok || len(rc.URLs) == 0 {
		return "", 0, false, fmt.Errorf("fetcher: %s has no configured url", name)
	}
	url = rc.URLs[0]
	if rc.Fetch.URL != "" {
		url = rc.Fetch.URL
	}
	return url, rc.Fetch.Depth, rc.Fetch.Prune, nil
}

func toMissingSet(ids []oid.OID) map[oid.OID]bool {
	out := make(map[oid.OID]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
