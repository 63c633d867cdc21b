package main

import (
	"path/filepath"

	"github.com/meroton/git-toprepo/internal/config"
	"github.com/meroton/git-toprepo/internal/importcache"
	"github.com/meroton/git-toprepo/internal/monograph"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
	"github.com/meroton/git-toprepo/internal/thingraph"
)

// cachePath returns "<git-dir>/toprepo/import-cache.bincode" (spec.md
// §6's persisted-state contract).
func cachePath(gitDir string) string {
	return filepath.Join(gitDir, "toprepo", "import-cache.bincode")
}

// loadCache reads the on-disk cache, returning empty graphs (not an
// error) when the cache is absent or stale for cfg's checksum — every
// command that can run without one falls back to a full reload/expand in
// that case, per spec.md §4.7.
func loadCache(gitDir string, cfg *config.Config) (map[reponame.RepoName]*thingraph.RepoData, *monograph.Graph, bool, error) {
	rec, err := importcache.Read(cachePath(gitDir), cfg.Checksum())
	if err != nil {
		if _, ok := err.(*importcache.ErrDiscard); ok {
			return map[reponame.RepoName]*thingraph.RepoData{}, monograph.NewGraph(), false, nil
		}
		return nil, nil, false, err
	}
	repos, err := importcache.UnpackThin(rec.Repos)
	if err != nil {
		return nil, nil, false, err
	}
	graph, err := importcache.UnpackMono(rec.MonoCommits)
	if err != nil {
		return nil, nil, false, err
	}
	return repos, graph, true, nil
}

// saveCache atomically writes the full cache state back to disk.
func saveCache(gitDir string, cfg *config.Config, repos map[reponame.RepoName]*thingraph.RepoData, graph *monograph.Graph) error {
	rec := importcache.NewRecord(cfg.Checksum())
	rec.Repos = importcache.PackThin(repos)
	rec.MonoCommits = importcache.PackMono(graph)

	idxByCommit := make(map[oid.OID]int, len(rec.MonoCommits))
	for i, pc := range rec.MonoCommits {
		idxByCommit[pc.CommitID] = i
	}
	for topID, mono := range graph.TopToMono {
		rec.TopToMono[topID] = idxByCommit[mono.CommitID]
	}
	return importcache.Write(cachePath(gitDir), rec)
}
