// Package config decodes the TOML configuration file (spec.md §6) that
// the core consumes: per-submodule repository blocks naming their URLs,
// enabled state, known-missing commits, and fetch options. The core only
// ever sees the parsed Config and its Checksum — file I/O and TOML
// syntax are handled entirely here.
package config

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/zeebo/blake3"

	"github.com/meroton/git-toprepo/internal/reponame"
)

// FetchOptions is the `[repo.<name>.fetch]` block.
type FetchOptions struct {
	URL   string `toml:"url"`
	Depth int    `toml:"depth"`
	Prune bool   `toml:"prune"`
}

// RepoConfig is one `[repo.<name>]` block.
type RepoConfig struct {
	URLs           []string     `toml:"urls"`
	Enabled        bool         `toml:"enabled"`
	MissingCommits []string     `toml:"missing_commits"`
	Fetch          FetchOptions `toml:"fetch"`
}

// rawRepoConfig mirrors RepoConfig but decodes Enabled as *bool so a
// missing key is distinguishable from an explicit `enabled = false`,
// which spec.md §6's documented default (true) requires.
type rawRepoConfig struct {
	URLs           []string     `toml:"urls"`
	Enabled        *bool        `toml:"enabled"`
	MissingCommits []string     `toml:"missing_commits"`
	Fetch          FetchOptions `toml:"fetch"`
}

// rawConfig is the direct TOML decode target; Config derives from it so
// the core-facing type can carry parsed reponame.RepoName keys instead
// of raw strings.
type rawConfig struct {
	Repo map[string]rawRepoConfig `toml:"repo"`
}

// Config is the parsed, validated configuration the core consumes. It
// never touches the filesystem or TOML syntax itself (spec.md §1: TOML
// loading is an external collaborator).
type Config struct {
	Repos map[reponame.RepoName]RepoConfig
	// urlOwner maps every configured URL to the repo that claims it; Parse
	// uses it to reject duplicate URLs eagerly and ResolveURL to look them up.
	urlOwner map[string]reponame.RepoName
	checksum [32]byte
}

// DuplicateURLError reports that two repos in config claim the same URL.
type DuplicateURLError struct {
	URL    string
	First  reponame.RepoName
	Second reponame.RepoName
}

func (e *DuplicateURLError) Error() string {
	return fmt.Sprintf("config: url %q claimed by both %q and %q", e.URL, e.First, e.Second)
}

// Parse decodes raw TOML bytes into a Config, defaulting Enabled to true
// per spec.md §6 ("enabled = true  # default") and validating that no
// URL is claimed by two repos.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("config: parse TOML: %w", err)
	}

	cfg := &Config{
		Repos:    make(map[reponame.RepoName]RepoConfig),
		urlOwner: make(map[string]reponame.RepoName),
	}
	for name, raw := range raw.Repo {
		rn, err := reponame.NewSubRepo(name)
		if err != nil {
			return nil, fmt.Errorf("config: repo %q: %w", name, err)
		}
		rc := RepoConfig{
			URLs:           raw.URLs,
			Enabled:        true,
			MissingCommits: raw.MissingCommits,
			Fetch:          raw.Fetch,
		}
		if raw.Enabled != nil {
			rc.Enabled = *raw.Enabled
		}
		cfg.Repos[rn] = rc
		for _, url := range rc.URLs {
			if owner, exists := cfg.urlOwner[url]; exists && owner != rn {
				return nil, &DuplicateURLError{URL: url, First: owner, Second: rn}
			}
			cfg.urlOwner[url] = rn
		}
	}
	h := blake3.New()
	h.Write(canonicalize(data))
	copy(cfg.checksum[:], h.Sum(nil))
	return cfg, nil
}

// canonicalize strips nothing today but exists as the single seam where
// checksum-affecting normalization (e.g. line-ending, whitespace) would
// be added, so Checksum stays stable across trivial reformatting without
// touching every call site.
func canonicalize(data []byte) []byte { return data }

// Checksum returns the configuration's content checksum, used by
// internal/importcache to decide whether the on-disk cache still applies
// (spec.md §4.7).
func (c *Config) Checksum() string {
	return fmt.Sprintf("%x", c.checksum)
}

// ResolveURL maps a submodule's configured URL to its RepoName, or false
// if no configured repo claims it.
func (c *Config) ResolveURL(url string) (reponame.RepoName, bool) {
	rn, ok := c.urlOwner[url]
	return rn, ok
}

// Enabled reports whether name is configured and enabled. A name with no
// RepoConfig entry at all is disabled (spec.md §4.5 step 3: "if the
// submodule is disabled, keep it as a submodule").
func (c *Config) Enabled(name reponame.RepoName) bool {
	rc, ok := c.Repos[name]
	return ok && rc.Enabled
}

// SortedRepoNames returns every configured repo name in RepoName order,
// for deterministic iteration (e.g. cache serialization, `config show`).
func (c *Config) SortedRepoNames() []reponame.RepoName {
	names := make([]reponame.RepoName, 0, len(c.Repos))
	for n := range c.Repos {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return reponame.Less(names[i], names[j]) })
	return names
}
