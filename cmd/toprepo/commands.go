package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/meroton/git-toprepo/internal/config"
	"github.com/meroton/git-toprepo/internal/coordinator"
	"github.com/meroton/git-toprepo/internal/expander"
	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/fastimport"
	"github.com/meroton/git-toprepo/internal/gitcmd"
	"github.com/meroton/git-toprepo/internal/loader"
	"github.com/meroton/git-toprepo/internal/monograph"
	"github.com/meroton/git-toprepo/internal/obslog"
	"github.com/meroton/git-toprepo/internal/reponame"
	"github.com/meroton/git-toprepo/internal/splitter"
	"github.com/meroton/git-toprepo/pkg/progress"
)

const configFileName = ".gittoprepo.toml"

// repoPaths resolves GIT_DIR/GIT_WORK_TREE (spec.md §6's environment
// contract) relative to globals.CWD, falling back to the usual
// "<worktree>/.git" layout.
func repoPaths(g *Globals) (gitDir, workTree string, err error) {
	workTree = g.CWD
	if workTree == "" {
		workTree, err = os.Getwd()
		if err != nil {
			return "", "", fmt.Errorf("resolving working directory: %w", err)
		}
	}
	if v := os.Getenv("GIT_WORK_TREE"); v != "" {
		workTree = v
	}
	gitDir = filepath.Join(workTree, ".git")
	if v := os.Getenv("GIT_DIR"); v != "" {
		gitDir = v
	}
	return gitDir, workTree, nil
}

func loggerFor(g *Globals) *obslog.Logger {
	mode := obslog.FailFast
	if g.KeepGoing {
		mode = obslog.KeepGoing
	}
	return obslog.NewStderr(mode)
}

func loadRepoConfig(workTree string) (*config.Config, error) {
	data, err := os.ReadFile(filepath.Join(workTree, configFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return config.Parse(nil)
		}
		return nil, fmt.Errorf("reading %s: %w", configFileName, err)
	}
	return config.Parse(data)
}

// envsFor builds one RepoEnv per configured repository plus the top
// repository, all backed by the same local object store (every source
// repository's refs live side by side under refs/namespaces/<name>/…,
// spec.md §6).
func envsFor(env *gitEnv, cfg *config.Config) (map[reponame.RepoName]coordinator.RepoEnv, map[reponame.RepoName]*gitEnv) {
	envs := make(map[reponame.RepoName]coordinator.RepoEnv, len(cfg.Repos)+1)
	gitEnvs := make(map[reponame.RepoName]*gitEnv, len(cfg.Repos)+1)
	names := append([]reponame.RepoName{reponame.Top}, cfg.SortedRepoNames()...)
	for _, name := range names {
		envs[name] = coordinator.RepoEnv{Refs: env, Blobs: env, Trees: env, Open: env.Open}
		gitEnvs[name] = env
	}
	return envs, gitEnvs
}

func fetchersFor(ctx context.Context, repoPath string, cfg *config.Config, remote string) map[reponame.RepoName]loader.Fetcher {
	f := newGitFetcher(ctx, repoPath, cfg, remote)
	out := make(map[reponame.RepoName]loader.Fetcher, len(cfg.Repos)+1)
	out[reponame.Top] = f
	for _, name := range cfg.SortedRepoNames() {
		out[name] = f
	}
	return out
}

// expandAndLand runs Recombine over co and, for every head/tag the top
// repository currently carries, points the matching outer-repository ref
// at the resulting mono commit (spec.md §6: "the monorepo's user-facing
// refs ... are plain refs in the outer repository").
func expandAndLand(ctx context.Context, repoPath string, co *coordinator.Coordinator, env *gitEnv, gitEnvs map[reponame.RepoName]*gitEnv, pg *progress.Group) (int, error) {
	writer, err := fastimport.NewWriter(ctx, repoPath)
	if err != nil {
		return 0, fmt.Errorf("starting fast-import: %w", err)
	}
	var sink expander.Sink = newMonoSink(writer, gitEnvs)
	bar := pg.NewBar("expand", 0)
	sink = progressSink{Sink: sink, bar: bar}

	n, err := co.Recombine(sink)
	bar.Done()
	if err != nil {
		_ = writer.Abort()
		return 0, err
	}

	tips, err := env.ListRefs(reponame.Top)
	if err != nil {
		_ = writer.Abort()
		return 0, fmt.Errorf("listing top refs: %w", err)
	}
	prefix := reponame.Top.RefPrefix()
	for ref, tip := range tips {
		mono, ok := co.Graph().TopToMono[tip]
		if !ok {
			continue
		}
		outerRef := "refs/" + strings.TrimPrefix(ref, prefix)
		if err := writer.WriteResetOID(outerRef, mono.CommitID); err != nil {
			_ = writer.Abort()
			return 0, fmt.Errorf("pointing %s at %s: %w", outerRef, mono.CommitID, err)
		}
	}

	if err := writer.Finish(); err != nil {
		return 0, fmt.Errorf("finishing fast-import: %w", err)
	}
	return n, nil
}

// CloneCmd implements `clone <url> <dir>`.
type CloneCmd struct {
	URL string `arg:"" help:"URL of the super-repository to clone"`
	Dir string `arg:"" help:"Directory to create the clone in" type:"path"`
}

func (c *CloneCmd) Run(g *Globals) error {
	ctx := context.Background()
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Dir, err)
	}
	if err := gitcmd.New(ctx, "", "init", c.Dir).Run(); err != nil {
		return fmt.Errorf("git init %s: %w", c.Dir, err)
	}
	gitDir := filepath.Join(c.Dir, ".git")
	if err := gitcmd.New(ctx, gitDir, "remote", "add", "origin", c.URL).Run(); err != nil {
		return fmt.Errorf("git remote add origin: %w", err)
	}

	g2 := *g
	g2.CWD = c.Dir
	fc := &FetchCmd{Remote: "origin"}
	return fc.Run(&g2)
}

// FetchCmd implements `fetch [<remote> [<refspec>…]]`.
type FetchCmd struct {
	Remote   string   `arg:"" optional:"" default:"origin" help:"Remote to fetch from"`
	Refspecs []string `arg:"" optional:"" help:"Refspecs to fetch (default: the remote's configured default)"`
}

func (c *FetchCmd) Run(g *Globals) error {
	ctx := context.Background()
	gitDir, workTree, err := repoPaths(g)
	if err != nil {
		return err
	}
	cfg, err := loadRepoConfig(workTree)
	if err != nil {
		return err
	}
	log := loggerFor(g)

	gitEnv, err := newGitEnv(ctx, gitDir)
	if err != nil {
		return err
	}
	defer gitEnv.Close()

	envs, gitEnvs := envsFor(gitEnv, cfg)
	repos, graph, hadCache, err := loadCache(gitDir, cfg)
	if err != nil {
		return err
	}
	var co *coordinator.Coordinator
	if hadCache {
		co = coordinator.NewFromCache(cfg, log, envs, repos, graph)
	} else {
		co = coordinator.New(cfg, log, envs)
	}

	pg := progressGroupFor(g)
	fetchers := fetchersFor(ctx, gitDir, cfg, c.Remote)
	fetchBar := pg.NewBar("fetch", len(fetchers))
	loaded, err := co.Fetch(ctx, withFetchProgress(fetchers, fetchBar))
	fetchBar.Done()
	if err != nil {
		return err
	}
	log.Info("loaded %d new commits", loaded)

	expanded, err := expandAndLand(ctx, gitDir, co, gitEnv, gitEnvs, pg)
	if err != nil {
		return err
	}
	log.Info("expanded %d new monorepo commits", expanded)
	pg.Wait()

	if err := saveCache(gitDir, cfg, co.Repos(), co.Graph()); err != nil {
		return err
	}
	if errs, _ := log.Counts(); errs > 0 {
		return &ExitCodeError{Code: 1, Message: "fetch completed with errors"}
	}
	return nil
}

// RecombineCmd implements `recombine [--use-cache]`.
type RecombineCmd struct {
	UseCache bool `name:"use-cache" help:"Resume expansion from the persisted cache instead of rebuilding it from scratch"`
}

func (c *RecombineCmd) Run(g *Globals) error {
	ctx := context.Background()
	gitDir, workTree, err := repoPaths(g)
	if err != nil {
		return err
	}
	cfg, err := loadRepoConfig(workTree)
	if err != nil {
		return err
	}
	log := loggerFor(g)

	gitEnv, err := newGitEnv(ctx, gitDir)
	if err != nil {
		return err
	}
	defer gitEnv.Close()

	envs, gitEnvs := envsFor(gitEnv, cfg)
	repos, graph, hadCache, err := loadCache(gitDir, cfg)
	if err != nil {
		return err
	}
	if !hadCache {
		return &ExitCodeError{Code: 1, Message: "recombine: no cache present; run fetch first"}
	}

	var co *coordinator.Coordinator
	if c.UseCache {
		co = coordinator.NewFromCache(cfg, log, envs, repos, graph)
	} else {
		// Keep the loaded thin graphs (they are the loader's record of
		// history, not an expansion result) but rebuild the mono graph
		// from scratch so every top commit re-expands.
		co = coordinator.NewFromCache(cfg, log, envs, repos, monograph.NewGraph())
	}

	pg := progressGroupFor(g)
	n, err := expandAndLand(ctx, gitDir, co, gitEnv, gitEnvs, pg)
	if err != nil {
		return err
	}
	log.Info("expanded %d monorepo commits", n)
	pg.Wait()

	if err := saveCache(gitDir, cfg, co.Repos(), co.Graph()); err != nil {
		return err
	}
	if errs, _ := log.Counts(); errs > 0 {
		return &ExitCodeError{Code: 1, Message: "recombine completed with errors"}
	}
	return nil
}

// PushCmd implements `push <remote> <rev>:<ref>`.
type PushCmd struct {
	Remote string `arg:"" help:"Remote name to resolve the top repository's push URL from"`
	Spec   string `arg:"" help:"A <rev>:<ref> pair naming the monorepo range and destination branch"`
}

func (c *PushCmd) parseSpec() (rev, ref string, err error) {
	rev, ref, ok := strings.Cut(c.Spec, ":")
	if !ok {
		return "", "", fmt.Errorf("push: malformed <rev>:<ref> spec %q", c.Spec)
	}
	return rev, ref, nil
}

func (c *PushCmd) Run(g *Globals) error {
	ctx := context.Background()
	gitDir, workTree, err := repoPaths(g)
	if err != nil {
		return err
	}
	cfg, err := loadRepoConfig(workTree)
	if err != nil {
		return err
	}
	log := loggerFor(g)

	rev, ref, err := c.parseSpec()
	if err != nil {
		return err
	}

	gitEnv, err := newGitEnv(ctx, gitDir)
	if err != nil {
		return err
	}
	defer gitEnv.Close()

	_, graph, hadCache, err := loadCache(gitDir, cfg)
	if err != nil {
		return err
	}
	if !hadCache {
		return &ExitCodeError{Code: 1, Message: "push: no cache present; run fetch and recombine first"}
	}

	src, err := fastexport.NewReader(ctx, gitDir, fastexport.Revisions{Positive: []string{rev}})
	if err != nil {
		return fmt.Errorf("push: fast-export %s: %w", rev, err)
	}
	defer src.Close()

	var commits []*fastexport.Commit
	for {
		entry, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("push: reading %s: %w", rev, err)
		}
		if entry.Kind == fastexport.EntryCommit {
			commits = append(commits, entry.Commit)
		}
	}

	topPushURL, err := gitcmd.New(ctx, gitDir, "remote", "get-url", "--push", c.Remote).OneLine()
	if err != nil {
		topPushURL, err = gitcmd.New(ctx, gitDir, "remote", "get-url", c.Remote).OneLine()
		if err != nil {
			return fmt.Errorf("push: resolving url for remote %s: %w", c.Remote, err)
		}
	}

	writer, err := fastimport.NewWriter(ctx, gitDir)
	if err != nil {
		return fmt.Errorf("push: starting fast-import: %w", err)
	}

	co := coordinator.NewFromCache(cfg, log, nil, nil, graph)
	pusher := splitter.GitPusher{RepoPath: gitDir}
	n, err := co.Push(ctx, commits, topPushURL, writer, pusher, ref, 4)
	if err != nil {
		_ = writer.Abort()
		return err
	}
	if err := writer.Finish(); err != nil {
		return fmt.Errorf("push: finishing fast-import: %w", err)
	}
	log.Info("pushed %d commits", n)
	if errs, _ := log.Counts(); errs > 0 {
		return &ExitCodeError{Code: 1, Message: "push completed with errors"}
	}
	return nil
}

// ConfigCmd implements `config bootstrap|validate|show`.
type ConfigCmd struct {
	Bootstrap ConfigBootstrapCmd `cmd:"" help:"Write a starter .gittoprepo.toml"`
	Validate  ConfigValidateCmd  `cmd:"" help:"Parse and validate the configuration"`
	Show      ConfigShowCmd      `cmd:"" help:"Print the resolved configuration"`
}

const configTemplate = `# git-toprepo submodule configuration.
# [repo.<name>]
# urls = ["https://example.com/<name>.git"]
# enabled = true
# missing_commits = []
# [repo.<name>.fetch]
# url = ""
# depth = 0
# prune = true
`

type ConfigBootstrapCmd struct{}

func (c *ConfigBootstrapCmd) Run(g *Globals) error {
	_, workTree, err := repoPaths(g)
	if err != nil {
		return err
	}
	path := filepath.Join(workTree, configFileName)
	if _, err := os.Stat(path); err == nil {
		return &ExitCodeError{Code: 1, Message: fmt.Sprintf("config bootstrap: %s already exists", path)}
	}
	return os.WriteFile(path, []byte(configTemplate), 0o644)
}

type ConfigValidateCmd struct{}

func (c *ConfigValidateCmd) Run(g *Globals) error {
	_, workTree, err := repoPaths(g)
	if err != nil {
		return err
	}
	if _, err := loadRepoConfig(workTree); err != nil {
		return &ExitCodeError{Code: 1, Message: err.Error()}
	}
	return nil
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(g *Globals) error {
	_, workTree, err := repoPaths(g)
	if err != nil {
		return err
	}
	cfg, err := loadRepoConfig(workTree)
	if err != nil {
		return err
	}
	for _, name := range cfg.SortedRepoNames() {
		rc := cfg.Repos[name]
		fmt.Printf("%s: enabled=%t urls=%v\n", name, rc.Enabled, rc.URLs)
	}
	return nil
}

// InfoCmd answers cheap local queries without touching the network.
type InfoCmd struct {
	IsEmulatedMonorepo bool `name:"is-emulated-monorepo" help:"Exit 3 if the local cache has never expanded any commit"`
}

func (c *InfoCmd) Run(g *Globals) error {
	gitDir, workTree, err := repoPaths(g)
	if err != nil {
		return err
	}
	cfg, err := loadRepoConfig(workTree)
	if err != nil {
		return err
	}
	_, graph, hadCache, err := loadCache(gitDir, cfg)
	if err != nil {
		return err
	}
	if c.IsEmulatedMonorepo {
		if !hadCache || len(graph.Commits) == 0 {
			return &ExitCodeError{Code: 3, Message: "not an emulated monorepo: no expanded commits in cache"}
		}
		return nil
	}
	fmt.Printf("cached=%t commits=%d\n", hadCache, len(graph.Commits))
	return nil
}
