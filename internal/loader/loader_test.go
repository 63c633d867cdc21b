package loader_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/config"
	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/gitmodules"
	"github.com/meroton/git-toprepo/internal/loader"
	"github.com/meroton/git-toprepo/internal/obslog"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
	"github.com/meroton/git-toprepo/internal/thingraph"
)

func commitOID(b byte) oid.OID {
	var raw [20]byte
	raw[19] = b
	id, err := oid.FromBytes(raw[:])
	if err != nil {
		panic(err)
	}
	return id
}

func blobOID(b byte) oid.OID {
	var raw [20]byte
	raw[18] = 0xb1
	raw[19] = b
	id, err := oid.FromBytes(raw[:])
	if err != nil {
		panic(err)
	}
	return id
}

func mustConfig(t *testing.T, toml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(toml))
	require.NoError(t, err)
	return cfg
}

type fakeRefs struct {
	tips map[string]oid.OID
}

func (f fakeRefs) ListRefs(reponame.RepoName) (map[string]oid.OID, error) { return f.tips, nil }

type fakeTrees struct {
	byCommit map[oid.OID]oid.OID
}

func (f fakeTrees) TreeID(c oid.OID) (oid.OID, error) { return f.byCommit[c], nil }

type fakeBlobs struct {
	byID map[oid.OID][]byte
}

func (f fakeBlobs) Blob(id oid.OID) ([]byte, error) { return f.byID[id], nil }

type fakeSource struct {
	entries []*fastexport.Entry
	pos     int
}

func (s *fakeSource) Next() (*fastexport.Entry, error) {
	if s.pos >= len(s.entries) {
		return nil, io.EOF
	}
	e := s.entries[s.pos]
	s.pos++
	return e, nil
}

func (s *fakeSource) Close() error { return nil }

func openerFor(entries ...*fastexport.Entry) loader.ExportOpener {
	return func(context.Context, fastexport.Revisions) (loader.ExportSource, error) {
		return &fakeSource{entries: entries}, nil
	}
}

func commitEntry(id oid.OID, parent *oid.OID, changes ...fastexport.FileChange) *fastexport.Entry {
	c := &fastexport.Commit{
		Branch:      "refs/namespaces/top/refs/heads/main",
		OriginalOID: id,
		Committer:   fastexport.Signature{Name: "a", Email: "a@example.com"},
		Message:     []byte("msg"),
		FileChanges: changes,
	}
	if parent != nil {
		c.From = &fastexport.ParentRef{OID: *parent}
	}
	return &fastexport.Entry{Kind: fastexport.EntryCommit, Commit: c}
}

func newLoader(t *testing.T, cfg *config.Config, tips map[string]oid.OID, trees map[oid.OID]oid.OID, blobs map[oid.OID][]byte, open loader.ExportOpener) *loader.Loader {
	t.Helper()
	if cfg == nil {
		cfg = mustConfig(t, "")
	}
	return &loader.Loader{
		RepoName: reponame.Top,
		Repo:     thingraph.NewRepoData(""),
		Config:   cfg,
		Modules:  gitmodules.NewCache(),
		Blobs:    fakeBlobs{byID: blobs},
		Trees:    fakeTrees{byCommit: trees},
		Refs:     fakeRefs{tips: tips},
		Open:     open,
		Log:      obslog.NewStderr(obslog.KeepGoing),
	}
}

func TestLoadRootCommitWithNoSubmoduleChanges(t *testing.T) {
	c1 := commitOID(1)
	t1 := commitOID(101)

	l := newLoader(t, nil,
		map[string]oid.OID{"refs/namespaces/top/refs/heads/main": c1},
		map[oid.OID]oid.OID{c1: t1},
		nil,
		openerFor(commitEntry(c1, nil, fastexport.FileChange{
			Kind: fastexport.ChangeModify, Mode: "100644", OID: blobOID(1), Path: []byte("README.md"),
		})),
	)

	result, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.LoadedCommits)
	require.Empty(t, result.Needed)

	got, ok := l.Repo.Get(c1)
	require.True(t, ok)
	require.Equal(t, t1, got.TreeID)
	require.Equal(t, uint32(1), got.Depth)
	require.False(t, got.HasGitmodules)
}

func TestLoadSkipsAlreadyKnownTips(t *testing.T) {
	c1 := commitOID(1)
	existing := thingraph.NewRoot(c1, commitOID(101))
	l := newLoader(t, nil,
		map[string]oid.OID{"refs/namespaces/top/refs/heads/main": c1},
		nil, nil,
		openerFor(), // Open must not even be consulted
	)
	require.NoError(t, l.Repo.Add(existing))

	result, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.LoadedCommits)
}

func TestLoadResolvesSubmoduleBumpAgainstGitmodules(t *testing.T) {
	cfg := mustConfig(t, "[repo.libfoo]\nurls = [\"https://example.com/libfoo.git\"]\n")
	libfoo := reponame.SubRepo("libfoo")

	c1 := commitOID(1)
	t1 := commitOID(101)
	gitmodulesBlob := blobOID(1)
	gitmodulesContent := []byte("[submodule \"libfoo\"]\n\tpath = libfoo\n\turl = https://example.com/libfoo.git\n")
	subCommit := commitOID(201)

	l := newLoader(t, cfg,
		map[string]oid.OID{"refs/namespaces/top/refs/heads/main": c1},
		map[oid.OID]oid.OID{c1: t1},
		map[oid.OID][]byte{gitmodulesBlob: gitmodulesContent},
		openerFor(commitEntry(c1, nil,
			fastexport.FileChange{Kind: fastexport.ChangeModify, Mode: "100644", OID: gitmodulesBlob, Path: []byte(".gitmodules")},
			fastexport.FileChange{Kind: fastexport.ChangeModify, Mode: "160000", OID: subCommit, Path: []byte("libfoo")},
		)),
	)

	result, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.LoadedCommits)
	require.Contains(t, result.Needed, libfoo)
	require.Contains(t, result.Needed[libfoo], subCommit)

	got, _ := l.Repo.Get(c1)
	require.True(t, got.HasGitmodules)
	require.True(t, got.IsSubmodulePath("libfoo"))
	bump, ok := got.Bump("libfoo")
	require.True(t, ok)
	require.Equal(t, thingraph.SubmoduleResolved, bump.Content.Kind)
	require.Equal(t, libfoo, bump.Content.RepoName)
}

func TestLoadMarksUnconfiguredSubmoduleUnresolved(t *testing.T) {
	c1 := commitOID(1)
	t1 := commitOID(101)
	gitmodulesBlob := blobOID(1)
	gitmodulesContent := []byte("[submodule \"libfoo\"]\n\tpath = libfoo\n\turl = https://example.com/libfoo.git\n")
	subCommit := commitOID(201)

	l := newLoader(t, nil,
		map[string]oid.OID{"refs/namespaces/top/refs/heads/main": c1},
		map[oid.OID]oid.OID{c1: t1},
		map[oid.OID][]byte{gitmodulesBlob: gitmodulesContent},
		openerFor(commitEntry(c1, nil,
			fastexport.FileChange{Kind: fastexport.ChangeModify, Mode: "100644", OID: gitmodulesBlob, Path: []byte(".gitmodules")},
			fastexport.FileChange{Kind: fastexport.ChangeModify, Mode: "160000", OID: subCommit, Path: []byte("libfoo")},
		)),
	)

	result, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Needed)

	got, _ := l.Repo.Get(c1)
	bump, ok := got.Bump("libfoo")
	require.True(t, ok)
	require.Equal(t, thingraph.SubmoduleUnresolved, bump.Content.Kind)
}

func TestLoadElidesIdenticalBumpFromParent(t *testing.T) {
	cfg := mustConfig(t, "[repo.libfoo]\nurls = [\"https://example.com/libfoo.git\"]\n")

	gitmodulesBlob := blobOID(1)
	gitmodulesContent := []byte("[submodule \"libfoo\"]\n\tpath = libfoo\n\turl = https://example.com/libfoo.git\n")
	subCommit := commitOID(201)

	c1 := commitOID(1)
	c2 := commitOID(2)
	t1 := commitOID(101)
	t2 := commitOID(102)

	l := newLoader(t, cfg,
		map[string]oid.OID{"refs/namespaces/top/refs/heads/main": c2},
		map[oid.OID]oid.OID{c1: t1, c2: t2},
		map[oid.OID][]byte{gitmodulesBlob: gitmodulesContent},
		openerFor(
			commitEntry(c1, nil,
				fastexport.FileChange{Kind: fastexport.ChangeModify, Mode: "100644", OID: gitmodulesBlob, Path: []byte(".gitmodules")},
				fastexport.FileChange{Kind: fastexport.ChangeModify, Mode: "160000", OID: subCommit, Path: []byte("libfoo")},
			),
			commitEntry(c2, &c1,
				fastexport.FileChange{Kind: fastexport.ChangeModify, Mode: "160000", OID: subCommit, Path: []byte("libfoo")},
			),
		),
	)

	result, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.LoadedCommits)

	got, _ := l.Repo.Get(c2)
	_, touchedAtC2 := got.Bump("libfoo")
	require.False(t, touchedAtC2, "identical bump should be elided, inherited from parent instead")
	require.True(t, got.IsSubmodulePath("libfoo"))
}

func TestLoadRemovedSubmodulePath(t *testing.T) {
	cfg := mustConfig(t, "[repo.libfoo]\nurls = [\"https://example.com/libfoo.git\"]\n")

	gitmodulesBlob := blobOID(1)
	gitmodulesContent := []byte("[submodule \"libfoo\"]\n\tpath = libfoo\n\turl = https://example.com/libfoo.git\n")
	subCommit := commitOID(201)

	c1 := commitOID(1)
	c2 := commitOID(2)
	t1 := commitOID(101)
	t2 := commitOID(102)

	l := newLoader(t, cfg,
		map[string]oid.OID{"refs/namespaces/top/refs/heads/main": c2},
		map[oid.OID]oid.OID{c1: t1, c2: t2},
		map[oid.OID][]byte{gitmodulesBlob: gitmodulesContent},
		openerFor(
			commitEntry(c1, nil,
				fastexport.FileChange{Kind: fastexport.ChangeModify, Mode: "100644", OID: gitmodulesBlob, Path: []byte(".gitmodules")},
				fastexport.FileChange{Kind: fastexport.ChangeModify, Mode: "160000", OID: subCommit, Path: []byte("libfoo")},
			),
			commitEntry(c2, &c1,
				fastexport.FileChange{Kind: fastexport.ChangeDelete, Path: []byte("libfoo")},
			),
		),
	)

	result, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.LoadedCommits)

	got, _ := l.Repo.Get(c2)
	require.False(t, got.IsSubmodulePath("libfoo"))
	bump, ok := got.Bump("libfoo")
	require.True(t, ok)
	require.Equal(t, thingraph.BumpRemoved, bump.Kind)
}
