package thingraph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/oid"
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

func TestNewComputesDepthAndSubmodulePaths(t *testing.T) {
	root := thingraph.NewRoot(commitOID(1), commitOID(2))
	require.Equal(t, uint32(1), root.Depth)

	diff := thingraph.ComputeBumpDiff([]fastexport.FileChange{
		{Kind: fastexport.ChangeModify, Mode: "160000", OID: commitOID(3), Path: []byte("vendor/libfoo")},
	}, root)
	require.Empty(t, diff.Warnings)

	child := thingraph.New(commitOID(4), commitOID(5), []*thingraph.ThinCommit{root}, diff.Bumps)
	require.Equal(t, uint32(2), child.Depth)
	require.True(t, child.IsSubmodulePath("vendor/libfoo"))
	require.False(t, root.IsSubmodulePath("vendor/libfoo"))
}

func TestComputeBumpDiffElidesIdenticalBump(t *testing.T) {
	root := thingraph.NewRoot(commitOID(1), commitOID(2))
	firstDiff := thingraph.ComputeBumpDiff([]fastexport.FileChange{
		{Kind: fastexport.ChangeModify, Mode: "160000", OID: commitOID(3), Path: []byte("vendor/libfoo")},
	}, root)
	c1 := thingraph.New(commitOID(4), commitOID(5), []*thingraph.ThinCommit{root}, firstDiff.Bumps)

	secondDiff := thingraph.ComputeBumpDiff([]fastexport.FileChange{
		{Kind: fastexport.ChangeModify, Mode: "160000", OID: commitOID(3), Path: []byte("vendor/libfoo")},
	}, c1)
	require.Equal(t, 0, secondDiff.Bumps.Size())
}

func TestComputeBumpDiffDetectsRemoval(t *testing.T) {
	root := thingraph.NewRoot(commitOID(1), commitOID(2))
	firstDiff := thingraph.ComputeBumpDiff([]fastexport.FileChange{
		{Kind: fastexport.ChangeModify, Mode: "160000", OID: commitOID(3), Path: []byte("vendor/libfoo")},
	}, root)
	c1 := thingraph.New(commitOID(4), commitOID(5), []*thingraph.ThinCommit{root}, firstDiff.Bumps)

	secondDiff := thingraph.ComputeBumpDiff([]fastexport.FileChange{
		{Kind: fastexport.ChangeDelete, Path: []byte("vendor/libfoo")},
	}, c1)
	bump, ok := secondDiff.Bumps.Get("vendor/libfoo")
	require.True(t, ok)
	require.Equal(t, thingraph.BumpRemoved, bump.(thingraph.ThinSubmodule).Kind)

	c2 := thingraph.New(commitOID(6), commitOID(7), []*thingraph.ThinCommit{c1}, secondDiff.Bumps)
	require.False(t, c2.IsSubmodulePath("vendor/libfoo"))
}

func TestComputeBumpDiffTracksGitmodulesBlob(t *testing.T) {
	root := thingraph.NewRoot(commitOID(1), commitOID(2))
	diff := thingraph.ComputeBumpDiff([]fastexport.FileChange{
		{Kind: fastexport.ChangeModify, Mode: "100644", OID: commitOID(9), Path: []byte(".gitmodules")},
	}, root)
	require.True(t, diff.HasGitmodules)
	require.Equal(t, commitOID(9), diff.DotGitmodules)
}

func TestRepoDataAddRejectsDanglingParent(t *testing.T) {
	repo := thingraph.NewRepoData("https://example.com/top.git")
	orphan := thingraph.NewRoot(commitOID(1), commitOID(2))
	child := thingraph.New(commitOID(3), commitOID(4), []*thingraph.ThinCommit{orphan}, nil)
	require.Error(t, repo.Add(child))
}

func TestRepoDataSortedByDepth(t *testing.T) {
	repo := thingraph.NewRepoData("https://example.com/top.git")
	root := thingraph.NewRoot(commitOID(1), commitOID(2))
	require.NoError(t, repo.Add(root))
	child := thingraph.New(commitOID(3), commitOID(4), []*thingraph.ThinCommit{root}, nil)
	require.NoError(t, repo.Add(child))

	sorted := repo.SortedByDepth()
	require.Len(t, sorted, 2)
	require.Equal(t, root.CommitID, sorted[0].CommitID)
	require.Equal(t, child.CommitID, sorted[1].CommitID)
}
