package bumpcache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/expander/bumpcache"
	"github.com/meroton/git-toprepo/internal/monograph"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
)

func commit(depth uint32, id byte) *monograph.MonoRepoCommit {
	c := monograph.New(nil, nil)
	c.Depth = depth
	c.CommitID = oid.OID{id}
	return c
}

func TestIsPowerOfTwoDepth(t *testing.T) {
	cases := map[uint32]bool{
		0: false, 1: true, 2: true, 3: false,
		4: true, 5: false, 8: true, 1024: true, 1025: false,
	}
	for depth, want := range cases {
		require.Equal(t, want, bumpcache.IsPowerOfTwoDepth(depth), "depth %d", depth)
	}
}

func TestPutOnlyStoresAtPowerOfTwoDepths(t *testing.T) {
	c := bumpcache.New()
	state := monograph.ExpandedOrRemoved{
		Kind: monograph.BumpOutcomeExpanded,
		Submodule: monograph.ExpandedSubmodule{
			Kind: monograph.ExpandedOK,
			Content: monograph.SubmoduleContent{
				RepoName:     reponame.SubRepo("libfoo"),
				OrigCommitID: oid.New("1111111111111111111111111111111111111111"),
			},
		},
	}

	odd := commit(3, 1)
	c.Put(odd, "vendor/libfoo", state, nil)
	_, ok := c.Get(odd, "vendor/libfoo")
	require.False(t, ok, "depth 3 is not a power of two, should not be cached")

	pow2 := commit(4, 2)
	c.Put(pow2, "vendor/libfoo", state, []*monograph.MonoRepoCommit{pow2})
	got, ok := c.Get(pow2, "vendor/libfoo")
	require.True(t, ok)
	require.Equal(t, state, got.State)
	require.Len(t, got.LastBumps, 1)
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := bumpcache.New()
	_, ok := c.Get(commit(1, 9), "nope")
	require.False(t, ok)
}

func TestLenReflectsInsertions(t *testing.T) {
	c := bumpcache.New()
	require.Equal(t, 0, c.Len())

	state := monograph.ExpandedOrRemoved{Kind: monograph.BumpOutcomeRemoved}
	c.Put(commit(1, 1), "a", state, nil)
	c.Put(commit(2, 2), "b", state, nil)
	require.Equal(t, 2, c.Len())
}
