package monograph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/monograph"
	"github.com/meroton/git-toprepo/internal/oid"
)

func TestNewComputesDepthFromCanonicalSuperParent(t *testing.T) {
	root := monograph.New(nil, nil)
	root.CommitID = oid.New("1111111111111111111111111111111111111111")

	child := monograph.New([]monograph.MonoRepoParent{
		{Kind: monograph.ParentMono, Mono: root},
	}, map[string]monograph.ExpandedOrRemoved{
		"vendor/libfoo": {Kind: monograph.BumpOutcomeExpanded},
	})

	require.Equal(t, uint32(2), child.Depth)
	require.True(t, child.IsSubmodulePath("vendor/libfoo"))
	require.Equal(t, root, child.CanonicalSuperParent())
}

func TestGraphRecordMaintainsTopToMonoSubset(t *testing.T) {
	g := monograph.NewGraph()
	c := monograph.New(nil, nil)
	c.CommitID = oid.New("2222222222222222222222222222222222222222")
	topID := oid.New("3333333333333333333333333333333333333333")
	c.SetTopBump(topID)

	g.Record(c)
	require.Same(t, c, g.Commits[c.CommitID])
	require.Same(t, c, g.TopToMono[topID])
}
