package reponame_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/reponame"
)

func TestTopRoundTripsThroughRef(t *testing.T) {
	require.Equal(t, "refs/namespaces/top/", reponame.Top.RefPrefix())
	name, suffix, err := reponame.FromRef("refs/namespaces/top/heads/main")
	require.NoError(t, err)
	require.True(t, name.IsTop())
	require.Equal(t, "heads/main", suffix)
}

func TestSubRepoRoundTripsThroughRef(t *testing.T) {
	name, suffix, err := reponame.FromRef("refs/namespaces/libfoo/heads/main")
	require.NoError(t, err)
	require.False(t, name.IsTop())
	sub, ok := name.SubName()
	require.True(t, ok)
	require.Equal(t, "libfoo", sub)
	require.Equal(t, "heads/main", suffix)
}

func TestNewSubRepoRejectsTop(t *testing.T) {
	_, err := reponame.NewSubRepo("top")
	require.Error(t, err)
}

func TestFromRefRejectsNonNamespacedRef(t *testing.T) {
	_, _, err := reponame.FromRef("refs/heads/main")
	require.Error(t, err)
}

func TestPathHasPrefixDir(t *testing.T) {
	root := reponame.PathFromString("")
	sub := reponame.PathFromString("vendor/libfoo")
	file := reponame.PathFromString("vendor/libfoo/src/main.c")
	sibling := reponame.PathFromString("vendor/libfoobar/x")

	require.True(t, file.HasPrefixDir(sub))
	require.True(t, file.HasPrefixDir(root))
	require.False(t, sibling.HasPrefixDir(sub))
	require.True(t, sub.HasPrefixDir(sub))
}

func TestRepoNameLessOrdersTopFirst(t *testing.T) {
	require.True(t, reponame.Less(reponame.Top, reponame.SubRepo("a")))
	require.False(t, reponame.Less(reponame.SubRepo("a"), reponame.Top))
	require.True(t, reponame.Less(reponame.SubRepo("a"), reponame.SubRepo("b")))
}
