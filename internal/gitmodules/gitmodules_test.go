package gitmodules_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/gitmodules"
	"github.com/meroton/git-toprepo/internal/oid"
)

func TestParseExtractsPathAndURL(t *testing.T) {
	data := []byte(`[submodule "libfoo"]
	path = vendor/libfoo
	url = https://example.com/libfoo.git
[submodule "libbar"]
	path = vendor/libbar
	url = https://example.com/libbar.git
`)
	result := gitmodules.Parse(data)
	require.Empty(t, result.Warnings)
	require.Equal(t, 2, result.Config.Len())

	foo, ok := result.Config.ByPath("vendor/libfoo")
	require.True(t, ok)
	require.Equal(t, "libfoo", foo.Name)
	require.Equal(t, "https://example.com/libfoo.git", foo.URL)
}

func TestParseWarnsOnMissingURLButKeepsRest(t *testing.T) {
	data := []byte(`[submodule "incomplete"]
	path = vendor/incomplete
[submodule "complete"]
	path = vendor/complete
	url = https://example.com/complete.git
`)
	result := gitmodules.Parse(data)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, 1, result.Config.Len())
	_, ok := result.Config.ByPath("vendor/incomplete")
	require.False(t, ok)
}

func TestParseFirstEntryWinsOnDuplicatePath(t *testing.T) {
	data := []byte(`[submodule "a"]
	path = vendor/shared
	url = https://example.com/a.git
[submodule "b"]
	path = vendor/shared
	url = https://example.com/b.git
`)
	result := gitmodules.Parse(data)
	require.Len(t, result.Warnings, 1)
	sub, ok := result.Config.ByPath("vendor/shared")
	require.True(t, ok)
	require.Equal(t, "a", sub.Name)
}

func TestCacheOnlyLoadsOnce(t *testing.T) {
	cache := gitmodules.NewCache()
	blob := oid.New("1111111111111111111111111111111111111111")
	calls := 0
	load := func() ([]byte, error) {
		calls++
		return []byte(`[submodule "x"]
	path = x
	url = https://example.com/x.git
`), nil
	}
	_, err := cache.Get(blob, load)
	require.NoError(t, err)
	_, err = cache.Get(blob, load)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, cache.Len())
}
