package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/config"
	"github.com/meroton/git-toprepo/internal/reponame"
)

const sample = `
[repo.libfoo]
urls = ["https://example.com/libfoo.git"]
missing_commits = ["1111111111111111111111111111111111111111"]

[repo.libfoo.fetch]
url = "https://example.com/libfoo.git"
depth = 0
prune = true

[repo.libbar]
urls = ["https://example.com/libbar.git"]
enabled = false
`

func TestParseDefaultsEnabledToTrue(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)
	require.True(t, cfg.Enabled(reponame.SubRepo("libfoo")))
	require.False(t, cfg.Enabled(reponame.SubRepo("libbar")))
}

func TestParseResolvesURLs(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)
	rn, ok := cfg.ResolveURL("https://example.com/libfoo.git")
	require.True(t, ok)
	require.Equal(t, reponame.SubRepo("libfoo"), rn)
}

func TestParseRejectsDuplicateURL(t *testing.T) {
	data := []byte(`
[repo.a]
urls = ["https://example.com/shared.git"]
[repo.b]
urls = ["https://example.com/shared.git"]
`)
	_, err := config.Parse(data)
	require.Error(t, err)
	var dupErr *config.DuplicateURLError
	require.ErrorAs(t, err, &dupErr)
}

func TestChecksumChangesWithContent(t *testing.T) {
	c1, err := config.Parse([]byte(sample))
	require.NoError(t, err)
	c2, err := config.Parse([]byte(sample + "\n# comment\n"))
	require.NoError(t, err)
	require.NotEqual(t, c1.Checksum(), c2.Checksum())
}
