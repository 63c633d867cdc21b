package gitreview_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/gitreview"
)

func TestParseDefaultsSSHHostToHost(t *testing.T) {
	cfg, err := gitreview.Parse([]byte(`[gerrit]
host=review.example.com
project=platform/core.git
`))
	require.NoError(t, err)
	require.Equal(t, "review.example.com", cfg.Host)
	require.Equal(t, "review.example.com", cfg.SSHHost)
	require.Equal(t, "platform/core.git", cfg.Project)
	require.False(t, cfg.HasPort)
}

func TestParseWithPort(t *testing.T) {
	cfg, err := gitreview.Parse([]byte(`[gerrit]
host=review.example.com
project=platform/core.git
port=29418
`))
	require.NoError(t, err)
	require.True(t, cfg.HasPort)
	require.Equal(t, 29418, cfg.Port)
}

func TestParseWithExplicitSSHHost(t *testing.T) {
	cfg, err := gitreview.Parse([]byte(`[gerrit]
host=review.example.com
ssh_host=ssh.review.example.com
project=platform/core.git
`))
	require.NoError(t, err)
	require.Equal(t, "review.example.com", cfg.Host)
	require.Equal(t, "ssh.review.example.com", cfg.SSHHost)
}

func TestParseMissingHostFails(t *testing.T) {
	_, err := gitreview.Parse([]byte(`[gerrit]
project=platform/core.git
`))
	require.Error(t, err)
	require.ErrorContains(t, err, "host")
}

func TestParseMissingProjectFails(t *testing.T) {
	_, err := gitreview.Parse([]byte(`[gerrit]
host=review.example.com
`))
	require.Error(t, err)
	require.ErrorContains(t, err, "project")
}

func TestParseInvalidPortFails(t *testing.T) {
	_, err := gitreview.Parse([]byte(`[gerrit]
host=review.example.com
project=platform/core.git
port=not-a-number
`))
	require.Error(t, err)
}

func TestParseUnrecognizedLineFails(t *testing.T) {
	_, err := gitreview.Parse([]byte(`[gerrit]
host=review.example.com
project=platform/core.git
this is garbage
`))
	require.Error(t, err)
}
