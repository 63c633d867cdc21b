package gitcmd_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/gitcmd"
)

func TestOneLineReturnsTrimmedOutput(t *testing.T) {
	cmd := gitcmd.New(context.Background(), "", "--version")
	line, err := cmd.OneLine()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "git version"), "got %q", line)
}

func TestOutputSurfacesStderrOnFailure(t *testing.T) {
	cmd := gitcmd.New(context.Background(), "", "this-is-not-a-git-command")
	_, err := cmd.Output()
	require.Error(t, err)
	require.Contains(t, err.Error(), "is not a git command")
}

func TestReaderStreamsStdoutAndWaits(t *testing.T) {
	r, err := gitcmd.NewReader(context.Background(), &gitcmd.RunOpts{}, "--version")
	require.NoError(t, err)
	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	require.NoError(t, r.Close())
	require.True(t, strings.HasPrefix(string(buf[:n]), "git version"))
}
