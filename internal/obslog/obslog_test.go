package obslog_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/obslog"
)

func TestWireFormatMatchesContract(t *testing.T) {
	var buf bytes.Buffer
	logger := obslog.New(&buf, obslog.KeepGoing)
	logger.Error(errors.New("boom"))
	logger.Warn("", "careful %d", 1)
	logger.Info("ready")

	lines := buf.String()
	require.Contains(t, lines, "ERROR: boom\n")
	require.Contains(t, lines, "WARN: careful 1\n")
	require.Contains(t, lines, "INFO: ready\n")
}

func TestFailFastSetsInterruptedOnFirstError(t *testing.T) {
	var buf bytes.Buffer
	logger := obslog.New(&buf, obslog.FailFast)
	require.False(t, logger.Interrupted())
	logger.Error(errors.New("boom"))
	require.True(t, logger.Interrupted())
}

func TestWarnSuppressesRepeatedKey(t *testing.T) {
	var buf bytes.Buffer
	logger := obslog.New(&buf, obslog.KeepGoing)
	logger.Warn("tip:main", "gitmodules missing")
	logger.Warn("tip:main", "gitmodules missing")
	_, warnings := logger.Counts()
	require.Equal(t, 1, warnings)
}

func TestExitCodeReflectsErrorCount(t *testing.T) {
	var buf bytes.Buffer
	logger := obslog.New(&buf, obslog.KeepGoing)
	require.Equal(t, 0, logger.ExitCode())
	logger.Error(errors.New("boom"))
	require.Equal(t, 1, logger.ExitCode())
}

func TestContextChainsPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := obslog.New(&buf, obslog.KeepGoing)
	ctx := logger.Context("Fetching `libfoo`").Context("`git fetch` failed")
	err := ctx.Errorf("exit status 1")
	require.Contains(t, buf.String(), "Fetching `libfoo`: `git fetch` failed: exit status 1")
	require.Contains(t, err.Error(), "exit status 1")
}
