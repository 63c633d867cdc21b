package importcache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/importcache"
	"github.com/meroton/git-toprepo/internal/oid"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "import-cache.bincode")

	rec := importcache.NewRecord("abc123")
	rec.Repos["libfoo"] = importcache.PackedRepoData{
		URL: "https://example.com/libfoo.git",
		Commits: []importcache.PackedCommit{
			{CommitID: oid.New("1111111111111111111111111111111111111111"), Depth: 1},
		},
		DedupCache: map[oid.OID]oid.OID{},
	}

	require.NoError(t, importcache.Write(path, rec))

	got, err := importcache.Read(path, "abc123")
	require.NoError(t, err)
	require.Equal(t, "abc123", got.ConfigChecksum)
	require.Equal(t, "https://example.com/libfoo.git", got.Repos["libfoo"].URL)
	require.Len(t, got.Repos["libfoo"].Commits, 1)
}

func TestReadDiscardsOnChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "import-cache.bincode")
	rec := importcache.NewRecord("abc123")
	require.NoError(t, importcache.Write(path, rec))

	_, err := importcache.Read(path, "different")
	require.Error(t, err)
	var discard *importcache.ErrDiscard
	require.ErrorAs(t, err, &discard)
}

func TestReadDiscardsOnMissingFile(t *testing.T) {
	_, err := importcache.Read(filepath.Join(t.TempDir(), "missing"), "abc123")
	require.Error(t, err)
	var discard *importcache.ErrDiscard
	require.ErrorAs(t, err, &discard)
}

func TestReadDiscardsOnCorruptPrelude(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "import-cache.bincode")
	require.NoError(t, os.WriteFile(path, []byte("not a cache file"), 0o644))

	_, err := importcache.Read(path, "abc123")
	require.Error(t, err)
	var discard *importcache.ErrDiscard
	require.ErrorAs(t, err, &discard)
}
