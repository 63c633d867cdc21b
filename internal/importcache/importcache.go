// Package importcache persists the thin graphs, mono graph, and dedup
// caches to a single binary file keyed by a configuration checksum
// (spec.md §4.7), so `recombine --use-cache` can skip re-loading and
// re-expanding history that hasn't changed.
package importcache

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
)

// formatVersion is bumped whenever the binary record's shape changes.
const formatVersion = 1

func versionPrelude() string {
	return fmt.Sprintf("#cache-format-v%d\n", formatVersion)
}

// PackedSubmodule mirrors thingraph.ThinSubmodule in a gob-friendly,
// pointer-free shape.
type PackedSubmodule struct {
	Removed      bool
	Unresolved   bool
	SubRepoName  string // empty when Unresolved; "top" is never valid here
	SubCommitID  oid.OID
}

// PackedCommit mirrors thingraph.ThinCommit: parents are recorded by
// index into the enclosing RepoData's Commits slice (which is written
// in depth order, so every parent index is smaller than its own),
// avoiding pointer cycles gob can't serialize directly.
type PackedCommit struct {
	CommitID      oid.OID
	TreeID        oid.OID
	ParentIdx     []int
	Depth         uint32
	DotGitmodules oid.OID
	HasGitmodules bool
	BumpPaths     []string // preserves insertion order
	Bumps         map[string]PackedSubmodule
}

// PackedRepoData mirrors thingraph.RepoData.
type PackedRepoData struct {
	URL        string
	Commits    []PackedCommit // depth-ascending (spec.md §4.7)
	DedupCache map[oid.OID]oid.OID
}

// PackedMonoParent mirrors monograph.MonoRepoParent.
type PackedMonoParent struct {
	IsOriginalSubmod bool
	MonoIdx          int // valid when !IsOriginalSubmod; index into Record.MonoCommits
	Path             string
	CommitID         oid.OID
}

// PackedExpandedOrRemoved mirrors monograph.ExpandedOrRemoved.
type PackedExpandedOrRemoved struct {
	Removed     bool
	Kind        int
	RepoName    string
	OrigCommitID oid.OID
	KeptCommitID oid.OID
}

// PackedMonoCommit mirrors monograph.MonoRepoCommit.
type PackedMonoCommit struct {
	CommitID       oid.OID
	Parents        []PackedMonoParent
	HasTopBump     bool
	TopBump        oid.OID
	SubmoduleBumps map[string]PackedExpandedOrRemoved
	Depth          uint32
}

// Record is the full serialized payload (spec.md §4.7 file layout).
type Record struct {
	ConfigChecksum string
	Repos          map[string]PackedRepoData // keyed by reponame.RepoName.String()
	MonoCommits    []PackedMonoCommit        // depth-ascending
	TopToMono      map[oid.OID]int           // top commit id -> index into MonoCommits
	DedupCache     map[oid.OID]oid.OID       // fast-export/import WithoutCommitterId cache
}

// NewRecord returns an empty Record for checksum.
func NewRecord(checksum string) *Record {
	return &Record{
		ConfigChecksum: checksum,
		Repos:          make(map[string]PackedRepoData),
		TopToMono:      make(map[oid.OID]int),
		DedupCache:     make(map[oid.OID]oid.OID),
	}
}

// Write serializes r to path atomically: writes to a sibling .tmp file,
// then renames it into place (spec.md §4.7).
func Write(path string, r *Record) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("importcache: create %s: %w", tmp, err)
	}
	if err := writeTo(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("importcache: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("importcache: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

func writeTo(w io.Writer, r *Record) error {
	if _, err := io.WriteString(w, versionPrelude()); err != nil {
		return err
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("importcache: create zstd writer: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(r); err != nil {
		_ = zw.Close()
		return fmt.Errorf("importcache: encode record: %w", err)
	}
	return zw.Close()
}

// ErrDiscard means the cache at path is unusable (version/signature
// mismatch, checksum mismatch, or trailing bytes) and the caller should
// fall back to a full reload, per spec.md §4.7.
type ErrDiscard struct {
	Reason string
}

func (e *ErrDiscard) Error() string { return "importcache: discarding cache: " + e.Reason }

// Read loads and validates the cache at path, requiring its
// config_checksum to equal wantChecksum. Any structural problem
// (version mismatch, corrupt record, trailing bytes, checksum mismatch)
// returns *ErrDiscard rather than a generic error, so callers can treat
// every such case identically: discard and reload.
func Read(path, wantChecksum string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrDiscard{Reason: "no cache file present"}
		}
		return nil, fmt.Errorf("importcache: open %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	prelude := []byte(versionPrelude())
	got := make([]byte, len(prelude))
	if _, err := io.ReadFull(br, got); err != nil {
		return nil, &ErrDiscard{Reason: "truncated or missing version prelude"}
	}
	if !bytes.Equal(got, prelude) {
		return nil, &ErrDiscard{Reason: fmt.Sprintf("version prelude mismatch: got %q", got)}
	}

	zr, err := zstd.NewReader(br)
	if err != nil {
		return nil, &ErrDiscard{Reason: "corrupt zstd frame"}
	}
	defer zr.Close()

	var r Record
	if err := gob.NewDecoder(zr).Decode(&r); err != nil {
		return nil, &ErrDiscard{Reason: fmt.Sprintf("corrupt record: %v", err)}
	}

	var trailing [1]byte
	if n, _ := zr.Read(trailing[:]); n > 0 {
		return nil, &ErrDiscard{Reason: "trailing bytes after record"}
	}

	if r.ConfigChecksum != wantChecksum {
		return nil, &ErrDiscard{Reason: "config checksum mismatch"}
	}
	return &r, nil
}

// Path returns the on-disk cache location for a git directory (spec.md
// §6: "<git-dir>/toprepo/import-cache.bincode").
func Path(gitDir string) string {
	return filepath.Join(gitDir, "toprepo", "import-cache.bincode")
}

// RepoNameKey renders a RepoName the way Record.Repos keys it, so
// internal/loader and internal/coordinator agree on the same string
// form when packing and unpacking a Record.
func RepoNameKey(r reponame.RepoName) string { return r.String() }
