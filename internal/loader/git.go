package loader

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/gitcmd"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
)

// GitRefEnumerator lists a repository's namespaced refs via
// `git for-each-ref refs/namespaces/<name>/`.
type GitRefEnumerator struct {
	RepoPath string
}

func (g GitRefEnumerator) ListRefs(repoName reponame.RepoName) (map[string]oid.OID, error) {
	prefix := repoName.RefPrefix()
	out, err := gitcmd.New(context.Background(), g.RepoPath,
		"for-each-ref", "--format=%(objectname) %(refname)", prefix).Output()
	if err != nil {
		return nil, fmt.Errorf("loader: for-each-ref %s: %w", prefix, err)
	}
	refs := make(map[string]oid.OID)
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		hex, ref, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("loader: malformed for-each-ref line %q", line)
		}
		id, err := oid.NewChecked(hex)
		if err != nil {
			return nil, fmt.Errorf("loader: malformed for-each-ref oid %q: %w", hex, err)
		}
		refs[ref] = id
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("loader: reading for-each-ref output: %w", err)
	}
	return refs, nil
}

// BatchCatFileResolver adapts gitcmd.BatchCatFile into the loader's
// TreeResolver and BlobReader contracts, serializing every object read
// through one long-lived `git cat-file --batch` process.
type BatchCatFileResolver struct {
	batch *gitcmd.BatchCatFile
}

// NewBatchCatFileResolver spawns the batch process for repoPath.
func NewBatchCatFileResolver(ctx context.Context, repoPath string) (*BatchCatFileResolver, error) {
	b, err := gitcmd.NewBatchCatFile(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	return &BatchCatFileResolver{batch: b}, nil
}

func (r *BatchCatFileResolver) TreeID(commitID oid.OID) (oid.OID, error) {
	objType, content, ok, err := r.batch.Object(commitID.String())
	if err != nil {
		return oid.Zero, err
	}
	if !ok {
		return oid.Zero, fmt.Errorf("loader: commit %s not found resolving tree id", commitID)
	}
	if objType != "commit" {
		return oid.Zero, fmt.Errorf("loader: %s is a %s, not a commit", commitID, objType)
	}
	hex, err := gitcmd.CommitTree(content)
	if err != nil {
		return oid.Zero, fmt.Errorf("loader: %s: %w", commitID, err)
	}
	return oid.NewChecked(hex)
}

func (r *BatchCatFileResolver) Blob(blobID oid.OID) ([]byte, error) {
	objType, content, ok, err := r.batch.Object(blobID.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("loader: blob %s not found", blobID)
	}
	if objType != "blob" {
		return nil, fmt.Errorf("loader: %s is a %s, not a blob", blobID, objType)
	}
	return content, nil
}

// Close terminates the underlying batch process.
func (r *BatchCatFileResolver) Close() error {
	return r.batch.Close()
}

// OpenFastExport adapts fastexport.NewReader into an ExportOpener bound
// to repoPath.
func OpenFastExport(repoPath string) ExportOpener {
	return func(ctx context.Context, revs fastexport.Revisions) (ExportSource, error) {
		return fastexport.NewReader(ctx, repoPath, revs)
	}
}
