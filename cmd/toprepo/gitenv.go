package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/gitcmd"
	"github.com/meroton/git-toprepo/internal/loader"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
)

// gitEnv backs one RepoEnv with the real local object store at repoPath:
// for-each-ref for ref enumeration, a long-lived cat-file --batch process
// for blob/tree lookups, and fast-export for the commit stream itself.
type gitEnv struct {
	repoPath string
	catFile  *gitcmd.BatchCatFile
}

func newGitEnv(ctx context.Context, repoPath string) (*gitEnv, error) {
	cf, err := gitcmd.NewBatchCatFile(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("gitenv: %w", err)
	}
	return &gitEnv{repoPath: repoPath, catFile: cf}, nil
}

func (e *gitEnv) Close() error {
	return e.catFile.Close()
}

// ListRefs implements loader.RefEnumerator over the namespaced refs
// `refs/namespaces/<name>/…` a prior fetch populated.
func (e *gitEnv) ListRefs(repoName reponame.RepoName) (map[string]oid.OID, error) {
	cmd := gitcmd.New(context.Background(), e.repoPath, "for-each-ref", "--format=%(objectname) %(refname)", repoName.RefPrefix())
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("gitenv: for-each-ref %s: %w", repoName, err)
	}
	refs := make(map[string]oid.OID)
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		hex, name, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("gitenv: malformed for-each-ref line %q", line)
		}
		id, err := oid.NewChecked(hex)
		if err != nil {
			return nil, fmt.Errorf("gitenv: ref %s: %w", name, err)
		}
		refs[name] = id
	}
	return refs, nil
}

// Blob implements loader.BlobReader.
func (e *gitEnv) Blob(blobID oid.OID) ([]byte, error) {
	_, content, ok, err := e.catFile.Object(blobID.String())
	if err != nil {
		return nil, fmt.Errorf("gitenv: reading blob %s: %w", blobID, err)
	}
	if !ok {
		return nil, fmt.Errorf("gitenv: blob %s not found", blobID)
	}
	return content, nil
}

// TreeID implements loader.TreeResolver by reading the commit object
// directly, since fast-export never reports tree ids itself.
func (e *gitEnv) TreeID(commitID oid.OID) (oid.OID, error) {
	_, content, ok, err := e.catFile.Object(commitID.String())
	if err != nil {
		return oid.Zero, fmt.Errorf("gitenv: reading commit %s: %w", commitID, err)
	}
	if !ok {
		return oid.Zero, fmt.Errorf("gitenv: commit %s not found", commitID)
	}
	hex, err := gitcmd.CommitTree(content)
	if err != nil {
		return oid.Zero, fmt.Errorf("gitenv: commit %s: %w", commitID, err)
	}
	return oid.NewChecked(hex)
}

// Open implements loader.ExportOpener: *fastexport.Reader already
// satisfies loader.ExportSource.
func (e *gitEnv) Open(ctx context.Context, revs fastexport.Revisions) (loader.ExportSource, error) {
	return fastexport.NewReader(ctx, e.repoPath, revs)
}

// CommitSignatures reads commitID's author and committer lines straight
// off its raw object, the same way TreeID reads its tree line.
func (e *gitEnv) CommitSignatures(commitID oid.OID) (author, committer fastimportSig, err error) {
	_, content, ok, err := e.catFile.Object(commitID.String())
	if err != nil {
		return fastimportSig{}, fastimportSig{}, fmt.Errorf("gitenv: reading commit %s: %w", commitID, err)
	}
	if !ok {
		return fastimportSig{}, fastimportSig{}, fmt.Errorf("gitenv: commit %s not found", commitID)
	}
	rawAuthor, rawCommitter, err := gitcmd.CommitAuthorCommitter(content)
	if err != nil {
		return fastimportSig{}, fastimportSig{}, fmt.Errorf("gitenv: commit %s: %w", commitID, err)
	}
	a, err := parseSignatureLine(rawAuthor)
	if err != nil {
		return fastimportSig{}, fastimportSig{}, fmt.Errorf("gitenv: commit %s author: %w", commitID, err)
	}
	c, err := parseSignatureLine(rawCommitter)
	if err != nil {
		return fastimportSig{}, fastimportSig{}, fmt.Errorf("gitenv: commit %s committer: %w", commitID, err)
	}
	return a, c, nil
}

// fastimportSig is the plain-field mirror of fastimport's unexported
// signature type, built by parseSignatureLine and handed to
// fastimport.NewSignature at the call site.
type fastimportSig struct {
	Name  string
	Email string
	Epoch int64
	TZ    string
}

// parseSignatureLine parses a commit object's "Name <email> epoch tz"
// header value, the one wire shape both git's commit objects and
// fast-import's commit grammar share.
func parseSignatureLine(line string) (fastimportSig, error) {
	open := strings.LastIndex(line, "<")
	shut := strings.LastIndex(line, ">")
	if open < 0 || shut < open {
		return fastimportSig{}, fmt.Errorf("malformed signature %q", line)
	}
	name := strings.TrimSpace(line[:open])
	email := line[open+1 : shut]
	rest := strings.Fields(line[shut+1:])
	if len(rest) != 2 {
		return fastimportSig{}, fmt.Errorf("malformed signature %q", line)
	}
	epoch, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fastimportSig{}, fmt.Errorf("malformed signature epoch %q: %w", rest[0], err)
	}
	return fastimportSig{Name: name, Email: email, Epoch: epoch, TZ: rest[1]}, nil
}
