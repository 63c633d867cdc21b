// Package fastimport drives a `git fast-import` child process (spec.md
// §4.2): it assigns marks to the commits it writes, tracks the oid each
// mark resolves to once fast-import reports it back via `get-mark`, and
// bounds how many `get-mark` requests may be in flight at once so the
// writer can never deadlock against the OS pipe buffer while waiting on
// responses it hasn't read yet.
package fastimport

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/meroton/git-toprepo/internal/gitcmd"
	"github.com/meroton/git-toprepo/internal/oid"
)

// maxInFlightMarks bounds outstanding `get-mark` requests (spec.md §4.2):
// fast-import buffers responses on its stdout pipe, and an unbounded
// backlog of unread responses can deadlock the writer against the OS
// pipe buffer once the buffer fills.
const maxInFlightMarks = 64

// Writer feeds commands to a `git fast-import` subprocess and resolves
// the marks it allocates to concrete OIDs as fast-import reports them.
type Writer struct {
	w        *gitcmd.Writer
	br       *bufio.Reader
	nextMark int
	pending  []int // marks with an outstanding get-mark request, FIFO
	resolved map[int]oid.OID
}

// importArgs mirrors spec.md §4.2: fast-import is driven interactively so
// the writer can interleave `get-mark` requests with new commits.
var importArgs = []string{
	"fast-import",
	"--quiet",
	"--done",
	"--force",
}

// NewWriter spawns `git fast-import` against repoPath.
func NewWriter(ctx context.Context, repoPath string) (*Writer, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("fastimport: create mark-response pipe: %w", err)
	}
	w, err := gitcmd.NewWriter(ctx, &gitcmd.RunOpts{RepoPath: repoPath, Stdout: stdoutW}, importArgs...)
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("fastimport: start git fast-import: %w", err)
	}
	_ = stdoutW.Close() // the child holds its own copy of the write end
	return &Writer{
		w:        w,
		br:       bufio.NewReader(stdoutR),
		nextMark: 1,
		resolved: make(map[int]oid.OID),
	}, nil
}

// AllocMark reserves the next mark id for a commit the caller is about to
// write via WriteCommit.
func (w *Writer) AllocMark() int {
	m := w.nextMark
	w.nextMark++
	return m
}

// CommitInput is everything WriteCommit needs to emit one `commit`
// record. Parents are either commits written earlier in this same stream
// (FromMark/MergeMarks) or commits that already exist in the repository
// (FromOID/MergeOIDs).
type CommitInput struct {
	Ref         string
	Mark        int
	Author      fastimportSignature
	Committer   fastimportSignature
	Message     []byte
	FromMark    int  // 0 means "no first parent" (root commit)
	FromOID     oid.OID // used instead of FromMark when the parent wasn't written in this stream
	MergeMarks  []int
	MergeOIDs   []oid.OID
	FileModifies []FileModify
	FileDeletes  []string
}

// fastimportSignature avoids importing internal/fastexport just for the
// Signature shape; the two packages mirror the same wire format
// independently, matching their independent subprocess lifetimes.
type fastimportSignature struct {
	Name  string
	Email string
	Epoch int64
	TZ    string
}

// FileModify is one file change within a commit record. Exactly one of
// DataRef or Inline should be set: DataRef names an existing blob (a
// 40-hex object id, or ":N" referencing an earlier `blob` mark); Inline
// carries the blob's content directly in the `M ... inline` form. The
// expander's sink and the splitter both use DataRef, naming objects that
// already exist in the repository.
type FileModify struct {
	Mode    string
	DataRef string
	Inline  []byte
	Path    string
}

func (s fastimportSignature) format() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.Epoch, s.TZ)
}

// WriteCommit emits one commit record for in.
func (w *Writer) WriteCommit(in CommitInput) error {
	var b strings.Builder
	fmt.Fprintf(&b, "commit %s\n", in.Ref)
	fmt.Fprintf(&b, "mark :%d\n", in.Mark)
	fmt.Fprintf(&b, "author %s\n", in.Author.format())
	fmt.Fprintf(&b, "committer %s\n", in.Committer.format())
	fmt.Fprintf(&b, "data %d\n", len(in.Message))
	b.Write(in.Message)
	b.WriteByte('\n')

	switch {
	case in.FromMark != 0:
		fmt.Fprintf(&b, "from :%d\n", in.FromMark)
	case !in.FromOID.IsZero():
		fmt.Fprintf(&b, "from %s\n", in.FromOID.String())
	}
	for _, m := range in.MergeMarks {
		fmt.Fprintf(&b, "merge :%d\n", m)
	}
	for _, o := range in.MergeOIDs {
		fmt.Fprintf(&b, "merge %s\n", o.String())
	}
	for _, fm := range in.FileModifies {
		if fm.DataRef != "" {
			fmt.Fprintf(&b, "M %s %s %s\n", fm.Mode, fm.DataRef, fm.Path)
			continue
		}
		fmt.Fprintf(&b, "M %s inline %s\n", fm.Mode, fm.Path)
		fmt.Fprintf(&b, "data %d\n", len(fm.Inline))
		b.Write(fm.Inline)
		b.WriteByte('\n')
	}
	for _, path := range in.FileDeletes {
		fmt.Fprintf(&b, "D %s\n", path)
	}
	b.WriteByte('\n')

	_, err := w.w.Write([]byte(b.String()))
	return err
}

// WriteReset emits a `reset <ref>` record pointing at mark.
func (w *Writer) WriteReset(ref string, mark int) error {
	_, err := w.w.Write([]byte(fmt.Sprintf("reset %s\nfrom :%d\n\n", ref, mark)))
	return err
}

// WriteResetOID emits a `reset <ref>` record pointing directly at an
// already-resolved object id, for re-pointing a ref once its mark has
// already been drained and discarded.
func (w *Writer) WriteResetOID(ref string, id oid.OID) error {
	_, err := w.w.Write([]byte(fmt.Sprintf("reset %s\nfrom %s\n\n", ref, id.String())))
	return err
}

// RequestMark queues a `get-mark :N` request. The resolved OID becomes
// available from MarkOID only after a matching call to DrainMarks (or
// Finish), honoring the maxInFlightMarks backpressure bound.
func (w *Writer) RequestMark(mark int) error {
	if len(w.pending) >= maxInFlightMarks {
		if err := w.drainOne(); err != nil {
			return err
		}
	}
	if _, err := w.w.Write([]byte(fmt.Sprintf("get-mark :%d\n", mark))); err != nil {
		return err
	}
	w.pending = append(w.pending, mark)
	return nil
}

// drainOne reads exactly one pending get-mark response.
func (w *Writer) drainOne() error {
	if len(w.pending) == 0 {
		return nil
	}
	mark := w.pending[0]
	w.pending = w.pending[1:]
	line, err := w.br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("fastimport: reading get-mark response for :%d: %w", mark, err)
	}
	hex := strings.TrimSuffix(line, "\n")
	id, err := oid.NewChecked(hex)
	if err != nil {
		return fmt.Errorf("fastimport: malformed get-mark response %q: %w", hex, err)
	}
	w.resolved[mark] = id
	return nil
}

// DrainMarks blocks until every outstanding get-mark request has a
// resolved OID.
func (w *Writer) DrainMarks() error {
	for len(w.pending) > 0 {
		if err := w.drainOne(); err != nil {
			return err
		}
	}
	return nil
}

// MarkOID returns the OID a previously-drained mark resolved to.
func (w *Writer) MarkOID(mark int) (oid.OID, bool) {
	id, ok := w.resolved[mark]
	return id, ok
}

// Finish drains any outstanding marks, signals `done`, and waits for
// fast-import to exit.
func (w *Writer) Finish() error {
	if err := w.DrainMarks(); err != nil {
		return err
	}
	if _, err := w.w.Write([]byte("done\n")); err != nil {
		return err
	}
	return w.w.CloseAndWait()
}

// Abort kills the subprocess without waiting for a clean exit, for use
// when an earlier error has already made the stream unrecoverable.
func (w *Writer) Abort() error {
	return w.w.Kill()
}

// NewSignature builds the fastimportSignature the writer needs from a
// name, email, unix epoch seconds, and git's "+hhmm"/"-hhmm" tz string.
func NewSignature(name, email string, epoch int64, tz string) fastimportSignature {
	return fastimportSignature{Name: name, Email: email, Epoch: epoch, TZ: tz}
}

// parseMarkArg is used by callers translating a fastexport.ParentRef mark
// back into a plain int, kept here so both packages agree on the ":N"
// textual convention without importing one another.
func parseMarkArg(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, ":"))
	if err != nil {
		return 0, fmt.Errorf("fastimport: malformed mark %q: %w", s, err)
	}
	return n, nil
}
