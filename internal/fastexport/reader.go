package fastexport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/meroton/git-toprepo/internal/gitcmd"
	"github.com/meroton/git-toprepo/internal/oid"
)

// exportArgs is the exact flag set spec.md §4.1 requires, so every caller
// gets identical, reviewable export semantics.
var exportArgs = []string{
	"fast-export",
	"--no-data",
	"--use-done-feature",
	"--show-original-ids",
	"--reference-excluded-parents",
	"--signed-tags=strip",
	"--reencode=no",
	"--tag-of-filtered-object=drop",
}

// Reader is a lazy, finite, non-restartable sequence of Entry values read
// from one `git fast-export` invocation.
type Reader struct {
	proc   *gitcmd.Reader
	br     *bufio.Reader
	marks  map[int]oid.OID
	peeked string // one line of lookahead, "" when empty
	havePeek bool
	done   bool
	err    error
}

// Revisions selects what fast-export walks: Positive revs (refs or commit
// ids) are included, Negative revs are excluded (the `^rev` boundary).
// An empty Positive list with All set means `--all`.
type Revisions struct {
	All      bool
	Positive []string
	Negative []string
}

func (r Revisions) args() []string {
	if r.All {
		return []string{"--all"}
	}
	args := make([]string, 0, len(r.Positive)+len(r.Negative))
	args = append(args, r.Positive...)
	for _, n := range r.Negative {
		args = append(args, "^"+n)
	}
	return args
}

// NewReader spawns `git fast-export` in repoPath over the given revision
// range and returns a Reader ready to stream Entry values via Next.
func NewReader(ctx context.Context, repoPath string, revs Revisions) (*Reader, error) {
	args := append(append([]string{}, exportArgs...), revs.args()...)
	proc, err := gitcmd.NewReader(ctx, &gitcmd.RunOpts{RepoPath: repoPath}, args...)
	if err != nil {
		return nil, fmt.Errorf("fastexport: start git fast-export: %w", err)
	}
	return &Reader{
		proc:  proc,
		br:    bufio.NewReaderSize(proc, 64*1024),
		marks: make(map[int]oid.OID),
	}, nil
}

// Close terminates the underlying subprocess. Safe to call after the
// stream has been fully drained.
func (r *Reader) Close() error {
	return r.proc.Close()
}

// readLine reads one LF-terminated line, stripping the trailing newline.
// A non-empty line not terminated by LF (truncated stream) is a
// GrammarError; a clean EOF with no partial data is reported as io.EOF.
func (r *Reader) readLine() (string, error) {
	if r.havePeek {
		r.havePeek = false
		line := r.peeked
		r.peeked = ""
		return line, nil
	}
	line, err := r.br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if line == "" {
				return "", io.EOF
			}
			return "", &GrammarError{Context: "unterminated line at end of stream", Line: line}
		}
		return "", fmt.Errorf("fastexport: reading stream: %w", err)
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func (r *Reader) peekLine() (string, error) {
	if r.havePeek {
		return r.peeked, nil
	}
	line, err := r.readLine()
	if err != nil {
		return "", err
	}
	r.peeked = line
	r.havePeek = true
	return line, nil
}

// Next returns the next entry, or io.EOF once the stream is exhausted.
// Once Next returns a non-nil error the Reader must not be used again.
func (r *Reader) Next() (*Entry, error) {
	if r.done {
		return nil, r.err
	}
	entry, err := r.next()
	if err != nil {
		r.done = true
		r.err = err
	}
	return entry, err
}

func (r *Reader) next() (*Entry, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			continue
		}
		switch {
		case line == "done":
			return nil, io.EOF
		case strings.HasPrefix(line, "reset "):
			e, err := r.parseReset(line)
			if err != nil {
				return nil, err
			}
			if e == nil {
				continue // reset without `from`
			}
			return e, nil
		case strings.HasPrefix(line, "commit "):
			c, err := r.parseCommit(line)
			if err != nil {
				return nil, err
			}
			if c == nil {
				continue // skipped reset-without-from is handled in parseReset, not here
			}
			return &Entry{Kind: EntryCommit, Commit: c}, nil
		case strings.HasPrefix(line, "feature "), strings.HasPrefix(line, "option "):
			continue // declarations we don't need to act on
		case line == "C" || strings.HasPrefix(line, "C "),
			line == "R" || strings.HasPrefix(line, "R "),
			line == "deleteall",
			strings.HasPrefix(line, "N "):
			return nil, &UnsupportedCommandError{Command: firstWord(line), Line: line}
		default:
			return nil, &GrammarError{Context: "unrecognized top-level command", Line: line}
		}
	}
}

func firstWord(s string) string {
	if idx := strings.IndexByte(s, ' '); idx >= 0 {
		return s[:idx]
	}
	return s
}

// parseReset consumes a `reset <ref>` record. Resets without a `from` are
// skipped silently per spec.md §4.1: parseReset returns a nil Entry and a
// nil error for them.
func (r *Reader) parseReset(line string) (*Entry, error) {
	ref := strings.TrimPrefix(line, "reset ")
	next, err := r.peekLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &GrammarError{Context: "unexpected EOF after reset", Line: line}
		}
		return nil, err
	}
	if !strings.HasPrefix(next, "from ") {
		return nil, nil
	}
	r.havePeek = false // consume the peeked "from " line
	fromID, err := r.resolveRev(strings.TrimPrefix(next, "from "))
	if err != nil {
		return nil, err
	}
	return &Entry{Kind: EntryReset, Reset: &Reset{Ref: ref, From: fromID}}, nil
}

func (r *Reader) parseCommit(line string) (*Commit, error) {
	c := &Commit{Branch: strings.TrimPrefix(line, "commit ")}

	peek, err := r.peekLine()
	if err != nil {
		return nil, &GrammarError{Context: "unexpected EOF in commit header", Line: line}
	}
	if strings.HasPrefix(peek, "mark :") {
		r.havePeek = false
		mark, err := strconv.Atoi(strings.TrimPrefix(peek, "mark :"))
		if err != nil {
			return nil, &GrammarError{Context: "malformed mark", Line: peek}
		}
		c.Mark = mark
	}

	if err := r.expectOriginalOID(c); err != nil {
		return nil, err
	}

	if err := r.maybeParseAuthor(c); err != nil {
		return nil, err
	}
	if err := r.expectCommitter(c); err != nil {
		return nil, err
	}
	if err := r.maybeParseEncoding(c); err != nil {
		return nil, err
	}
	if err := r.expectData(c); err != nil {
		return nil, err
	}
	if err := r.maybeConsumeBlankLine(); err != nil {
		return nil, err
	}
	if err := r.maybeParseFrom(c); err != nil {
		return nil, err
	}
	if err := r.parseMerges(c); err != nil {
		return nil, err
	}
	if err := r.parseFileChanges(c); err != nil {
		return nil, err
	}

	if c.Mark != 0 {
		r.marks[c.Mark] = c.OriginalOID
	}
	return c, nil
}

func (r *Reader) expectOriginalOID(c *Commit) error {
	line, err := r.readLine()
	if err != nil {
		return &GrammarError{Context: "expected original-oid", Line: ""}
	}
	hex, ok := strings.CutPrefix(line, "original-oid ")
	if !ok {
		return &GrammarError{Context: "expected original-oid", Line: line}
	}
	id, err := oid.NewChecked(hex)
	if err != nil {
		return &GrammarError{Context: fmt.Sprintf("bad original-oid: %v", err), Line: line}
	}
	c.OriginalOID = id
	return nil
}

func (r *Reader) maybeParseAuthor(c *Commit) error {
	peek, err := r.peekLine()
	if err != nil {
		return &GrammarError{Context: "unexpected EOF before committer", Line: ""}
	}
	if rest, ok := strings.CutPrefix(peek, "author "); ok {
		r.havePeek = false
		sig, err := parseSignature(rest)
		if err != nil {
			return &GrammarError{Context: fmt.Sprintf("bad author line: %v", err), Line: peek}
		}
		c.Author = &sig
	}
	return nil
}

func (r *Reader) expectCommitter(c *Commit) error {
	line, err := r.readLine()
	if err != nil {
		return &GrammarError{Context: "expected committer", Line: ""}
	}
	rest, ok := strings.CutPrefix(line, "committer ")
	if !ok {
		return &GrammarError{Context: "expected committer", Line: line}
	}
	sig, err := parseSignature(rest)
	if err != nil {
		return &GrammarError{Context: fmt.Sprintf("bad committer line: %v", err), Line: line}
	}
	c.Committer = sig
	return nil
}

func (r *Reader) maybeParseEncoding(c *Commit) error {
	peek, err := r.peekLine()
	if err != nil {
		return &GrammarError{Context: "unexpected EOF before data", Line: ""}
	}
	if rest, ok := strings.CutPrefix(peek, "encoding "); ok {
		r.havePeek = false
		c.Encoding = rest
	}
	return nil
}

func (r *Reader) expectData(c *Commit) error {
	line, err := r.readLine()
	if err != nil {
		return &GrammarError{Context: "expected data", Line: ""}
	}
	lenStr, ok := strings.CutPrefix(line, "data ")
	if !ok {
		return &GrammarError{Context: "expected data", Line: line}
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil || n < 0 {
		return &GrammarError{Context: "malformed data length", Line: line}
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r.br, buf); err != nil {
			return &GrammarError{Context: "unexpected EOF reading commit message", Line: ""}
		}
	}
	c.Message = buf
	return nil
}

// maybeConsumeBlankLine swallows the optional blank line fast-export
// emits after a commit message before `from`/`merge`/file changes.
func (r *Reader) maybeConsumeBlankLine() error {
	peek, err := r.peekLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil // message was the last thing in the stream
		}
		return err
	}
	if peek == "" {
		r.havePeek = false
	}
	return nil
}

func (r *Reader) maybeParseFrom(c *Commit) error {
	peek, err := r.peekLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	rest, ok := strings.CutPrefix(peek, "from ")
	if !ok {
		return nil
	}
	r.havePeek = false
	id, err := r.resolveRev(rest)
	if err != nil {
		return err
	}
	c.From = &ParentRef{OID: id}
	return nil
}

func (r *Reader) parseMerges(c *Commit) error {
	for {
		peek, err := r.peekLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		rest, ok := strings.CutPrefix(peek, "merge ")
		if !ok {
			return nil
		}
		r.havePeek = false
		id, err := r.resolveRev(rest)
		if err != nil {
			return err
		}
		c.Merges = append(c.Merges, ParentRef{OID: id})
	}
}

func (r *Reader) parseFileChanges(c *Commit) error {
	for {
		peek, err := r.peekLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch {
		case peek == "":
			r.havePeek = false
			return nil
		case strings.HasPrefix(peek, "M "):
			r.havePeek = false
			fc, err := parseModify(peek)
			if err != nil {
				return err
			}
			c.FileChanges = append(c.FileChanges, fc)
		case strings.HasPrefix(peek, "D "):
			r.havePeek = false
			c.FileChanges = append(c.FileChanges, FileChange{
				Kind: ChangeDelete,
				Path: []byte(strings.TrimPrefix(peek, "D ")),
			})
		case peek == "C" || strings.HasPrefix(peek, "C "),
			peek == "R" || strings.HasPrefix(peek, "R "),
			peek == "deleteall",
			strings.HasPrefix(peek, "N "):
			return &UnsupportedCommandError{Command: firstWord(peek), Line: peek}
		default:
			// Not a file-change line: leave it peeked for the outer loop
			// (it's the start of the next commit/reset, or "done").
			return nil
		}
	}
}

func parseModify(line string) (FileChange, error) {
	rest := strings.TrimPrefix(line, "M ")
	mode, rest, ok := strings.Cut(rest, " ")
	if !ok {
		return FileChange{}, &GrammarError{Context: "malformed M line", Line: line}
	}
	hash, path, ok := strings.Cut(rest, " ")
	if !ok {
		return FileChange{}, &GrammarError{Context: "malformed M line", Line: line}
	}
	id, err := oid.NewChecked(hash)
	if err != nil {
		return FileChange{}, &GrammarError{Context: fmt.Sprintf("bad M hash: %v", err), Line: line}
	}
	return FileChange{Kind: ChangeModify, Mode: mode, OID: id, Path: []byte(path)}, nil
}

// resolveRev turns a `from`/`merge` operand — either ":N" (a mark) or a
// 40-hex commit id (emitted verbatim for excluded-parent commits thanks
// to --reference-excluded-parents) — into a concrete OID.
func (r *Reader) resolveRev(rev string) (oid.OID, error) {
	if mark, ok := strings.CutPrefix(rev, ":"); ok {
		n, err := strconv.Atoi(mark)
		if err != nil {
			return oid.Zero, &GrammarError{Context: "malformed mark reference", Line: rev}
		}
		id, ok := r.marks[n]
		if !ok {
			return oid.Zero, &GrammarError{Context: fmt.Sprintf("reference to unresolved mark :%d", n), Line: rev}
		}
		return id, nil
	}
	id, err := oid.NewChecked(rev)
	if err != nil {
		return oid.Zero, &GrammarError{Context: fmt.Sprintf("bad parent reference: %v", err), Line: rev}
	}
	return id, nil
}

func parseSignature(line string) (Signature, error) {
	emailStart := strings.LastIndexByte(line, '<')
	emailEnd := strings.LastIndexByte(line, '>')
	if emailStart < 0 || emailEnd < 0 || emailEnd < emailStart {
		return Signature{}, fmt.Errorf("no <email> found in %q", line)
	}
	name := strings.TrimRight(line[:emailStart], " ")
	email := line[emailStart+1 : emailEnd]
	sig := Signature{Name: name, Email: email}
	rest := strings.TrimSpace(line[emailEnd+1:])
	if rest == "" {
		return sig, nil
	}
	secondsStr, tz, ok := strings.Cut(rest, " ")
	if !ok {
		return sig, nil
	}
	seconds, err := strconv.ParseInt(secondsStr, 10, 64)
	if err != nil {
		return sig, nil
	}
	when := time.Unix(seconds, 0).UTC()
	if loc, err := parseGitTZ(tz); err == nil {
		when = when.In(loc)
	}
	sig.When = when
	return sig, nil
}

func parseGitTZ(tz string) (*time.Location, error) {
	if len(tz) != 5 {
		return nil, fmt.Errorf("bad timezone %q", tz)
	}
	sign := int64(1)
	switch tz[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return nil, fmt.Errorf("bad timezone sign in %q", tz)
	}
	hours, err := strconv.ParseInt(tz[1:3], 10, 64)
	if err != nil {
		return nil, err
	}
	mins, err := strconv.ParseInt(tz[3:5], 10, 64)
	if err != nil {
		return nil, err
	}
	offset := int(sign * (hours*3600 + mins*60))
	return time.FixedZone("", offset), nil
}
