// Package fastexport streams a `git fast-export` child process and parses
// its output into the restricted entry grammar git-toprepo needs (spec.md
// §4.1): Commit and Reset entries, with marks resolved against an
// accumulated mark→oid table so parents can be referenced before their
// object id is otherwise known.
package fastexport

import (
	"fmt"
	"time"

	"github.com/meroton/git-toprepo/internal/oid"
)

// Signature is an author or committer line: "Name <email> <epoch> <tz>".
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// ParentRef names a commit referenced as a `from`/`merge` parent, resolved
// to a concrete OID by the time it reaches the caller (marks are resolved
// internally by Reader).
type ParentRef struct {
	OID oid.OID
}

// ChangeKind discriminates a file-change line.
type ChangeKind int

const (
	ChangeModify ChangeKind = iota
	ChangeDelete
)

// FileChange is one `M <mode> <hash> <path>` or `D <path>` line.
type FileChange struct {
	Kind ChangeKind
	Mode string  // e.g. "100644", "100755", "120000", "160000"; empty for Delete
	OID  oid.OID // zero for Delete
	Path []byte  // raw path bytes, never reinterpreted as text
}

// IsGitlink reports whether this change points at a submodule commit.
func (c FileChange) IsGitlink() bool {
	return c.Kind == ChangeModify && c.Mode == "160000"
}

// Commit is one `commit <ref>` record.
type Commit struct {
	// Branch is the full ref name the commit was exported on, or a hex
	// commit id when exported only because of
	// --reference-excluded-parents (no ref points directly at it).
	Branch string
	// Mark is this commit's fast-export mark (":N"), always present for
	// git fast-export's own output.
	Mark int
	// OriginalOID is the commit's id in the source repository, emitted by
	// --show-original-ids and exactly the id git-toprepo indexes on.
	OriginalOID oid.OID
	Author      *Signature // optional; absent commits inherit Committer
	Committer   Signature
	Encoding    string // optional, e.g. "ISO-8859-1"
	Message     []byte
	From        *ParentRef // first parent, absent for a root commit
	Merges      []ParentRef
	FileChanges []FileChange
}

// Parents returns From followed by Merges as a single parent list, the
// shape internal/thingraph and internal/expander consume.
func (c *Commit) Parents() []oid.OID {
	parents := make([]oid.OID, 0, 1+len(c.Merges))
	if c.From != nil {
		parents = append(parents, c.From.OID)
	}
	for _, m := range c.Merges {
		parents = append(parents, m.OID)
	}
	return parents
}

// Reset is a `reset <ref>` record. Resets without a `from` line are
// skipped by the reader (spec.md §4.1) and never surface as entries.
type Reset struct {
	Ref  string
	From oid.OID
}

// EntryKind discriminates an Entry.
type EntryKind int

const (
	EntryCommit EntryKind = iota
	EntryReset
)

// Entry is one parsed fast-export record.
type Entry struct {
	Kind   EntryKind
	Commit *Commit
	Reset  *Reset
}

// UnsupportedCommandError is returned when the stream contains a command
// outside the restricted subset this package understands: `C` (copy),
// `R` (rename), `deleteall`, or `N` (note). Handling these is explicitly a
// Non-goal (spec.md §1).
type UnsupportedCommandError struct {
	Command string
	Line    string
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("fastexport: unsupported command %q: %q", e.Command, e.Line)
}

// GrammarError is returned for any other malformed-stream condition:
// missing mandatory fields, an unresolvable mark, or an unexpected EOF
// inside a commit record.
type GrammarError struct {
	Context string
	Line    string
}

func (e *GrammarError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("fastexport: %s", e.Context)
	}
	return fmt.Sprintf("fastexport: %s: %q", e.Context, e.Line)
}
