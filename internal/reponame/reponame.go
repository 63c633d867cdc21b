// Package reponame implements the repo-name and path types shared across
// the loader, expander and splitter: an opaque RepoName (Top or a named
// submodule), a byte-safe Path, and the refs/namespaces/<name>/… reference
// layout that is the persistence contract with git (spec.md §6).
package reponame

import (
	"fmt"
	"strings"
)

// Kind discriminates the two RepoName variants.
type Kind int

const (
	KindTop Kind = iota
	KindSub
)

// topName is the reserved name for the super-repository's own namespace.
const topName = "top"

// RepoName is either Top or SubRepo(name), per spec.md §3.
type RepoName struct {
	kind Kind
	name string // empty when kind == KindTop
}

// Top is the super-repository's RepoName.
var Top = RepoName{kind: KindTop}

// SubRepo constructs a RepoName for a named submodule repository.
//
// A literal name of "top" is rejected by NewSubRepo (but accepted here,
// collapsing to Top) to match New's forgiving parsing of external input;
// construct via NewSubRepo when the caller must reject that collision.
func SubRepo(name string) RepoName {
	if name == topName {
		return Top
	}
	return RepoName{kind: KindSub, name: name}
}

// NewSubRepo constructs a RepoName for a submodule, rejecting the reserved
// "top" name outright since it would collide with RepoName.Top.
func NewSubRepo(name string) (RepoName, error) {
	if name == "" {
		return RepoName{}, fmt.Errorf("reponame: empty submodule repo name")
	}
	if name == topName {
		return RepoName{}, fmt.Errorf("reponame: %q is reserved for the top repository", topName)
	}
	return RepoName{kind: KindSub, name: name}, nil
}

// New parses a plain repo name, where "top" means the super-repository.
func New(s string) RepoName {
	if s == topName {
		return Top
	}
	return RepoName{kind: KindSub, name: s}
}

// IsTop reports whether this RepoName is the super-repository.
func (r RepoName) IsTop() bool { return r.kind == KindTop }

// SubName returns the submodule name and true, or ("", false) for Top.
func (r RepoName) SubName() (string, bool) {
	if r.kind == KindTop {
		return "", false
	}
	return r.name, true
}

// String renders the canonical name: "top" or the submodule name.
func (r RepoName) String() string {
	if r.kind == KindTop {
		return topName
	}
	return r.name
}

// refNamespacePrefix is the prefix under which spec.md §6 requires every
// source repository's refs to live: refs/namespaces/<repo-name>/…
const refNamespacePrefix = "refs/namespaces/"

// RefPrefix returns "refs/namespaces/<name>/".
func (r RepoName) RefPrefix() string {
	return refNamespacePrefix + r.String() + "/"
}

// FromRef extracts a RepoName from a fully-qualified ref of the form
// refs/namespaces/<name>/<rest>, returning the RepoName and the remaining
// ref suffix (including its leading slash stripped).
func FromRef(fullname string) (RepoName, string, error) {
	rest, ok := strings.CutPrefix(fullname, refNamespacePrefix)
	if !ok {
		return RepoName{}, "", fmt.Errorf("reponame: %q is not a toprepo namespaced ref", fullname)
	}
	name, suffix, ok := strings.Cut(rest, "/")
	if !ok {
		return RepoName{}, "", fmt.Errorf("reponame: %q is too short to contain a namespace and ref", fullname)
	}
	return New(name), suffix, nil
}

// Less gives RepoName a total order: Top first, then submodules
// lexicographically. Used to make mono-commit tree-update emission order
// (spec.md §4.5 step 4) and cache serialization deterministic.
func Less(a, b RepoName) bool {
	if a.kind != b.kind {
		return a.kind == KindTop
	}
	return a.name < b.name
}

// Path is a repository-relative path. It is never reinterpreted as text:
// git paths are arbitrary byte strings, so comparisons and storage use the
// raw bytes rather than any string-normalizing operation.
type Path []byte

// NewPath copies a byte slice into a Path.
func NewPath(b []byte) Path {
	p := make(Path, len(b))
	copy(p, b)
	return p
}

// PathFromString constructs a Path from a string for call sites that only
// have a textual path available (e.g. CLI flags, test fixtures).
func PathFromString(s string) Path {
	return NewPath([]byte(s))
}

func (p Path) String() string {
	return string(p)
}

// Equal reports whether two paths are byte-identical.
func (p Path) Equal(other Path) bool {
	return string(p) == string(other)
}

// Join appends a child segment to a directory path, inserting "/" unless
// the receiver is empty (repository root).
func (p Path) Join(child string) Path {
	if len(p) == 0 {
		return PathFromString(child)
	}
	return PathFromString(string(p) + "/" + child)
}

// HasPrefixDir reports whether p is child, or a descendant of, dir: either
// p equals dir, or p starts with dir followed by a "/". Used when grouping
// split file changes by innermost enclosing submodule (spec.md §4.6 step 2,
// §8 "path grouping").
func (p Path) HasPrefixDir(dir Path) bool {
	if len(dir) == 0 {
		return true // repository root is a prefix of everything
	}
	if !strings.HasPrefix(string(p), string(dir)) {
		return false
	}
	if len(p) == len(dir) {
		return true
	}
	return p[len(dir)] == '/'
}

// PathLess orders paths lexicographically by raw bytes.
func PathLess(a, b Path) bool {
	return string(a) < string(b)
}
