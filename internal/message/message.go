// Package message implements commit-message assembly and split (spec.md
// §4.9): composing a mono commit message from per-path sub and super
// messages with a stable `Git-Toprepo-Ref:` footer schema, and undoing
// that composition when splitting a mono commit back into per-repo
// pushes.
package message

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// FooterKey is the footer line key every composed message carries.
const FooterKey = "Git-Toprepo-Ref"

// StatusKind discriminates a Git-Toprepo-Ref footer's status.
type StatusKind int

const (
	StatusCommit StatusKind = iota
	StatusSubmodule
	StatusNotFound
	StatusUnknownSubmodule
	StatusRegressed
	StatusRemoved
)

// Status is one footer line's right-hand side (spec.md §4.9).
type Status struct {
	Kind     StatusKind
	CommitID string // 40-hex; empty for StatusRemoved
}

// String renders the status the way it appears in a footer line.
func (s Status) String() string {
	switch s.Kind {
	case StatusCommit:
		return s.CommitID
	case StatusSubmodule:
		return s.CommitID + " (submodule)"
	case StatusNotFound:
		return s.CommitID + " not found"
	case StatusUnknownSubmodule:
		return s.CommitID + " unknown submodule"
	case StatusRegressed:
		return s.CommitID + " regressed"
	case StatusRemoved:
		return "removed"
	default:
		return s.CommitID
	}
}

var statusSuffixes = []struct {
	suffix string
	kind   StatusKind
}{
	{" (submodule)", StatusSubmodule},
	{" not found", StatusNotFound},
	{" unknown submodule", StatusUnknownSubmodule},
	{" regressed", StatusRegressed},
}

// ParseStatus parses a footer value back into a Status.
func ParseStatus(s string) Status {
	if s == "removed" {
		return Status{Kind: StatusRemoved}
	}
	for _, suf := range statusSuffixes {
		if rest, ok := strings.CutSuffix(s, suf.suffix); ok {
			return Status{Kind: suf.kind, CommitID: rest}
		}
	}
	return Status{Kind: StatusCommit, CommitID: s}
}

// topPath is the footer path written for the super repository (spec.md
// §4.9 calls it `"<top>"`).
const topPath = "<top>"

// boringPrefix is the Gerrit-generated heading dropped per spec.md §4.9
// step 2.
const boringPrefix = "Update git submodules\n"

// Origin is one path's contribution to an assembled mono message.
type Origin struct {
	Path    string // topPath for the super repository
	Message string // raw commit message, possibly empty
	Status  Status
}

func isBoring(msg string) bool {
	return strings.HasPrefix(msg, boringPrefix)
}

// Assemble composes a mono commit message from origins, per spec.md
// §4.9 Assembly steps 1-3.
func Assemble(origins []Origin) string {
	type group struct {
		message string
		paths   []string
	}

	byPath := make(map[string]Origin, len(origins))
	for _, o := range origins {
		byPath[o.Path] = o
	}

	var interesting []Origin
	var boringOrigins []Origin
	for _, o := range origins {
		if isBoring(o.Message) {
			boringOrigins = append(boringOrigins, o)
		} else {
			interesting = append(interesting, o)
		}
	}
	if len(interesting) == 0 {
		return boringPrefix + "\n" + footerBlock(origins)
	}

	groups := map[string]*group{}
	var order []string
	for _, o := range interesting {
		g, ok := groups[o.Message]
		if !ok {
			g = &group{message: o.Message}
			groups[o.Message] = g
			order = append(order, o.Message)
		}
		g.paths = append(g.paths, o.Path)
	}

	if len(order) == 1 && len(boringOrigins) == 0 {
		body := strings.TrimRight(groups[order[0]].message, "\n")
		return body + "\n\n" + footerBlock(origins)
	}

	sort.Slice(order, func(i, j int) bool {
		gi, gj := groups[order[i]], groups[order[j]]
		iIsSuper := containsPath(gi.paths, topPath)
		jIsSuper := containsPath(gj.paths, topPath)
		if iIsSuper != jIsSuper {
			return iIsSuper
		}
		if len(gi.paths) != len(gj.paths) {
			return len(gi.paths) > len(gj.paths)
		}
		return sortedFirst(gi.paths) < sortedFirst(gj.paths)
	})

	var b strings.Builder
	for i, msg := range order {
		g := groups[msg]
		if i > 0 {
			b.WriteString("\n") // footer block above already ends in "\n"; one more blank-lines it
		}
		b.WriteString(strings.TrimRight(g.message, "\n"))
		b.WriteString("\n\n")
		b.WriteString(footerBlockForPaths(byPath, g.paths))
	}
	if len(boringOrigins) > 0 {
		b.WriteString("\n")
		b.WriteString(footerBlock(boringOrigins))
	}
	return b.String()
}

func containsPath(paths []string, target string) bool {
	for _, p := range paths {
		if p == target {
			return true
		}
	}
	return false
}

func sortedFirst(paths []string) string {
	cp := append([]string(nil), paths...)
	sort.Strings(cp)
	return cp[0]
}

// footerBlock renders every origin's Git-Toprepo-Ref line, sorted by
// path for stability.
func footerBlock(origins []Origin) string {
	sorted := append([]Origin(nil), origins...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	var b strings.Builder
	for _, o := range sorted {
		fmt.Fprintf(&b, "%s: %s %s\n", FooterKey, o.Path, o.Status.String())
	}
	return b.String()
}

// footerBlockForPaths renders the footer lines for exactly the named
// paths, in path-sorted order (spec.md §4.9: "the footer lists all paths
// in a stable (path-sorted) order").
func footerBlockForPaths(byPath map[string]Origin, paths []string) string {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	var b strings.Builder
	for _, p := range sorted {
		o := byPath[p]
		fmt.Fprintf(&b, "%s: %s %s\n", FooterKey, o.Path, o.Status.String())
	}
	return b.String()
}

// footerLineRe matches a syntactically valid footer line per spec.md
// §4.9: `^[A-Za-z0-9-]+:` (non-empty key, no underscore).
var footerLineRe = regexp.MustCompile(`^[A-Za-z0-9-]+:\s?(.*)$`)

func footerKey(line string) (string, bool) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", false
	}
	key := line[:idx]
	if !footerLineRe.MatchString(line) {
		return "", false
	}
	return key, true
}

// SplitResult is the outcome of Split: per-path assigned messages, plus
// any residual message/topic for paths with no message of their own.
type SplitResult struct {
	ByPath       map[string]string
	Topics       map[string]string // path -> Topic:, when present in that path's footer paragraph
	Residual     string
	ResidualTopic string
}

// parserState is the five-state machine spec.md §4.9 Split describes.
type parserState int

const (
	stateBeforeSubject parserState = iota
	stateSubject
	stateBody
	stateMaybeFooter
	stateToprepoFooter
)

// DuplicateTopicError reports more than one Topic: line in one footer
// paragraph (spec.md §4.9: "an error").
type DuplicateTopicError struct {
	Paragraph string
}

func (e *DuplicateTopicError) Error() string {
	return fmt.Sprintf("message: multiple Topic: lines in one footer paragraph: %q", e.Paragraph)
}

// Split parses msg through the five-state machine and returns the
// per-path message assignment (spec.md §4.9 Split).
func Split(msg string) (*SplitResult, error) {
	result := &SplitResult{ByPath: make(map[string]string), Topics: make(map[string]string)}

	paragraphs := splitParagraphs(msg)
	state := stateBeforeSubject
	var currentBody strings.Builder
	var currentTopic string
	var haveTopic bool

	flushResidual := func() {
		result.Residual = strings.TrimSpace(currentBody.String())
		result.ResidualTopic = currentTopic
	}

	for _, para := range paragraphs {
		refs, topic, isFooter, err := parseFooterParagraph(para)
		if err != nil {
			return nil, err
		}
		switch state {
		case stateBeforeSubject:
			state = stateSubject
			fallthrough
		case stateSubject, stateBody:
			if isFooter && len(refs) > 0 {
				assignBody(result, refs, currentBody.String(), currentTopic)
				currentBody.Reset()
				currentTopic = ""
				haveTopic = false
				state = stateToprepoFooter
				continue
			}
			if currentBody.Len() > 0 {
				currentBody.WriteString("\n\n")
			}
			currentBody.WriteString(para)
			if topic != "" {
				if haveTopic {
					return nil, &DuplicateTopicError{Paragraph: para}
				}
				currentTopic = topic
				haveTopic = true
			}
			state = stateBody
		case stateToprepoFooter:
			if isFooter && len(refs) > 0 {
				assignBody(result, refs, currentBody.String(), currentTopic)
				currentBody.Reset()
				currentTopic = ""
				haveTopic = false
				continue
			}
			if currentBody.Len() > 0 {
				currentBody.WriteString("\n\n")
			}
			currentBody.WriteString(para)
			if topic != "" {
				if haveTopic {
					return nil, &DuplicateTopicError{Paragraph: para}
				}
				currentTopic = topic
				haveTopic = true
			}
			state = stateMaybeFooter
		case stateMaybeFooter:
			if isFooter && len(refs) > 0 {
				assignBody(result, refs, currentBody.String(), currentTopic)
				currentBody.Reset()
				currentTopic = ""
				haveTopic = false
				state = stateToprepoFooter
				continue
			}
			currentBody.WriteString("\n\n")
			currentBody.WriteString(para)
		}
	}
	flushResidual()
	return result, nil
}

func assignBody(result *SplitResult, refs []string, body, topic string) {
	trimmed := strings.TrimSpace(body)
	for _, path := range refs {
		result.ByPath[path] = trimmed
		if topic != "" {
			result.Topics[path] = topic
		}
	}
}

func splitParagraphs(msg string) []string {
	normalized := strings.ReplaceAll(msg, "\r\n", "\n")
	raw := strings.Split(normalized, "\n\n")
	var out []string
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

var topicLineRe = regexp.MustCompile(`(?m)^Topic:\s*(.*)$`)
var toprepoRefLineRe = regexp.MustCompile(`(?m)^` + FooterKey + `:\s*(\S+)\s+(.*)$`)

// parseFooterParagraph inspects one paragraph for Git-Toprepo-Ref and
// Topic lines, returning whether it is footer-shaped at all.
func parseFooterParagraph(para string) (refs []string, topic string, isFooter bool, err error) {
	lines := strings.Split(para, "\n")
	allFooterShaped := true
	topicCount := 0
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if _, ok := footerKey(line); !ok {
			allFooterShaped = false
			continue
		}
		if m := topicLineRe.FindStringSubmatch(line); m != nil {
			topicCount++
			topic = m[1]
		}
		if m := toprepoRefLineRe.FindStringSubmatch(line); m != nil {
			refs = append(refs, m[1])
		}
	}
	if topicCount > 1 {
		return nil, "", false, &DuplicateTopicError{Paragraph: para}
	}
	return refs, topic, allFooterShaped, nil
}
