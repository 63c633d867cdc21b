// Package splitter implements spec.md §4.6: it inverts the expander by
// walking a fast-exported range of mono commits, grouping each commit's
// file changes by the innermost enclosing submodule, and synthesizing
// one push commit per group via git fast-import — ready for the bounded
// concurrent `git push` step that follows.
package splitter

import (
	"fmt"

	"github.com/meroton/git-toprepo/internal/config"
	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/fastimport"
	"github.com/meroton/git-toprepo/internal/monograph"
	"github.com/meroton/git-toprepo/internal/oid"
)

// ImportWriter is the subset of *fastimport.Writer the splitter drives,
// narrowed to an interface so its grouping and parent-resolution logic
// can be unit tested without spawning git.
type ImportWriter interface {
	AllocMark() int
	WriteCommit(fastimport.CommitInput) error
	RequestMark(mark int) error
	DrainMarks() error
	MarkOID(mark int) (oid.OID, bool)
}

// PushTarget is one synthesized per-repo commit, ready to push.
type PushTarget struct {
	PushURL  string
	Topic    string
	HasTopic bool
	CommitID oid.OID
	Parents  []oid.OID
}

// markTarget is a PushTarget still waiting on its commit's mark to
// resolve to a concrete id.
type markTarget struct {
	mark     int
	pushURL  string
	topic    string
	hasTopic bool
	parents  []oid.OID
}

// Splitter synthesizes one push commit per (path, repo) group across a
// range of exported mono commits, per spec.md §4.6 steps 2-4.
type Splitter struct {
	graph      *monograph.Graph
	repos      *config.Config
	topPushURL string
	writer     ImportWriter

	// importedByOrig remembers, for a group's "represents" id (the
	// submodule or top commit this push synthesized content for), which
	// mark that content was written under this session — so a later
	// commit touching the same path chains off the freshly pushed
	// commit rather than the stale upstream one (spec.md §4.6 step 4).
	importedByOrig map[oid.OID]int
	marks          []markTarget
}

// New constructs a Splitter. graph must already hold every mono commit
// the exported range references, including their parents.
func New(graph *monograph.Graph, repos *config.Config, topPushURL string, writer ImportWriter) *Splitter {
	return &Splitter{
		graph:          graph,
		repos:          repos,
		topPushURL:     topPushURL,
		writer:         writer,
		importedByOrig: make(map[oid.OID]int),
	}
}

// ProcessCommit implements spec.md §4.6 steps 2-4 for one exported mono
// commit: group its file changes, rewrite its message, resolve each
// group's parents, and synthesize the resulting push commit.
func (s *Splitter) ProcessCommit(c *fastexport.Commit) error {
	mono, ok := s.graph.Commits[c.OriginalOID]
	if !ok {
		return fmt.Errorf("splitter: mono commit %s was not found in the loaded graph", c.OriginalOID)
	}
	parentMonos := make([]*monograph.MonoRepoCommit, 0, len(c.Parents()))
	for _, pid := range c.Parents() {
		pm, ok := s.graph.Commits[pid]
		if !ok {
			return fmt.Errorf("splitter: mono parent %s of %s was not found in the loaded graph", pid, c.OriginalOID)
		}
		parentMonos = append(parentMonos, pm)
	}

	if len(c.FileChanges) == 0 {
		return fmt.Errorf("splitter: pushing the empty commit %s is not supported", c.OriginalOID)
	}

	groups, order, err := groupFileChanges(mono, s.repos, s.topPushURL, c.FileChanges)
	if err != nil {
		return err
	}
	if len(groups) > 1 {
		split, err := splitMessageForTopicCheck(string(c.Message))
		if err != nil {
			return err
		}
		if !split {
			return fmt.Errorf("splitter: commit %s changes more than one repository without a Topic: footer", c.OriginalOID)
		}
	}

	paths := make([]string, 0, len(order))
	for _, key := range order {
		paths = append(paths, key.path)
	}
	messages, err := splitPushMessage(string(c.Message), paths)
	if err != nil {
		return err
	}

	for _, key := range order {
		g := groups[key]
		rm := messages[key.path]
		if err := s.emitGroup(c, parentMonos, g, rm); err != nil {
			return err
		}
	}
	return nil
}

// splitMessageForTopicCheck reports whether raw carries a Topic: footer
// anywhere, the precondition for a commit that touches more than one
// repository (spec.md §4.6 step 3).
func splitMessageForTopicCheck(raw string) (bool, error) {
	result, err := splitPushMessage(raw, []string{topGroupPath})
	if err != nil {
		return false, err
	}
	return result[topGroupPath].hasTopic, nil
}

// emitGroup resolves one group's parents and writes its push commit.
func (s *Splitter) emitGroup(c *fastexport.Commit, parentMonos []*monograph.MonoRepoCommit, g *fileGroup, rm rewrittenMessage) error {
	parentIDs := s.resolveGroupParents(g.key, parentMonos)
	if len(parentIDs) == 0 {
		if g.key.repoName.IsTop() {
			return fmt.Errorf("splitter: mono commit %s has no parent content outside of submodules, which is impossible", c.OriginalOID)
		}
		return fmt.Errorf("splitter: submodule %s at %q does not exist as a git-link in any parent of %s", g.key.repoName, g.key.path, c.OriginalOID)
	}

	mark := s.writer.AllocMark()
	in := fastimport.CommitInput{
		Ref:       g.key.repoName.RefPrefix() + "push",
		Mark:      mark,
		Author:    fastimport.NewSignature(signatureArgs(authorOf(c))),
		Committer: fastimport.NewSignature(signatureArgs(c.Committer)),
		Message:   []byte(rm.body),
	}
	if m, ok := s.importedByOrig[parentIDs[0]]; ok {
		in.FromMark = m
	} else {
		in.FromOID = parentIDs[0]
	}
	for _, p := range parentIDs[1:] {
		if m, ok := s.importedByOrig[p]; ok {
			in.MergeMarks = append(in.MergeMarks, m)
		} else {
			in.MergeOIDs = append(in.MergeOIDs, p)
		}
	}

	for _, fc := range g.changes {
		relPath := relativePath(g.key.path, fc.Path)
		if fc.Kind == fastexport.ChangeDelete {
			in.FileDeletes = append(in.FileDeletes, relPath)
			continue
		}
		in.FileModifies = append(in.FileModifies, fastimport.FileModify{
			Mode:    fc.Mode,
			DataRef: fc.OID.String(),
			Path:    relPath,
		})
	}

	if err := s.writer.WriteCommit(in); err != nil {
		return fmt.Errorf("splitter: writing push commit for %s at %q: %w", g.key.repoName, g.key.path, err)
	}
	if err := s.writer.RequestMark(mark); err != nil {
		return err
	}

	s.importedByOrig[g.origTargetID] = mark
	s.marks = append(s.marks, markTarget{
		mark:     mark,
		pushURL:  g.key.pushURL,
		topic:    rm.topic,
		hasTopic: rm.hasTopic,
		parents:  parentIDs,
	})
	return nil
}

// resolveGroupParents implements spec.md §4.6 step 4: for each mono
// parent, find the commit id that parent last recorded at this group's
// path (or the top bump, for the top group), deduplicating while
// preserving first-seen order.
func (s *Splitter) resolveGroupParents(key groupKey, parentMonos []*monograph.MonoRepoCommit) []oid.OID {
	seen := make(map[oid.OID]struct{}, len(parentMonos))
	var out []oid.OID
	for _, pm := range parentMonos {
		var id oid.OID
		var ok bool
		if key.repoName.IsTop() {
			id, ok = pm.TopBump, pm.HasTopBump
		} else {
			var content monograph.SubmoduleContent
			content, ok = currentSubmoduleOutcome(pm, key.path)
			id = content.OrigCommitID
		}
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Finish drains every outstanding mark request and returns the
// deduplicated push plan (spec.md §4.6 step 5).
func (s *Splitter) Finish() ([]PushTarget, error) {
	if err := s.writer.DrainMarks(); err != nil {
		return nil, fmt.Errorf("splitter: draining marks: %w", err)
	}
	targets := make([]PushTarget, 0, len(s.marks))
	for _, m := range s.marks {
		id, ok := s.writer.MarkOID(m.mark)
		if !ok {
			return nil, fmt.Errorf("splitter: mark :%d was never resolved", m.mark)
		}
		targets = append(targets, PushTarget{
			PushURL:  m.pushURL,
			Topic:    m.topic,
			HasTopic: m.hasTopic,
			CommitID: id,
			Parents:  m.parents,
		})
	}
	return Dedup(targets), nil
}

func authorOf(c *fastexport.Commit) fastexport.Signature {
	if c.Author != nil {
		return *c.Author
	}
	return c.Committer
}

// signatureArgs unpacks a fastexport.Signature into the four positional
// arguments fastimport.NewSignature wants, formatting its time zone the
// way git's own "+hhmm"/"-hhmm" offset notation does.
func signatureArgs(sig fastexport.Signature) (name, email string, epoch int64, tz string) {
	_, offset := sig.When.Zone()
	sign := byte('+')
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return sig.Name, sig.Email, sig.When.Unix(), fmt.Sprintf("%c%02d%02d", sign, offset/3600, (offset%3600)/60)
}
