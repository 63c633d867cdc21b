package main

import (
	"fmt"

	"github.com/meroton/git-toprepo/internal/expander"
	"github.com/meroton/git-toprepo/internal/fastimport"
	"github.com/meroton/git-toprepo/internal/monograph"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
)

// monoSink implements expander.Sink against a real fast-import
// subprocess: every synthesized mono commit is written under a private
// scratch ref (fast-import requires every commit record to name one)
// and its mark is resolved synchronously, so the expander's graph.Record
// call (in Expander.ExpandTop) can key on a real object id immediately, per
// monograph's "CommitID assigned lazily" contract. The caller is
// responsible for pointing the user-facing branch refs at the resulting
// commit ids once expansion finishes.
type monoSink struct {
	writer     *fastimport.Writer
	envs       map[reponame.RepoName]*gitEnv
	scratchRef string
}

func newMonoSink(writer *fastimport.Writer, envs map[reponame.RepoName]*gitEnv) *monoSink {
	return &monoSink{writer: writer, envs: envs, scratchRef: "refs/toprepo/scratch"}
}

// EmitCommit implements expander.Sink.
func (s *monoSink) EmitCommit(c *monograph.MonoRepoCommit, updates []expander.TreeUpdate, message string) error {
	repoName, origID, err := provenanceOf(c)
	if err != nil {
		return fmt.Errorf("monosink: %w", err)
	}
	env, ok := s.envs[repoName]
	if !ok {
		return fmt.Errorf("monosink: no git environment for %s", repoName)
	}
	author, committer, err := env.CommitSignatures(origID)
	if err != nil {
		return fmt.Errorf("monosink: reading signatures for %s %s: %w", repoName, origID, err)
	}

	mark := s.writer.AllocMark()
	in := fastimport.CommitInput{
		Ref:       s.scratchRef,
		Mark:      mark,
		Author:    fastimport.NewSignature(author.Name, author.Email, author.Epoch, author.TZ),
		Committer: fastimport.NewSignature(committer.Name, committer.Email, committer.Epoch, committer.TZ),
		Message:   []byte(message),
	}

	if len(c.Parents) > 0 {
		in.FromOID, err = parentOID(c.Parents[0])
		if err != nil {
			return fmt.Errorf("monosink: %w", err)
		}
		for _, p := range c.Parents[1:] {
			mergeOID, err := parentOID(p)
			if err != nil {
				return fmt.Errorf("monosink: %w", err)
			}
			in.MergeOIDs = append(in.MergeOIDs, mergeOID)
		}
	}

	for _, u := range updates {
		in.FileModifies = append(in.FileModifies, fastimport.FileModify{
			Mode:    "040000",
			DataRef: u.TreeID.String(),
			Path:    u.Path,
		})
	}

	if err := s.writer.WriteCommit(in); err != nil {
		return fmt.Errorf("monosink: writing commit: %w", err)
	}
	if err := s.writer.RequestMark(mark); err != nil {
		return fmt.Errorf("monosink: requesting mark: %w", err)
	}
	if err := s.writer.DrainMarks(); err != nil {
		return fmt.Errorf("monosink: resolving mark: %w", err)
	}
	id, ok := s.writer.MarkOID(mark)
	if !ok {
		return fmt.Errorf("monosink: mark :%d was never resolved", mark)
	}
	c.CommitID = id
	c.Mark = mark
	return nil
}

// provenanceOf picks the commit that best represents c's authorship: the
// top commit it bumps from, or — for an injected or reset commit with no
// top bump of its own — the single submodule commit it carries.
func provenanceOf(c *monograph.MonoRepoCommit) (reponame.RepoName, oid.OID, error) {
	if c.HasTopBump {
		return reponame.Top, c.TopBump, nil
	}
	for _, outcome := range c.SubmoduleBumps {
		if outcome.Kind != monograph.BumpOutcomeExpanded {
			continue
		}
		if outcome.Submodule.Kind == monograph.ExpandedOK || outcome.Submodule.Kind == monograph.ExpandedRegressed {
			return outcome.Submodule.Content.RepoName, outcome.Submodule.Content.OrigCommitID, nil
		}
	}
	return reponame.RepoName{}, oid.Zero, fmt.Errorf("commit carries no attributable top or submodule bump")
}

func parentOID(p monograph.MonoRepoParent) (oid.OID, error) {
	if p.Kind == monograph.ParentOriginalSubmod {
		return p.CommitID, nil
	}
	if p.Mono == nil || p.Mono.CommitID.IsZero() {
		return oid.Zero, fmt.Errorf("parent mono commit has no resolved id yet")
	}
	return p.Mono.CommitID, nil
}
