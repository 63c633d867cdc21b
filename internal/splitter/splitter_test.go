package splitter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/fastimport"
	"github.com/meroton/git-toprepo/internal/monograph"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
)

type fakeImportWriter struct {
	nextMark  int
	commits   map[int]fastimport.CommitInput
	requested []int
	marks     map[int]oid.OID
}

func newFakeImportWriter() *fakeImportWriter {
	return &fakeImportWriter{commits: make(map[int]fastimport.CommitInput), marks: make(map[int]oid.OID)}
}

func (w *fakeImportWriter) AllocMark() int {
	w.nextMark++
	return w.nextMark
}

func (w *fakeImportWriter) WriteCommit(in fastimport.CommitInput) error {
	w.commits[in.Mark] = in
	return nil
}

func (w *fakeImportWriter) RequestMark(mark int) error {
	w.requested = append(w.requested, mark)
	return nil
}

func (w *fakeImportWriter) DrainMarks() error {
	for _, m := range w.requested {
		if _, ok := w.marks[m]; ok {
			continue
		}
		w.marks[m] = testOID(byte(200 + m))
	}
	return nil
}

func (w *fakeImportWriter) MarkOID(mark int) (oid.OID, bool) {
	id, ok := w.marks[mark]
	return id, ok
}

func TestProcessCommitSplitsAcrossTopAndSubmodule(t *testing.T) {
	topPrev := testOID(1)
	subPrev := testOID(9)
	libfoo := reponame.SubRepo("libfoo")

	parentMono := monograph.New(nil, map[string]monograph.ExpandedOrRemoved{
		"libfoo": {
			Kind: monograph.BumpOutcomeExpanded,
			Submodule: monograph.ExpandedSubmodule{
				Kind:    monograph.ExpandedOK,
				Content: monograph.SubmoduleContent{RepoName: libfoo, OrigCommitID: subPrev},
			},
		},
	})
	parentMono.SetTopBump(topPrev)
	parentMono.CommitID = topPrev

	thisTop := testOID(2)
	mono := monograph.New([]monograph.MonoRepoParent{{Kind: monograph.ParentMono, Mono: parentMono}}, nil)
	mono.SetTopBump(thisTop)
	mono.CommitID = thisTop

	graph := monograph.NewGraph()
	graph.Record(parentMono)
	graph.Record(mono)

	cfg := mustTestConfig(t, "[repo.libfoo]\nurls = [\"ssh://libfoo.git\"]\n")
	writer := newFakeImportWriter()
	s := New(graph, cfg, "ssh://top.git", writer)

	commit := &fastexport.Commit{
		OriginalOID: thisTop,
		From:        &fastexport.ParentRef{OID: topPrev},
		Committer:   fastexport.Signature{Name: "a", Email: "a@example.com"},
		Message:     []byte("Touch both\n\nTopic: both-repos\n"),
		FileChanges: []fastexport.FileChange{
			{Kind: fastexport.ChangeModify, Mode: "100644", OID: testOID(50), Path: []byte("README.md")},
			{Kind: fastexport.ChangeModify, Mode: "100644", OID: testOID(51), Path: []byte("libfoo/a.txt")},
		},
	}

	require.NoError(t, s.ProcessCommit(commit))
	targets, err := s.Finish()
	require.NoError(t, err)
	require.Len(t, targets, 2)

	byURL := make(map[string]PushTarget)
	for _, target := range targets {
		byURL[target.PushURL] = target
	}

	top := byURL["ssh://top.git"]
	require.Equal(t, []oid.OID{topPrev}, top.Parents)
	require.True(t, top.HasTopic)
	require.Equal(t, "both-repos", top.Topic)

	sub := byURL["ssh://libfoo.git"]
	require.Equal(t, []oid.OID{subPrev}, sub.Parents)
	require.True(t, sub.HasTopic)
}

func TestProcessCommitRejectsEmptyCommit(t *testing.T) {
	root := testOID(1)
	mono := monograph.New(nil, nil)
	mono.SetTopBump(root)
	mono.CommitID = root

	graph := monograph.NewGraph()
	graph.Record(mono)

	writer := newFakeImportWriter()
	s := New(graph, mustTestConfig(t, ""), "ssh://top.git", writer)

	commit := &fastexport.Commit{
		OriginalOID: root,
		Committer:   fastexport.Signature{Name: "a", Email: "a@example.com"},
		Message:     []byte("empty\n"),
	}
	require.Error(t, s.ProcessCommit(commit))
}

func TestProcessCommitRequiresTopicForMultipleRepos(t *testing.T) {
	libfoo := reponame.SubRepo("libfoo")
	parentMono := monograph.New(nil, map[string]monograph.ExpandedOrRemoved{
		"libfoo": {
			Kind: monograph.BumpOutcomeExpanded,
			Submodule: monograph.ExpandedSubmodule{
				Kind:    monograph.ExpandedOK,
				Content: monograph.SubmoduleContent{RepoName: libfoo, OrigCommitID: testOID(9)},
			},
		},
	})
	parentMono.SetTopBump(testOID(1))
	parentMono.CommitID = testOID(1)

	mono := monograph.New([]monograph.MonoRepoParent{{Kind: monograph.ParentMono, Mono: parentMono}}, nil)
	mono.SetTopBump(testOID(2))
	mono.CommitID = testOID(2)

	graph := monograph.NewGraph()
	graph.Record(parentMono)
	graph.Record(mono)

	cfg := mustTestConfig(t, "[repo.libfoo]\nurls = [\"ssh://libfoo.git\"]\n")
	s := New(graph, cfg, "ssh://top.git", newFakeImportWriter())

	commit := &fastexport.Commit{
		OriginalOID: testOID(2),
		From:        &fastexport.ParentRef{OID: testOID(1)},
		Committer:   fastexport.Signature{Name: "a", Email: "a@example.com"},
		Message:     []byte("no topic here\n"),
		FileChanges: []fastexport.FileChange{
			{Kind: fastexport.ChangeModify, Mode: "100644", OID: testOID(50), Path: []byte("README.md")},
			{Kind: fastexport.ChangeModify, Mode: "100644", OID: testOID(51), Path: []byte("libfoo/a.txt")},
		},
	}
	require.Error(t, s.ProcessCommit(commit))
}
