package dedup_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/dedup"
	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/oid"
)

func sampleCommit(committerEmail string) *fastexport.Commit {
	return &fastexport.Commit{
		Committer: fastexport.Signature{Name: "C", Email: committerEmail},
		Message:   []byte("hello\n"),
		FileChanges: []fastexport.FileChange{
			{Kind: fastexport.ChangeModify, Mode: "100644", OID: oid.New("1111111111111111111111111111111111111111"), Path: []byte("a.txt")},
		},
	}
}

func TestWithoutCommitterIDIgnoresCommitter(t *testing.T) {
	a := dedup.WithoutCommitterID(sampleCommit("one@example.com"))
	b := dedup.WithoutCommitterID(sampleCommit("two@example.com"))
	require.Equal(t, a, b)
}

func TestWithoutCommitterIDDiffersOnMessage(t *testing.T) {
	c1 := sampleCommit("one@example.com")
	c2 := sampleCommit("one@example.com")
	c2.Message = []byte("different\n")
	require.NotEqual(t, dedup.WithoutCommitterID(c1), dedup.WithoutCommitterID(c2))
}
