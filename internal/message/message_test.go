package message_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/message"
)

func TestAssembleSinglePathGetsPlainFooter(t *testing.T) {
	origins := []message.Origin{
		{Path: "<top>", Message: "Fix thing\n", Status: message.Status{Kind: message.StatusCommit, CommitID: "1111111111111111111111111111111111111111"}},
	}
	out := message.Assemble(origins)
	require.Contains(t, out, "Fix thing")
	require.Contains(t, out, "Git-Toprepo-Ref: <top> 1111111111111111111111111111111111111111")
}

func TestAssembleFallsBackWhenAllBoring(t *testing.T) {
	origins := []message.Origin{
		{Path: "<top>", Message: "Update git submodules\n\nsome detail\n", Status: message.Status{Kind: message.StatusCommit, CommitID: "1111111111111111111111111111111111111111"}},
	}
	out := message.Assemble(origins)
	require.Contains(t, out, "Update git submodules")
}

func TestStatusStringRoundTrip(t *testing.T) {
	cases := []message.Status{
		{Kind: message.StatusCommit, CommitID: "1111111111111111111111111111111111111111"},
		{Kind: message.StatusSubmodule, CommitID: "2222222222222222222222222222222222222222"},
		{Kind: message.StatusNotFound, CommitID: "3333333333333333333333333333333333333333"},
		{Kind: message.StatusUnknownSubmodule, CommitID: "4444444444444444444444444444444444444444"},
		{Kind: message.StatusRegressed, CommitID: "5555555555555555555555555555555555555555"},
		{Kind: message.StatusRemoved},
	}
	for _, c := range cases {
		require.Equal(t, c, message.ParseStatus(c.String()))
	}
}

func TestAssembleThenSplitRoundTripsSingleMessage(t *testing.T) {
	origins := []message.Origin{
		{Path: "<top>", Message: "Bump things\n", Status: message.Status{Kind: message.StatusCommit, CommitID: "1111111111111111111111111111111111111111"}},
		{Path: "vendor/libfoo", Message: "Bump things\n", Status: message.Status{Kind: message.StatusCommit, CommitID: "2222222222222222222222222222222222222222"}},
	}
	composed := message.Assemble(origins)
	result, err := message.Split(composed)
	require.NoError(t, err)
	require.Equal(t, "Bump things", result.ByPath["<top>"])
	require.Equal(t, "Bump things", result.ByPath["vendor/libfoo"])
}

func TestAssembleThenSplitRoundTripsDistinctMessages(t *testing.T) {
	origins := []message.Origin{
		{Path: "<top>", Message: "Super change\n", Status: message.Status{Kind: message.StatusCommit, CommitID: "1111111111111111111111111111111111111111"}},
		{Path: "vendor/libfoo", Message: "Sub change\n", Status: message.Status{Kind: message.StatusCommit, CommitID: "2222222222222222222222222222222222222222"}},
	}
	composed := message.Assemble(origins)
	result, err := message.Split(composed)
	require.NoError(t, err)
	require.Equal(t, "Super change", result.ByPath["<top>"])
	require.Equal(t, "Sub change", result.ByPath["vendor/libfoo"])
}

func TestSplitRejectsDuplicateTopicInOneParagraph(t *testing.T) {
	msg := "Subject\n\nBody\nTopic: one\nTopic: two\nGit-Toprepo-Ref: <top> 1111111111111111111111111111111111111111\n"
	_, err := message.Split(msg)
	require.Error(t, err)
	var dup *message.DuplicateTopicError
	require.ErrorAs(t, err, &dup)
}
