package submittogether_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/splitter/submittogether"
)

func item(id, topic string, repo int) submittogether.Item[int] {
	return submittogether.Item[int]{ID: id, Topic: topic, HasTopic: topic != "", Repo: repo}
}

func TestOrderNoTopicKeepsEachCommitSeparate(t *testing.T) {
	a := item("first", "", 1)
	b := item("second", "", 2)

	got, err := submittogether.Order([]submittogether.Item[int]{a, b})
	require.NoError(t, err)
	require.Equal(t, [][]submittogether.Item[int]{{a}, {b}}, got)
}

func TestOrderOnlyTopicBatchesAcrossRepos(t *testing.T) {
	a := item("first", "topic", 1)
	b := item("second", "topic", 2)

	got, err := submittogether.Order([]submittogether.Item[int]{a, b})
	require.NoError(t, err)
	require.Equal(t, [][]submittogether.Item[int]{{a, b}}, got)
}

func TestOrderTopicInSameRepo(t *testing.T) {
	a := item("first", "topic", 2)
	b := item("second", "topic", 2)

	got, err := submittogether.Order([]submittogether.Item[int]{a, b})
	require.NoError(t, err)
	require.Equal(t, [][]submittogether.Item[int]{{a, b}}, got)
}

func TestOrderUnderTopic(t *testing.T) {
	u := item("under", "", 2)
	a := item("first", "topic", 1)
	b := item("second", "topic", 2)

	got, err := submittogether.Order([]submittogether.Item[int]{u, a, b})
	require.NoError(t, err)
	require.Equal(t, [][]submittogether.Item[int]{{u}, {a, b}}, got)
}

func TestOrderOverTopic(t *testing.T) {
	a := item("first", "topic", 1)
	b := item("second", "topic", 2)
	o := item("over", "", 2)

	got, err := submittogether.Order([]submittogether.Item[int]{a, b, o})
	require.NoError(t, err)
	require.Equal(t, [][]submittogether.Item[int]{{a, b}, {o}}, got)
}

func TestOrderTopicHamburger(t *testing.T) {
	a := item("first", "topic", 1)
	b := item("second", "topic", 2)
	m := item("middle", "", 2)
	c := item("fourth", "other_topic", 2)
	d := item("fifth", "other_topic", 3)

	got, err := submittogether.Order([]submittogether.Item[int]{a, b, m, c, d})
	require.NoError(t, err)
	require.Equal(t, [][]submittogether.Item[int]{{a, b}, {m}, {c, d}}, got)
}

func TestOrderTwoTopics(t *testing.T) {
	at := item("first_on_top", "other_topic", 1)
	bu := item("first_under", "topic", 2)
	bt := item("second_on_top", "other_topic", 2)
	cu := item("second_under", "topic", 3)

	got, err := submittogether.Order([]submittogether.Item[int]{at, bu, bt, cu})
	require.NoError(t, err)
	require.Equal(t, [][]submittogether.Item[int]{{bu, cu}, {at, bt}}, got)
}

func TestOrderStackedCommitsInSameTopic(t *testing.T) {
	a := item("under", "topic", 1)
	b := item("on_top", "topic", 1)
	c := item("other", "topic", 2)

	got, err := submittogether.Order([]submittogether.Item[int]{a, b, c})
	require.NoError(t, err)
	require.Equal(t, [][]submittogether.Item[int]{{a, b, c}}, got)
}

func TestOrderFailsWhenNonTopicCommitInterruptsAStackedTopic(t *testing.T) {
	a := item("under", "topic", 1)
	b := item("interloper", "", 1)
	c := item("on_top", "topic", 1)

	_, err := submittogether.Order([]submittogether.Item[int]{a, b, c})
	require.Error(t, err)
}

func TestOrderEmptyInput(t *testing.T) {
	got, err := submittogether.Order[int](nil)
	require.NoError(t, err)
	require.Nil(t, got)
}
