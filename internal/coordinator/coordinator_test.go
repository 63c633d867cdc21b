package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/config"
	"github.com/meroton/git-toprepo/internal/expander"
	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/loader"
	"github.com/meroton/git-toprepo/internal/monograph"
	"github.com/meroton/git-toprepo/internal/obslog"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
	"github.com/meroton/git-toprepo/internal/thingraph"
)

func testOID(b byte) oid.OID {
	var raw [20]byte
	raw[19] = b
	id, err := oid.FromBytes(raw[:])
	if err != nil {
		panic(err)
	}
	return id
}

type emptyRefs struct{}

func (emptyRefs) ListRefs(reponame.RepoName) (map[string]oid.OID, error) { return nil, nil }

type noBlobs struct{}

func (noBlobs) Blob(oid.OID) ([]byte, error) { return nil, nil }

type noTrees struct{}

func (noTrees) TreeID(oid.OID) (oid.OID, error) { return oid.Zero, nil }

func noOpen(context.Context, fastexport.Revisions) (loader.ExportSource, error) {
	panic("not reached: no positive revisions in an emptyRefs fixture")
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	envs := map[reponame.RepoName]RepoEnv{
		reponame.Top: {Refs: emptyRefs{}, Blobs: noBlobs{}, Trees: noTrees{}, Open: noOpen},
	}
	return New(cfg, obslog.NewStderr(obslog.FailFast), envs)
}

func TestFetchWithNoRefsLoadsNothing(t *testing.T) {
	c := newTestCoordinator(t)
	n, err := c.Fetch(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

type fakeSink struct {
	emitted []*monograph.MonoRepoCommit
	next    byte
}

func (s *fakeSink) EmitCommit(c *monograph.MonoRepoCommit, _ []expander.TreeUpdate, _ string) error {
	s.next++
	c.CommitID = testOID(s.next)
	s.emitted = append(s.emitted, c)
	return nil
}

func TestRecombineExpandsEveryUnexpandedTopCommit(t *testing.T) {
	c := newTestCoordinator(t)

	root := thingraph.NewRoot(testOID(1), testOID(101))
	top, _ := c.Repo(reponame.Top)
	require.NoError(t, top.Add(root))

	sink := &fakeSink{}
	n, err := c.Recombine(sink)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, sink.emitted, 1)

	// A second call is idempotent: the top commit is already recorded.
	n, err = c.Recombine(sink)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
