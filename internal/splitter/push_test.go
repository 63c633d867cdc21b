package splitter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePusher struct {
	mu   sync.Mutex
	fail map[string]bool
	got  []PushTarget
}

func (p *fakePusher) Push(_ context.Context, target PushTarget, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, target)
	if p.fail[target.PushURL] {
		return errors.New("push rejected")
	}
	return nil
}

func TestPushAllCountsFailures(t *testing.T) {
	pusher := &fakePusher{fail: map[string]bool{"bad": true}}
	targets := []PushTarget{
		{PushURL: "good", CommitID: testOID(1)},
		{PushURL: "bad", CommitID: testOID(2)},
		{PushURL: "good", CommitID: testOID(3)},
	}

	failed, err := PushAll(context.Background(), targets, "refs/heads/main", pusher, 2)
	require.Error(t, err)
	require.Equal(t, 1, failed)
	require.Len(t, pusher.got, 3)
}

func TestPushAllAllSucceed(t *testing.T) {
	pusher := &fakePusher{}
	targets := []PushTarget{
		{PushURL: "good", CommitID: testOID(1)},
		{PushURL: "good", CommitID: testOID(2)},
	}

	failed, err := PushAll(context.Background(), targets, "refs/heads/main", pusher, 4)
	require.NoError(t, err)
	require.Equal(t, 0, failed)
}
