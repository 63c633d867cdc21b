package splitter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meroton/git-toprepo/internal/gitcmd"
)

// noNewChangesSentinel is the remote rejection spec.md §4.6 step 6
// reclassifies as success: the target already has this exact content.
const noNewChangesSentinel = "no new changes"

// Pusher runs one `git push` invocation for a single PushTarget. It is
// satisfied by GitPusher in production and a fake in tests.
type Pusher interface {
	Push(ctx context.Context, target PushTarget, remoteRef string) error
}

// GitPusher runs `git push <url> [-o topic=<topic>] <commit>:<remote_ref>`
// in RepoPath, the shared object store every namespaced repo lives in.
type GitPusher struct {
	RepoPath string
}

// Push implements Pusher.
func (p GitPusher) Push(ctx context.Context, target PushTarget, remoteRef string) error {
	args := []string{"push", target.PushURL}
	if target.HasTopic {
		args = append(args, "-o", "topic="+target.Topic)
	}
	args = append(args, fmt.Sprintf("%s:%s", target.CommitID, remoteRef))

	_, err := gitcmd.New(ctx, p.RepoPath, args...).Output()
	if err != nil {
		if strings.Contains(err.Error(), noNewChangesSentinel) {
			return nil
		}
		return err
	}
	return nil
}

// PushAll runs every target's push with bounded concurrency (spec.md
// §4.6 step 6, a deliberate generalization of the strictly sequential
// pushing this was distilled from). A failed push does not abort the
// others; the caller gets the total failure count and, if non-zero, an
// error summarizing it.
func PushAll(ctx context.Context, targets []PushTarget, remoteRef string, pusher Pusher, concurrency int) (int, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	failed := 0
	for _, t := range targets {
		t := t
		g.Go(func() error {
			if err := pusher.Push(gctx, t, remoteRef); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failed, err
	}
	if failed > 0 {
		return failed, fmt.Errorf("splitter: git push failed %d time(s)", failed)
	}
	return 0, nil
}
