// Package progress wraps github.com/vbauerster/mpb/v8 the way hugescm's
// pkg/progress wraps its own progressbar dependency: a Bar that is a
// harmless no-op when quiet, so callers never need to branch on whether
// progress reporting is enabled.
package progress

import (
	"os"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Bar reports progress for one bounded unit of work — commits loaded,
// commits expanded, objects pushed.
type Bar struct {
	bar *mpb.Bar
}

// Group owns the terminal area every Bar in a single command invocation
// renders into.
type Group struct {
	progress *mpb.Progress
	quiet    bool
}

// NewGroup starts a progress group writing to stderr, or a quiet Group
// whose bars never render (the common case for non-interactive/CI runs,
// mirroring the teacher's NewBar(_, _, quiet bool) convention).
func NewGroup(quiet bool) *Group {
	if quiet {
		return &Group{quiet: true}
	}
	return &Group{progress: mpb.New(mpb.WithOutput(os.Stderr), mpb.WithWidth(40), mpb.WithRefreshRate(100*time.Millisecond))}
}

// NewBar starts a bounded bar titled name, counting up to total units.
func (g *Group) NewBar(name string, total int) *Bar {
	if g.quiet {
		return &Bar{}
	}
	bar := g.progress.AddBar(int64(total),
		mpb.PrependDecorators(decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight})),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
	)
	return &Bar{bar: bar}
}

// Increment advances the bar by n units.
func (b *Bar) Increment(n int) {
	if b.bar != nil {
		b.bar.IncrBy(n)
	}
}

// SetTotal updates the bar's total once the real count is known, used
// when the expander/loader discover the work size mid-stream.
func (b *Bar) SetTotal(total int) {
	if b.bar != nil {
		b.bar.SetTotal(int64(total), false)
	}
}

// Done marks the bar complete.
func (b *Bar) Done() {
	if b.bar != nil {
		b.bar.SetTotal(b.bar.Current(), true)
	}
}

// Wait blocks until every bar in the group has finished rendering.
func (g *Group) Wait() {
	if g.progress != nil {
		g.progress.Wait()
	}
}
