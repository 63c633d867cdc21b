// Command toprepo projects a super-repository and its git submodules into
// a single navigable monorepo history, and splits monorepo commits back
// into per-submodule commits for pushing.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/meroton/git-toprepo/pkg/version"
)

// App is the root kong command tree, grounded on the teacher's
// cmd/zeta/main.go App struct: one embedded Globals plus a field per
// subcommand, each a `cmd:"..."`-tagged struct with its own Run method.
type App struct {
	Globals
	Clone     CloneCmd     `cmd:"" help:"Clone a super-repository and expand it into a monorepo"`
	Fetch     FetchCmd     `cmd:"" help:"Fetch new commits and incrementally expand them"`
	Recombine RecombineCmd `cmd:"" help:"Re-run expansion over the current cache without fetching"`
	Push      PushCmd      `cmd:"" help:"Split a monorepo commit range and push it to its origin repositories"`
	Config    ConfigCmd    `cmd:"" help:"Inspect or scaffold the .gittoprepo.toml configuration"`
	Info      InfoCmd      `cmd:"" help:"Answer cheap queries about the local cache"`
}

// Globals are the flags every subcommand shares.
type Globals struct {
	Verbose   bool        `short:"v" help:"Has no effect: INFO-level events are always logged alongside WARN/ERROR"`
	KeepGoing bool        `help:"Report every error instead of stopping at the first"`
	Progress  bool        `help:"Show progress bars for fetch and expansion"`
	CWD       string      `help:"Run as if invoked from this directory" type:"path"`
	Version   VersionFlag `help:"Print version information and exit" name:"version"`
}

// VersionFlag prints the build version and exits, the same BeforeApply
// short-circuit the teacher's pkg/command.VersionFlag uses.
type VersionFlag bool

func (v VersionFlag) Decode(ctx *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                         { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	app.Stdout.Write([]byte(version.String() + "\n"))
	app.Exit(0)
	return nil
}

// ExitCodeError lets a Run method request a specific process exit code,
// mirroring the teacher's *zeta.ErrExitCode.
type ExitCodeError struct {
	Code    int
	Message string
}

func (e *ExitCodeError) Error() string { return e.Message }

func main() {
	var app App
	parser, err := kong.New(&app,
		kong.Name("toprepo"),
		kong.Description("Project a super-repository and its submodules into a single monorepo history"),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	if err != nil {
		panic(err) // malformed App struct tags; a build-time bug, not a usage error
	}

	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage:", err)
		os.Exit(2) // spec: exit code 2 is reserved for CLI usage errors
	}

	err = ctx.Run(&app.Globals)
	if err == nil {
		os.Exit(0)
	}
	if ec, ok := err.(*ExitCodeError); ok {
		fmt.Fprintln(os.Stderr, ec.Message)
		os.Exit(ec.Code)
	}
	fmt.Fprintln(os.Stderr, "ERROR:", err)
	os.Exit(1)
}
