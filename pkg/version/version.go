// Package version carries build-time metadata, set via -ldflags at build
// time (the same seam hugescm's pkg/version uses for its own version
// string, minus the uname/telemetry reporting git-toprepo has no use
// for: it has no server banner and no opt-in telemetry agent).
package version

import (
	"fmt"
	"os"
	"path/filepath"
)

var (
	version     = "dev"
	buildCommit = "unknown"
	buildTime   = "unknown"
)

// String returns a one-line "<binary> <version> (<commit>), built <time>"
// header, the same shape GetVersionString prints in the teacher.
func String() string {
	return fmt.Sprintf("%s %s (%s), built %s", filepath.Base(os.Args[0]), version, buildCommit, buildTime)
}

// Number returns the semver-compatible version number alone.
func Number() string {
	return version
}

// Commit returns the commit hash the binary was built from.
func Commit() string {
	return buildCommit
}
