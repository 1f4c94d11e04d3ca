// Package version holds build metadata injected with -ldflags:
//
//	go build -ldflags "-X promptgate/internal/version.Version=v1.2.3 -X promptgate/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("promptgate %s (commit %s, built %s)", Version, Commit, Date)
}
