// Package version holds build information stamped in with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/overtake.report/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the release tag of the obsrec build
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String describes the build on one line.
func String() string {
	return fmt.Sprintf("obsrec %s (%s, built %s)", Version, GitSHA, BuildTime)
}
