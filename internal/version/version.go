// Package version holds build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release version of scansim
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for display and for scan run records.
func String() string {
	return fmt.Sprintf("scansim %s (%s, built %s)", Version, GitSHA, BuildTime)
}
