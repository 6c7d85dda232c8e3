// Package version holds build metadata, set with -ldflags -X at release time.
package version

import "fmt"

var (
	// Version is the release version.
	Version = "0.0.0"
	// GitCommit is the commit the binary was built from.
	GitCommit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// String formats the metadata for --version output.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
