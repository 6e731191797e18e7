// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/lidarhumanremoval/Lidar-Human-Removal/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for `lidarset version`.
func String() string {
	return fmt.Sprintf("lidarset %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
