// Package version carries build metadata set through -ldflags.
package version

import (
	"fmt"
	"runtime"
	"time"
)

var (
	Version   = "dev"                           // ex: v0.1.0
	Commit    = "none"                          // ex: abcd123
	BuildDate = time.Now().Format(time.RFC3339) // ex: 2025-08-11T18:42:00Z
	GoVersion = runtime.Version()               // go version
)

// UserAgent identifies the engine to the catalog service.
func UserAgent() string {
	return fmt.Sprintf("quickbasket-engine/%s (%s)", Version, Commit)
}

// Summary is the one-line build description logged at startup.
func Summary() string {
	return fmt.Sprintf("%s (commit=%s, built=%s, go=%s)", Version, Commit, BuildDate, GoVersion)
}
