// Package buildinfo holds version metadata stamped at build time via
// -ldflags "-X github.com/user/toolchat/internal/buildinfo.Version=...".
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

var startTime = time.Now()

// Info returns build and runtime details for status output.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"go_version": runtime.Version(),
		"uptime":     Uptime().String(),
	}
}

// Uptime returns the time since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("toolchat %s (%s, %s)", Version, GitCommit, runtime.Version())
}
