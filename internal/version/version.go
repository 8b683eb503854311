// Package version provides build-time metadata for the rate limiting service.
// The variables are populated via -ldflags at build time.
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	// Version is the semantic version or git commit hash (e.g., "v1.0.0" or "a1b2c3d").
	// Set via: -ldflags "-X ratelimiter/internal/version.Version=..."
	Version = "unknown"

	// BuildDate is the ISO 8601 UTC timestamp when the binary was built.
	BuildDate = "unknown"

	// GitCommit is the git commit SHA of the source code.
	GitCommit = "unknown"
)

// Info holds build metadata and per-process identity.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns build metadata and runtime information.
// InstanceID distinguishes replicas that share one counter store; it is
// generated once per process.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   hostname(),
		}
	})
	return info
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

// String formats version info for CLI display.
func (i Info) String() string {
	return fmt.Sprintf("ratelimiter %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}
