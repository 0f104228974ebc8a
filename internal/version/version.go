// Package version carries build information injected via ldflags
package version

import (
	"fmt"
	"runtime"
	"time"
)

// Build information set at compile time via
// -ldflags "-X gatewaycore/internal/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info describes the running binary
type Info struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime string    `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
	StartTime time.Time `json:"start_time"`
	Uptime    string    `json:"uptime"`
}

var startTime = time.Now()

// GetInfo returns build and uptime information
func GetInfo() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		StartTime: startTime,
		Uptime:    FormatUptime(time.Since(startTime)),
	}
}

// String returns a one-line version banner
func String() string {
	return fmt.Sprintf("gatewaycore %s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}

// UserAgent returns the User-Agent header for an outbound component
func UserAgent(component string) string {
	return "gatewaycore-" + component + "/" + Version
}

// FormatUptime renders d as "1d 2h 3m 4s", dropping leading zero units
func FormatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
