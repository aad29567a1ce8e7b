// Package version reports the build version of supportbot.
//
//nolint:revive
package version

import (
	"runtime/debug"
	"sync"
)

// Overridden with -ldflags "-X github.com/memohai/supportbot/internal/version.Version=...".
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

// Info is the resolved build metadata.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

var (
	once     sync.Once
	resolved Info
)

// Get returns build metadata, falling back to the VCS stamp embedded by the go tool.
func Get() Info {
	once.Do(func() {
		resolved = Info{Version: Version, Commit: CommitHash, BuildTime: BuildTime}
		if resolved.Commit != "" {
			return
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				resolved.Commit = setting.Value
			case "vcs.time":
				if resolved.BuildTime == "" {
					resolved.BuildTime = setting.Value
				}
			}
		}
	})
	return resolved
}

// String formats the info as "v1.2.3 (abcdef0)".
func (i Info) String() string {
	if i.Commit == "" {
		return i.Version
	}
	short := i.Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return i.Version + " (" + short + ")"
}

// GetInfo returns the formatted version string.
func GetInfo() string {
	return Get().String()
}
