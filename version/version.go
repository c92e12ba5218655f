// Package version carries build information stamped in via ldflags:
//
//	go build -ldflags "-X github.com/robertclapp/accessai-sub004/version.Version=v1.2.0 \
//	  -X github.com/robertclapp/accessai-sub004/version.CommitHash=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// Build information, set at build time
var (
	CommitHash = "dev"
	BuildTime  = "unknown"
	Version    = "dev"
)

// Info contains version and build information
type Info struct {
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Version    string `json:"version"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Version:    Version,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string
func (i Info) String() string {
	return fmt.Sprintf("accessai %s (commit %s, built %s)", i.Version, i.Short(), i.BuildTime)
}

// Short returns the abbreviated commit hash
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

// LogFields returns the build info as zap key/value pairs for the startup log line
func (i Info) LogFields() []interface{} {
	return []interface{}{
		"version", i.Version,
		"commit", i.Short(),
		"built", i.BuildTime,
		"go", i.GoVersion,
	}
}
