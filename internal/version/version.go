// Package version exposes the build identity of the airwave binary.
// Release builds inject Version, Commit and Date through -ldflags -X;
// anything built without them reports itself as a dev build.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// ApplicationName is the canonical binary name, used in logs, the CLI
// and the HTTP User-Agent.
const ApplicationName = "airwave"

// Injected at link time. Left at their defaults in dev builds.
var (
	// Version is a SemVer string; prereleases carry a
	// "-SNAPSHOT.<sha>" suffix.
	Version = "dev"

	// Commit is the full git SHA of the build.
	Commit = "unknown"

	// Date is the RFC3339 build timestamp.
	Date = "unknown"
)

// GoVersion is the toolchain the binary was compiled with.
var GoVersion = runtime.Version()

// Info is the structured build identity served by the status API.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo collects the build identity.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// shortCommit abbreviates the commit SHA for display, or returns ""
// when no real commit was injected.
func shortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	return Commit[:8]
}

// String renders the long form used at startup.
func String() string {
	info := GetInfo()
	if sha := shortCommit(); sha != "" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, sha, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)",
		ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short renders the one-line form used by --version.
func Short() string {
	if sha := shortCommit(); sha != "" {
		return fmt.Sprintf("%s %s (%s)", ApplicationName, Version, sha)
	}
	return fmt.Sprintf("%s %s", ApplicationName, Version)
}

// UserAgent renders the User-Agent header for outbound HTTP requests.
func UserAgent() string {
	return ApplicationName + "/" + Version
}

// IsSnapshot reports whether this is a dev or prerelease build.
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}

// IsRelease reports whether this is a tagged release build.
func IsRelease() bool {
	return !IsSnapshot()
}
