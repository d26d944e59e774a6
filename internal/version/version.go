// Package version holds the build identity of groovyls.
package version

import (
	"runtime"

	"golang.org/x/mod/semver"
)

// Set at build time:
// go build -ldflags "-X groovyls/internal/version.Version=1.0.0 -X groovyls/internal/version.Commit=abc123"
var (
	Version   = "0.9.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// BuildInfo is the machine-readable form of the version.
type BuildInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"buildDate" yaml:"buildDate"`
	GoVersion string `json:"goVersion" yaml:"goVersion"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the build info of the running binary.
func Get() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Info returns the version with a short commit suffix when known.
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns the multi-line version banner.
func Full() string {
	b := Get()
	return "groovyls " + b.Version + "\n" +
		"Commit: " + b.Commit + "\n" +
		"Built: " + b.BuildDate + "\n" +
		"Go: " + b.GoVersion + " " + b.Platform
}

// Valid reports whether Version is a semantic version.
func Valid() bool {
	return semver.IsValid("v" + Version)
}
