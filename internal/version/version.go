// Package version reports build information for the vellum binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/conneroisu/vellum/internal/version.Version=..."
var (
	Version   = "dev"
	GitCommit = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit,omitempty" yaml:"commit,omitempty"`
	Modified  bool   `json:"modified" yaml:"modified"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the build information, falling back to the VCS stamp the Go
// toolchain embeds when ldflags were not set.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	build, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && build.Main.Version != "" && build.Main.Version != "(devel)" {
		info.Version = build.Main.Version
	}
	for _, setting := range build.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = setting.Value
			}
		case "vcs.modified":
			info.Modified = setting.Value == "true"
		}
	}
	return info
}

// String returns a one-line version such as "v1.2.0 (abc1234)".
func (i Info) String() string {
	s := i.Version
	if len(i.Commit) >= 7 {
		s += fmt.Sprintf(" (%s)", i.Commit[:7])
	}
	if i.Modified {
		s += " (dirty)"
	}
	return s
}
