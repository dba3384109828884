// Package version reports the watchd build.
package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
)

// Set at build time with -ldflags "-X .../internal/version.Version=...".
var (
	Version   = "dev"
	Built     = ""
	GitCommit = ""
)

type VersionInfo struct {
	Version   string `json:"version"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

var readBuildInfo = debug.ReadBuildInfo

// GetVersionInfo combines linker-set values with module build info. The
// linker values win when both are present.
func GetVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:   Version,
		Built:     Built,
		GitCommit: GitCommit,
	}
	if build, ok := readBuildInfo(); ok && build != nil {
		info.GoVersion = build.GoVersion
		if info.Version == "dev" && build.Main.Version != "" && build.Main.Version != "(devel)" {
			info.Version = build.Main.Version
		}
		for _, setting := range build.Settings {
			switch setting.Key {
			case "vcs.revision":
				if info.GitCommit == "" {
					info.GitCommit = setting.Value
				}
			case "vcs.time":
				if info.Built == "" {
					info.Built = setting.Value
				}
			}
		}
	}
	info.Major, info.Minor, info.Patch = parseSemver(info.Version)
	return info
}

func (info VersionInfo) String() string {
	var builder strings.Builder
	builder.WriteString("watchd ")
	builder.WriteString(info.Version)
	if info.GitCommit != "" {
		commit := info.GitCommit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		fmt.Fprintf(&builder, " (%s)", commit)
	}
	if info.Built != "" {
		fmt.Fprintf(&builder, " built %s", info.Built)
	}
	return builder.String()
}

// parseSemver reads "v1.2.3", "1.2.3-rc1" and similar. Unparseable parts are 0.
func parseSemver(value string) (int, int, int) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "v")
	if cut := strings.IndexAny(value, "-+"); cut >= 0 {
		value = value[:cut]
	}
	parts := strings.SplitN(value, ".", 3)
	numbers := [3]int{}
	for i, part := range parts {
		parsed, err := strconv.Atoi(part)
		if err != nil {
			return 0, 0, 0
		}
		numbers[i] = parsed
	}
	return numbers[0], numbers[1], numbers[2]
}
