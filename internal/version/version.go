// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"log/slog"
	"runtime"
)

// populated with -ldflags "-X .../internal/version.version=..."
var (
	version   string
	buildTime string
	gitBranch string
	gitCommit string
)

// VersionInfo is the build metadata of the running binary
type VersionInfo struct {
	Version   string
	BuildTime string
	GitBranch string
	GitCommit string

	GoVersion string
	GoOS      string
	GoArch    string
}

// Info returns the version information
func Info() VersionInfo {
	return VersionInfo{
		Version:   orUnknown(version),
		BuildTime: orUnknown(buildTime),
		GitBranch: orUnknown(gitBranch),
		GitCommit: orUnknown(gitCommit),

		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("raplstat %s (commit %s, branch %s, built %s, %s %s/%s)",
		v.Version, v.GitCommit, v.GitBranch, v.BuildTime, v.GoVersion, v.GoOS, v.GoArch)
}

// LogValue implements slog.LogValuer
func (v VersionInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", v.Version),
		slog.String("commit", v.GitCommit),
		slog.String("branch", v.GitBranch),
		slog.String("built", v.BuildTime),
		slog.String("go", v.GoVersion),
	)
}
