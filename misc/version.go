// Package misc keeps build time information.
package misc

import (
	"path/filepath"
	"runtime/debug"
	"strings"
)

// Set with -ldflags "-X fontdl/misc.version=... -X fontdl/misc.gitHash=..."
var (
	appName = "fontdl"
	version = "dev"
	gitHash = ""
)

// GetAppName returns program name.
func GetAppName() string {
	return appName
}

// GetVersion returns program version.
func GetVersion() string {
	return version
}

// GetGitHash returns git revision program was built from, falling back to VCS
// information embedded by the go tool.
func GetGitHash() string {
	if len(gitHash) > 0 {
		return gitHash
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return "unknown"
}

// GetUserAgent returns default agent string used for HTTP requests when
// nothing else is configured.
func GetUserAgent() string {
	return strings.TrimSuffix(filepath.Base(appName), ".exe") + "/" + version
}
