// Package version reports the relay release and build details.
package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the release version with whitespace trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}

// Full returns the version with the Go toolchain and, when the binary was
// built from a VCS checkout, the short revision.
func Full() string {
	s := fmt.Sprintf("%s (%s", Get(), runtime.Version())
	if rev := revision(); rev != "" {
		s += ", " + rev
	}
	return s + ")"
}

func revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	dirty := false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			rev = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}
