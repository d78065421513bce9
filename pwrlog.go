// Package pwrlog holds code for a battery-powered voltage and current
// logger: the device core, its simulator and the host tools.
package pwrlog // import "github.com/itohio/pwrlog"

import (
	"fmt"
	"runtime/debug"
)

const root = "github.com/itohio/pwrlog"

// Version returns the version of pwrlog and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}

// Revision returns the VCS revision the running binary was built from,
// suffixed with "+dirty" for modified trees, or the module version when no
// VCS information was stamped.
func Revision() string {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	return revisionOf(b)
}

func revisionOf(b *debug.BuildInfo) string {
	var rev string
	dirty := false
	for _, s := range b.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		if v, _ := versionOf(b); v != "" {
			return v
		}
		return "unknown"
	}
	if dirty {
		rev += "+dirty"
	}
	return rev
}
