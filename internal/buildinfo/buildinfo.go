// Package buildinfo holds build-time metadata injected with -ldflags, e.g.
//
//	-X github.com/tphakala/gordon-go/internal/buildinfo.Version=v1.2.0
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the release tag of the build.
	Version = "dev"
	// BuildDate is when the binary was built.
	BuildDate = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	Revision  string `json:"revision,omitempty"`
	GoVersion string `json:"go_version"`
}

// Get returns the build metadata. Development builds report the VCS
// revision recorded by the Go toolchain when one is available.
func Get() Info {
	info := Info{
		Version:   Version,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				info.Revision = s.Value
			}
		}
	}
	return info
}

// String formats the metadata for --version output.
func (i Info) String() string {
	s := fmt.Sprintf("gordon-go %s (built %s, %s)", i.Version, i.BuildDate, i.GoVersion)
	if i.Revision != "" {
		s += " rev " + shortRevision(i.Revision)
	}
	return s
}

// UserAgent is sent with outbound API requests.
func UserAgent() string {
	return "gordon-go/" + Version
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
