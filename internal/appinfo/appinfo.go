// Package appinfo reports the running build
package appinfo

import (
	"os"
	"runtime"
	"runtime/debug"
	"sync"
)

// Info describes the running binary
type Info struct {
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	GoVersion string `json:"go_version"`
}

var (
	once sync.Once
	info Info
)

// Get returns the build information, resolved once.
// APP_VERSION wins over the module version recorded at build time.
func Get() Info {
	once.Do(func() {
		info = resolve(os.Getenv("APP_VERSION"), readBuildInfo)
	})
	return info
}

func readBuildInfo() (*debug.BuildInfo, bool) {
	return debug.ReadBuildInfo()
}

func resolve(envVersion string, read func() (*debug.BuildInfo, bool)) Info {
	result := Info{Version: "0.0.0-unknown", GoVersion: runtime.Version()}

	if bi, ok := read(); ok {
		if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			result.Version = bi.Main.Version
		}
		for _, setting := range bi.Settings {
			if setting.Key == "vcs.revision" {
				result.Revision = setting.Value
				if len(result.Revision) > 12 {
					result.Revision = result.Revision[:12]
				}
			}
		}
	}

	if envVersion != "" {
		result.Version = envVersion
	}
	return result
}
