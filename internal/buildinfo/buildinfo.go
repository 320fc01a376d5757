// Package buildinfo reports the binary's version.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var version = "dev"

// SetVersion lets build scripts override the version.
func SetVersion(v string) {
	if v == "" {
		return
	}
	version = v
}

// Version returns the release version, the module version, or "dev".
func Version() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// String formats the version with the toolchain and platform.
func String() string {
	return fmt.Sprintf("omnicall %s (%s %s/%s)", Version(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
