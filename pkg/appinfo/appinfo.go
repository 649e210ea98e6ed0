// Package appinfo reports the application version, host OS, and remotely
// tunable configuration.
package appinfo

import (
	"fmt"
	"os"
	"runtime"

	"github.com/Masterminds/semver/v3"

	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

// NormalizeVersion parses v as semver and returns its canonical form
// ("v1.2" becomes "1.2.0").
func NormalizeVersion(v string) (string, error) {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return "", fmt.Errorf("invalid app version %q: %w", v, err)
	}
	return parsed.String(), nil
}

// OSInfo describes the running host with Node-style names.
func OSInfo() *ipc.OSInfo {
	hostname, _ := os.Hostname()
	return &ipc.OSInfo{
		Arch:     nodeArch(runtime.GOARCH),
		Platform: nodePlatform(runtime.GOOS),
		Release:  kernelRelease(),
		Hostname: hostname,
	}
}

func nodePlatform(goos string) string {
	if goos == "windows" {
		return "win32"
	}
	return goos
}

func nodeArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x64"
	case "386":
		return "ia32"
	default:
		return goarch
	}
}
