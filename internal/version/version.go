package version

import (
	"fmt"
	"runtime"
)

// AppName is the product name reported by health checks and the CLI.
const AppName = "NOUS OS"

// APIVersion is the version of the HTTP function surface. It stays fixed
// across builds so clients can pin against it.
const APIVersion = "1.0.0"

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/nousos/nous/internal/version.Version=1.0.0
//	  -X github.com/nousos/nous/internal/version.Commit=abc123
//	  -X github.com/nousos/nous/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("nous %s (api %s, commit: %s, built: %s, %s/%s)",
		Version, APIVersion, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
