package app

import "fmt"

// Build information populated via -ldflags at build time.
// Defaults are meaningful for local development and tests.
var (
    // BuildVersion is the semantic version of the built binary.
    BuildVersion = "0.0.0-dev"
    // BuildCommit is the VCS commit SHA associated with the build.
    BuildCommit  = "unknown"
    // BuildDate is the ISO-8601 timestamp of the build.
    BuildDate    = "unknown"
)

// UserAgent is sent with every page fetch unless configured otherwise.
func UserAgent() string {
    return fmt.Sprintf("tabscribe/%s (+https://github.com/hyperifyio/tabscribe)", BuildVersion)
}

// VersionString is printed by -version.
func VersionString() string {
    return fmt.Sprintf("tabscribe %s (commit %s, built %s)", BuildVersion, BuildCommit, BuildDate)
}
