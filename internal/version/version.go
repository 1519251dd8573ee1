// Package version holds the build version stamped into workspace manifests.
package version

// Version is overridden at build time with
// -ldflags "-X github.com/codefionn/meetvault/internal/version.Version=...".
var Version = "0.3.0"
