// Package version holds the build version.
package version

// Version is overridden at build time with -ldflags "-X designsync/pkg/version.Version=...".
var Version = "v0.3.0"
