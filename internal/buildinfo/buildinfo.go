// Package buildinfo carries version identity stamped at build time.
package buildinfo

import "fmt"

// Version is set at build time via -ldflags.
var Version = "dev"

// Commit is set at build time via -ldflags.
var Commit = "unknown"

// Date is set at build time via -ldflags.
var Date = "unknown"

// Short returns a compact identifier suitable for log fields.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	return "dev"
}

// Full returns the long form printed by the version command.
func Full() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Short(), Commit, Date)
}
