//go:build windows

package controller

// CleanupStaleInstances is a no-op on Windows; stale process discovery
// relies on pgrep, which is not available there.
func CleanupStaleInstances() {}
