//go:build windows

package lockfile

import "os"

// isProcessRunning relies on FindProcess opening a handle, which fails on
// Windows once the process has exited.
func isProcessRunning(pid int) (bool, string) {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, "process not found"
	}
	_ = process.Release()
	return true, ""
}
