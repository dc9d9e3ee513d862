//go:build !windows

package process

import "syscall"

// KillTree sends SIGKILL to the process group led by pid, taking renderer
// and GPU helpers down with the browser.
func KillTree(pid int) {
	// Best-effort: the group is usually gone once the launcher killed it.
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
