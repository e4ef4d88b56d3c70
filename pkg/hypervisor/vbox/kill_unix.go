//go:build unix

package vbox

import "golang.org/x/sys/unix"

func killProcess(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}
