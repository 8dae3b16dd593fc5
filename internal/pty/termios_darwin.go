//go:build darwin

package pty

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
)

func setsid() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
