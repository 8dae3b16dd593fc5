//go:build linux

package pty

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
)

func setsid() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
