//go:build windows

package client

import "syscall"

const triggerSignal = syscall.SIGHUP

func detachAttr() *syscall.SysProcAttr { return nil }
