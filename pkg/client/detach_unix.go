//go:build !windows

package client

import "syscall"

// triggerSignal asks the agent for an immediate cycle.
const triggerSignal = syscall.SIGUSR1

// detachAttr starts the agent in its own session so terminal signals sent
// to the CLI do not reach it.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
