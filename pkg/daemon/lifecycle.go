// Package daemon runs the mirror agent as a long-lived process: PID file
// handling, the status file the CLI reads, and the Agent that wires the
// engine, scheduler and bookkeeping together.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAgentAlreadyRunning is returned when another agent owns the PID file.
var ErrAgentAlreadyRunning = errors.New("agent already running")

// WritePIDFile writes the current process ID to path, creating its
// directory.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPIDFile reads a PID from a file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file.
func RemovePIDFile(path string) error {
	return os.Remove(path)
}

// IsAgentRunning reports whether the PID file names a live process.
func IsAgentRunning(pidPath string) bool {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return false
	}
	return IsProcessRunning(pid)
}

// IsProcessRunning checks if a process with the given PID is running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// AcquirePIDFile claims the PID file for this process after clearing
// anything a dead agent left behind. The returned release function removes
// the PID file again.
func AcquirePIDFile(pidPath, statusPath, journalDir string) (release func(), err error) {
	if err := RecoverFromStaleAgent(pidPath, statusPath, journalDir); err != nil {
		return nil, err
	}
	if err := WritePIDFile(pidPath); err != nil {
		return nil, fmt.Errorf("writing pid file: %w", err)
	}
	return func() { _ = RemovePIDFile(pidPath) }, nil
}

// SignalAgent sends sig to the agent named by the PID file.
func SignalAgent(pidPath string, sig syscall.Signal) (int, error) {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return 0, err
	}
	if !IsProcessRunning(pid) {
		return pid, fmt.Errorf("agent (pid %d) is not running", pid)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, err
	}
	return pid, process.Signal(sig)
}
