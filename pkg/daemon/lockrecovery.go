package daemon

import (
	"os"
	"path/filepath"

	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

// RecoverFromStaleAgent removes the PID file, status file and journal lock
// left by an agent that died without cleaning up. It returns
// ErrAgentAlreadyRunning if the recorded process is still alive, and nil if
// there was nothing to recover.
func RecoverFromStaleAgent(pidPath, statusPath, journalDir string) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return nil //nolint:nilerr // a missing or garbled PID file means no agent
	}

	if pid == os.Getpid() {
		return nil
	}
	if IsProcessRunning(pid) {
		return ErrAgentAlreadyRunning
	}

	logging.Get("daemon").Warn("cleaning up after stale agent", "stale_pid", pid)

	_ = os.Remove(pidPath)
	if statusPath != "" {
		_ = os.Remove(statusPath)
	}
	if journalDir != "" {
		_ = os.Remove(filepath.Join(journalDir, "LOCK"))
	}
	return nil
}
