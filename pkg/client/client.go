// Package client controls a background syncsftpd agent from the CLI. The
// agent is found through its PID file and reports through its status file;
// commands are delivered as signals.
package client

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/antjowie/syncsftp/pkg/daemon"
	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
)

// AgentBinary is the name of the background agent executable.
const AgentBinary = "syncsftpd"

// ErrNotRunning is returned when no agent owns the PID file.
var ErrNotRunning = errors.New("agent is not running")

// Polling used while waiting for the agent to start or stop.
var (
	pollInterval = 100 * time.Millisecond
	startTimeout = 5 * time.Second
	stopTimeout  = 10 * time.Second
)

// Paths configures where the agent lives. Empty fields use defaults.
type Paths struct {
	Binary string // syncsftpd executable (auto-discovered if empty)
	Config string // config file handed to the agent
	PID    string
	Status string
}

// FromConfig takes the daemon paths from a loaded configuration.
func FromConfig(cfg config.Config, configFile string) Paths {
	return Paths{
		Binary: cfg.DaemonBinary,
		Config: configFile,
		PID:    cfg.PIDPath,
		Status: cfg.StatusPath,
	}
}

func (p Paths) withDefaults() Paths {
	if p.PID == "" {
		p.PID = config.DefaultPIDPath()
	}
	if p.Status == "" {
		p.Status = config.DefaultStatusPath()
	}
	return p
}

// Running reports whether the agent is alive.
func Running(paths Paths) bool {
	return daemon.IsAgentRunning(paths.withDefaults().PID)
}

// Status reads the agent's latest status file.
func Status(paths Paths) (*daemon.Status, error) {
	paths = paths.withDefaults()
	if !daemon.IsAgentRunning(paths.PID) {
		return nil, ErrNotRunning
	}
	status, err := daemon.ReadStatus(paths.Status)
	if err != nil {
		return nil, fmt.Errorf("reading agent status: %w", err)
	}
	return status, nil
}

// Start launches the agent in the background and waits until it reports
// ready or failed. Idempotent: returns nil if the agent is already running.
func Start(paths Paths) error {
	paths = paths.withDefaults()

	if daemon.IsAgentRunning(paths.PID) {
		return nil
	}

	binary, err := resolveBinary(paths.Binary)
	if err != nil {
		return fmt.Errorf("find %s: %w", AgentBinary, err)
	}

	_ = os.Remove(paths.Status)

	var args []string
	if paths.Config != "" {
		args = append(args, "--config", paths.Config)
	}

	// exec.Command, not CommandContext: the agent must outlive the caller.
	cmd := exec.Command(binary, args...) //nolint:gosec // binary path is validated
	cmd.Env = append(os.Environ(),
		config.EnvPrefix+"_DAEMON_PID_PATH="+paths.PID,
		config.EnvPrefix+"_DAEMON_STATUS_PATH="+paths.Status,
	)
	cmd.SysProcAttr = detachAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	deadline := time.Now().Add(startTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(pollInterval)

		status, err := daemon.ReadStatus(paths.Status)
		if err != nil {
			continue
		}
		switch status.State {
		case daemon.StateReady:
			return nil
		case daemon.StateError:
			return fmt.Errorf("agent failed to start: %s", status.Error)
		}
	}

	return errors.New("agent did not become ready within timeout")
}

// Stop asks the agent to finish its current cycle and exit.
// Idempotent: returns nil if the agent is not running.
func Stop(paths Paths) error {
	paths = paths.withDefaults()

	if !daemon.IsAgentRunning(paths.PID) {
		return nil
	}
	if _, err := daemon.SignalAgent(paths.PID, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal agent: %w", err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(pollInterval)
		if !daemon.IsAgentRunning(paths.PID) {
			return nil
		}
	}
	return errors.New("agent did not stop within timeout")
}

// Restart stops and starts the agent.
func Restart(paths Paths) error {
	if err := Stop(paths); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := Start(paths); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// Trigger asks a running agent to start a cycle now.
func Trigger(paths Paths) error {
	paths = paths.withDefaults()
	if !daemon.IsAgentRunning(paths.PID) {
		return ErrNotRunning
	}
	_, err := daemon.SignalAgent(paths.PID, triggerSignal)
	return err
}

// resolveBinary finds the agent executable.
// Priority: configured path > next to the current executable > GOBIN/GOPATH > PATH.
func resolveBinary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured binary not found: %s", configured)
		}
		return configured, nil
	}

	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), AgentBinary)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	for _, dir := range goBinDirs() {
		candidate := filepath.Join(dir, AgentBinary)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(AgentBinary); err == nil {
		return path, nil
	}

	return "", errors.New(AgentBinary + " not found")
}

func goBinDirs() []string {
	var dirs []string
	if gobin := os.Getenv("GOBIN"); gobin != "" {
		dirs = append(dirs, gobin)
	}
	if gopath := os.Getenv("GOPATH"); gopath != "" {
		dirs = append(dirs, filepath.Join(gopath, "bin"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "go", "bin"))
	}
	return dirs
}
