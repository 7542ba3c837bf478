package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/antjowie/syncsftp/pkg/daemon/watcher"
	"github.com/antjowie/syncsftp/pkg/mirror/scheduler"
	"github.com/antjowie/syncsftp/pkg/mirror/transfer"
)

// Agent states written to the status file.
const (
	StateStarting = "starting"
	StateReady    = "ready"
	StateError    = "error"
	StateStopped  = "stopped"
)

// CycleSummary is the last cycle as shown by `syncsftp status`.
type CycleSummary struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Fetched  int           `json:"fetched"`
	Failed   int           `json:"failed"`
	Evicted  int           `json:"evicted"`
	Bytes    int64         `json:"bytes"`
	Error    string        `json:"error,omitempty"`
}

// Transfer is an in-flight download.
type Transfer struct {
	Name        string  `json:"name"`
	Transferred int64   `json:"transferred"`
	Total       int64   `json:"total"`
	Throughput  float64 `json:"throughput"`
}

// Status is the agent's self-report, rewritten every scheduling quantum.
type Status struct {
	State     string    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`

	Target     string `json:"target,omitempty"`
	LocalDir   string `json:"local_dir,omitempty"`
	Budget     int64  `json:"budget"`
	LedgerSize int    `json:"ledger_size"`

	Scheduler scheduler.Snapshot `json:"scheduler"`
	Local     watcher.Stats      `json:"local"`
	Transfers []Transfer         `json:"transfers,omitempty"`
	LastCycle *CycleSummary      `json:"last_cycle,omitempty"`
}

// FromProgress converts a progress report.
func FromProgress(p transfer.Progress) Transfer {
	return Transfer{Name: p.Name, Transferred: p.Transferred, Total: p.Total, Throughput: p.Throughput}
}

// WriteStatusError writes an error status file.
func WriteStatusError(path string, err error) error {
	return WriteStatus(path, &Status{
		State:     StateError,
		Error:     err.Error(),
		UpdatedAt: time.Now(),
	})
}

// WriteStatus replaces the status file atomically.
func WriteStatus(path string, status *Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// ReadStatus reads a status file.
func ReadStatus(path string) (*Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RemoveStatus removes the status file.
func RemoveStatus(path string) error {
	return os.Remove(path)
}
