// Package manifest keeps a human-readable JSON record of every eviction
// pass: which files were removed to honor the budget, and how.
package manifest

import "time"

// Mode is how victims were removed.
type Mode string

const (
	ModeDelete Mode = "delete"
	ModeTrash  Mode = "trash"
)

// Entry is one eviction pass.
type Entry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	CycleID   string          `json:"cycle_id,omitempty"`
	Mode      Mode            `json:"mode"`
	Budget    int64           `json:"budget"`
	Files     []FileRecord    `json:"files"`
	Failures  []FailureRecord `json:"failures,omitempty"`
	Summary   Summary         `json:"summary"`
}

// FileRecord is an evicted file.
type FileRecord struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// FailureRecord is a file that should have been evicted but was not.
type FailureRecord struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Summary totals an entry.
type Summary struct {
	TotalFiles int64 `json:"total_files"`
	TotalBytes int64 `json:"total_bytes"`
	KeptBytes  int64 `json:"kept_bytes"`
}
