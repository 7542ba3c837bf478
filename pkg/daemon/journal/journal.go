// Package journal records every sync cycle and every downloaded file in a
// Badger database, so an operator can see what the agent did while nobody
// was watching.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/antjowie/syncsftp/pkg/mirror"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

// Key prefixes. Both embed a zero-padded timestamp so lexical order is
// chronological.
const (
	prefixCycle = "c:" // c:<started>:<id>
	prefixFile  = "f:" // f:<name>\x00<fetched>
	prefixMeta  = "m:"
)

// Cycle is the journal form of one sync cycle.
type Cycle struct {
	ID           string    `json:"id"`
	Target       string    `json:"target"`
	Started      time.Time `json:"started"`
	Ended        time.Time `json:"ended"`
	Listed       int       `json:"listed"`
	Eligible     int       `json:"eligible"`
	Fetched      int       `json:"fetched"`
	Failed       int       `json:"failed"`
	Evicted      int       `json:"evicted"`
	Bytes        int64     `json:"bytes"`
	EvictedBytes int64     `json:"evicted_bytes"`
	Error        string    `json:"error,omitempty"`
}

// Duration is how long the cycle ran.
func (c Cycle) Duration() time.Duration { return c.Ended.Sub(c.Started) }

// File is one download attempt.
type File struct {
	Name      string        `json:"name"`
	Size      int64         `json:"size"`
	FetchedAt time.Time     `json:"fetched_at"`
	Duration  time.Duration `json:"duration"`
	CycleID   string        `json:"cycle_id"`
	Error     string        `json:"error,omitempty"`
}

// Journal is the cycle history store.
type Journal struct {
	db *badger.DB
}

// Open opens or creates a journal in dir.
func Open(dir string) (*Journal, error) {
	return open(badger.DefaultOptions(dir))
}

// OpenInMemory returns a journal that is discarded on Close.
func OpenInMemory() (*Journal, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Journal, error) {
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	j := &Journal{db: db}
	if err := j.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

func cycleKey(c Cycle) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixCycle, c.Started.UnixNano(), c.ID))
}

func fileKey(f File) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%020d", prefixFile, f.Name, f.FetchedAt.UnixNano()))
}

// Record stores a cycle and its file attempts in one batch.
func (j *Journal) Record(c Cycle, files []File) error {
	wb := j.db.NewWriteBatch()
	defer wb.Cancel()

	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := wb.Set(cycleKey(c), data); err != nil {
		return err
	}
	for _, f := range files {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		if err := wb.Set(fileKey(f), data); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	return nil
}

// Cycles returns up to limit cycles, newest first. A limit of zero or less
// returns all of them.
func (j *Journal) Cycles(limit int) ([]Cycle, error) {
	var out []Cycle

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefixCycle)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefixCycle + "\xff")); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var c Cycle
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

// Files returns every recorded attempt for name, oldest first.
func (j *Journal) Files(name string) ([]File, error) {
	var out []File
	prefix := []byte(prefixFile + name + "\x00")

	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var f File
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			}); err != nil {
				return err
			}
			out = append(out, f)
		}
		return nil
	})
	return out, err
}

// Prune deletes cycles that started and files fetched before cutoff. It
// returns how many records were removed.
func (j *Journal) Prune(cutoff time.Time) (int, error) {
	var stale [][]byte

	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		cycles := []byte(prefixCycle)
		for it.Seek(cycles); it.ValidForPrefix(cycles); it.Next() {
			var c Cycle
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &c) }); err != nil {
				return err
			}
			if c.Started.Before(cutoff) {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}

		files := []byte(prefixFile)
		for it.Seek(files); it.ValidForPrefix(files); it.Next() {
			var f File
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &f) }); err != nil {
				return err
			}
			if f.FetchedAt.Before(cutoff) {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := j.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	return len(stale), nil
}

// FromReport converts a cycle report into journal records.
func FromReport(r mirror.CycleReport) (Cycle, []File) {
	c := Cycle{
		ID:           r.ID,
		Target:       r.Target,
		Started:      r.Started,
		Ended:        r.Ended,
		Listed:       r.Listed,
		Eligible:     r.Eligible,
		Fetched:      len(r.Transfers.Completed),
		Failed:       len(r.Transfers.Failed),
		Evicted:      len(r.Eviction.Evicted),
		Bytes:        r.Transfers.Bytes(),
		EvictedBytes: r.Eviction.EvictedBytes(),
	}
	if err := errors.Join(r.Err, r.Eviction.Err()); err != nil {
		c.Error = err.Error()
	}

	files := make([]File, 0, len(r.Transfers.Completed)+len(r.Transfers.Failed))
	for _, o := range r.Transfers.Completed {
		files = append(files, File{Name: o.Name, Size: o.Bytes, FetchedAt: r.Ended, Duration: o.Duration, CycleID: r.ID})
	}
	for _, o := range r.Transfers.Failed {
		files = append(files, File{Name: o.Name, Size: o.Bytes, FetchedAt: r.Ended, Duration: o.Duration, CycleID: r.ID, Error: o.Err.Error()})
	}
	return c, files
}

// CycleFinished records a report. It satisfies mirror.Observer; failures
// are logged because the cycle itself already succeeded or failed.
func (j *Journal) CycleFinished(r mirror.CycleReport) {
	c, files := FromReport(r)
	if err := j.Record(c, files); err != nil {
		logging.Get("journal").Error("could not record cycle", "cycle", r.ID, "error", err)
	}
}
