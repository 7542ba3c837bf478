// Package output provides formatters for `syncsftp ls`, which lists the
// local mirror in various output formats (pretty, plain, json, yaml, etc.).
//
// The package uses a registry pattern so formatters can be selected by name
// at runtime:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, result); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/antjowie/syncsftp/pkg/mirror/eviction"
	"github.com/antjowie/syncsftp/pkg/mirror/localstore"
	"github.com/antjowie/syncsftp/pkg/syncsftp/types"
)

// FileInfo is one mirrored file with precomputed display fields.
type FileInfo struct {
	Name string `json:"name" yaml:"name"`

	// Path is the absolute path of the local copy.
	Path string `json:"path" yaml:"path"`

	Size      int64  `json:"size" yaml:"size"`
	SizeHuman string `json:"size_human" yaml:"size_human"`

	// Created is the local creation time, the retention order key.
	Created time.Time     `json:"created" yaml:"created"`
	Age     time.Duration `json:"age" yaml:"age"`

	// Evict is set when the next eviction pass would remove the file.
	Evict bool `json:"evict" yaml:"evict"`
}

// Result is everything a formatter renders.
type Result struct {
	// Files are newest first.
	Files []FileInfo `json:"files" yaml:"files"`

	// Source is the local mirror directory.
	Source string `json:"source" yaml:"source"`

	// Budget is the storage limit; zero means unlimited.
	Budget int64 `json:"budget" yaml:"budget"`

	// LedgerSize is the number of names that will never be fetched again.
	LedgerSize int `json:"ledger_size" yaml:"ledger_size"`

	// AgentUp indicates a background agent is running.
	AgentUp bool `json:"agent_up" yaml:"agent_up"`

	TotalFiles int      `json:"total_files" yaml:"total_files"`
	Warnings   []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// NewResult builds a Result from a local listing and the eviction plan
// computed over it.
func NewResult(dir string, files []localstore.File, plan eviction.Plan, now time.Time) *Result {
	evict := make(map[string]bool, len(plan.Evict))
	for _, f := range plan.Evict {
		evict[f.Name] = true
	}

	r := &Result{
		Files:      make([]FileInfo, 0, len(files)),
		Source:     dir,
		Budget:     plan.Budget,
		TotalFiles: len(files),
	}
	for _, f := range files {
		r.Files = append(r.Files, FileInfo{
			Name:      f.Name,
			Path:      filepath.Join(dir, f.Name),
			Size:      f.Size,
			SizeHuman: types.FormatSize(f.Size),
			Created:   f.Created,
			Age:       now.Sub(f.Created),
			Evict:     evict[f.Name],
		})
	}
	return r
}

// TotalSize returns the sum of all file sizes in the result.
func (r *Result) TotalSize() int64 {
	var total int64
	for _, f := range r.Files {
		total += f.Size
	}
	return total
}

// EvictCount returns how many files the next pass would remove.
func (r *Result) EvictCount() int {
	n := 0
	for _, f := range r.Files {
		if f.Evict {
			n++
		}
	}
	return n
}

// EvictSize returns the bytes the next pass would free.
func (r *Result) EvictSize() int64 {
	var total int64
	for _, f := range r.Files {
		if f.Evict {
			total += f.Size
		}
	}
	return total
}

// Formatter renders a Result.
type Formatter interface {
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds a formatter factory, replacing any with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}

// mark is the plain-text eviction marker column.
func mark(f FileInfo) string {
	if f.Evict {
		return "evict"
	}
	return "keep"
}
