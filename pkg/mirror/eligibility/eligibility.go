// Package eligibility decides which remote files a cycle should download.
package eligibility

import (
	"path"

	"github.com/gobwas/glob"
	"github.com/samber/lo"

	"github.com/antjowie/syncsftp/pkg/remote"
)

// Filter holds the per-cycle snapshot the decision is made against. Build a
// new Filter at the start of every cycle; it is never updated mid-cycle.
type Filter struct {
	local    map[string]struct{}
	purged   map[string]struct{}
	reserved func(string) bool
	include  []glob.Glob
	exclude  []glob.Glob

	restricted bool
}

// Option configures a Filter.
type Option func(*Filter)

// WithLocal sets the names already present in the mirror.
func WithLocal(names map[string]struct{}) Option {
	return func(f *Filter) { f.local = names }
}

// WithPurged sets the names recorded in the retention ledger.
func WithPurged(names map[string]struct{}) Option {
	return func(f *Filter) { f.purged = names }
}

// WithReserved sets the predicate for agent control files.
func WithReserved(fn func(string) bool) Option {
	return func(f *Filter) { f.reserved = fn }
}

// WithInclude restricts downloads to names matching at least one pattern.
// A pattern that does not compile matches nothing.
func WithInclude(patterns ...string) Option {
	return func(f *Filter) {
		f.include = append(f.include, compile(patterns)...)
		if len(patterns) > 0 {
			f.restricted = true
		}
	}
}

// WithExclude skips names matching any pattern.
func WithExclude(patterns ...string) Option {
	return func(f *Filter) { f.exclude = append(f.exclude, compile(patterns)...) }
}

func compile(patterns []string) []glob.Glob {
	return lo.FilterMap(patterns, func(p string, _ int) (glob.Glob, bool) {
		g, err := glob.Compile(p)
		return g, err == nil
	})
}

// New returns a Filter.
func New(opts ...Option) *Filter {
	f := &Filter{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Reason explains why an entry was not selected.
type Reason int

const (
	Eligible Reason = iota
	SkipDirectory
	SkipReserved
	SkipPresent
	SkipPurged
	SkipFiltered
	SkipDuplicate
)

func (r Reason) String() string {
	switch r {
	case Eligible:
		return "eligible"
	case SkipDirectory:
		return "directory"
	case SkipReserved:
		return "reserved"
	case SkipPresent:
		return "present"
	case SkipPurged:
		return "purged"
	case SkipFiltered:
		return "filtered"
	case SkipDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// Check classifies one entry.
func (f *Filter) Check(e remote.Entry) Reason {
	name := path.Base(e.Name)
	switch {
	case e.IsDir:
		return SkipDirectory
	case name == "" || name == "." || name == "/":
		return SkipReserved
	case f.reserved != nil && f.reserved(name):
		return SkipReserved
	case has(f.local, name):
		return SkipPresent
	case has(f.purged, name):
		return SkipPurged
	case !f.matches(name):
		return SkipFiltered
	}
	return Eligible
}

// Select returns the eligible entries in listing order. A name listed twice
// is only fetched once.
func (f *Filter) Select(entries []remote.Entry) []remote.Entry {
	reasons := f.classify(entries)
	return lo.Filter(entries, func(_ remote.Entry, i int) bool {
		return reasons[i] == Eligible
	})
}

// Tally counts entries by Reason, for cycle reports. Repeats of an
// eligible name count as SkipDuplicate.
func (f *Filter) Tally(entries []remote.Entry) map[Reason]int {
	return lo.CountValues(f.classify(entries))
}

// classify is Check over a whole listing, with later occurrences of an
// eligible name marked SkipDuplicate.
func (f *Filter) classify(entries []remote.Entry) []Reason {
	seen := make(map[string]struct{}, len(entries))
	return lo.Map(entries, func(e remote.Entry, _ int) Reason {
		r := f.Check(e)
		if r != Eligible {
			return r
		}
		name := path.Base(e.Name)
		if _, dup := seen[name]; dup {
			return SkipDuplicate
		}
		seen[name] = struct{}{}
		return Eligible
	})
}

func (f *Filter) matches(name string) bool {
	if lo.SomeBy(f.exclude, func(g glob.Glob) bool { return g.Match(name) }) {
		return false
	}
	if !f.restricted {
		return true
	}
	return lo.SomeBy(f.include, func(g glob.Glob) bool { return g.Match(name) })
}

func has(set map[string]struct{}, name string) bool {
	_, ok := set[name]
	return ok
}
