// Package eviction keeps the local mirror within its size budget by
// removing the oldest files and recording them in the retention ledger.
package eviction

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/antjowie/syncsftp/pkg/mirror/ledger"
	"github.com/antjowie/syncsftp/pkg/mirror/localstore"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
	"github.com/antjowie/syncsftp/pkg/syncsftp/types"
)

// Remover takes a file out of the mirror directory. localstore.Store
// deletes permanently; trash.Bin moves to the desktop trash.
type Remover interface {
	Remove(name string) error
}

// Lister reads the current mirror contents.
type Lister interface {
	List() ([]localstore.File, error)
}

// Plan is the outcome of applying the budget to a listing. Keep is newest
// first; Evict continues in the same order, so its last entry is the oldest
// file.
type Plan struct {
	Budget     int64
	Keep       []localstore.File
	Evict      []localstore.File
	KeptBytes  int64
	EvictBytes int64
}

// Disabled reports whether the budget turns eviction off.
func (p Plan) Disabled() bool { return p.Budget <= 0 }

// Select walks files from newest to oldest with a running total. The file
// whose size first takes the total past budget is evicted along with every
// older file, so the kept total never exceeds budget. The one exception is
// a newest file that is over budget on its own: it stays, alone. A budget
// of zero keeps everything.
func Select(files []localstore.File, budget int64) Plan {
	sorted := append([]localstore.File(nil), files...)
	localstore.SortNewestFirst(sorted)

	plan := Plan{Budget: budget}
	if budget <= 0 {
		plan.Keep = sorted
		plan.KeptBytes = lo.SumBy(sorted, func(f localstore.File) int64 { return f.Size })
		return plan
	}

	var total int64
	over := false
	for i, f := range sorted {
		total += f.Size
		over = over || (total > budget && i > 0)
		if over {
			plan.Evict = append(plan.Evict, f)
			plan.EvictBytes += f.Size
			continue
		}
		plan.Keep = append(plan.Keep, f)
		plan.KeptBytes += f.Size
	}
	return plan
}

// Failure is a file that could not be removed.
type Failure struct {
	Name string
	Err  error
}

// Report describes one eviction pass.
type Report struct {
	Plan Plan
	// Evicted are the files actually removed, in plan order.
	Evicted  []localstore.File
	Failures []Failure
	// Recorded is how many names were new to the ledger.
	Recorded int
	// LedgerErr is set when the ledger could not be saved. The removals
	// themselves still happened.
	LedgerErr error
}

// EvictedBytes is the total size of removed files.
func (r Report) EvictedBytes() int64 {
	return lo.SumBy(r.Evicted, func(f localstore.File) int64 { return f.Size })
}

// Err joins every failure in the report, or returns nil.
func (r Report) Err() error {
	errs := lo.Map(r.Failures, func(f Failure, _ int) error {
		return fmt.Errorf("evicting %s: %w", f.Name, f.Err)
	})
	if r.LedgerErr != nil {
		errs = append(errs, r.LedgerErr)
	}
	return errors.Join(errs...)
}

// Policy enforces a budget against a mirror directory.
type Policy struct {
	budget  int64
	lister  Lister
	remover Remover
	ledger  *ledger.Ledger
}

// New returns a Policy. A budget of zero disables eviction.
func New(budget int64, lister Lister, remover Remover, l *ledger.Ledger) *Policy {
	return &Policy{budget: budget, lister: lister, remover: remover, ledger: l}
}

// Budget returns the configured budget in bytes.
func (p *Policy) Budget() int64 { return p.budget }

// Preview lists the mirror and plans without removing anything.
func (p *Policy) Preview() (Plan, error) {
	files, err := p.lister.List()
	if err != nil {
		return Plan{}, fmt.Errorf("listing mirror: %w", err)
	}
	return Select(files, p.budget), nil
}

// Enforce plans against the current mirror contents and applies the plan.
// The returned error is only for a failed listing; removal and ledger
// problems are carried in the Report.
func (p *Policy) Enforce() (Report, error) {
	if p.budget <= 0 {
		return Report{Plan: Plan{Budget: p.budget}}, nil
	}
	plan, err := p.Preview()
	if err != nil {
		return Report{}, err
	}
	return p.Apply(plan), nil
}

// Apply removes the files in plan.Evict, oldest last, and records every
// successful removal in the ledger. The ledger is saved once, and only if
// it changed.
func (p *Policy) Apply(plan Plan) Report {
	log := logging.Get("eviction")
	report := Report{Plan: plan}
	if len(plan.Evict) == 0 {
		return report
	}

	log.Info("over budget, evicting",
		"budget", types.FormatSize(plan.Budget),
		"kept", types.FormatSize(plan.KeptBytes),
		"files", len(plan.Evict),
		"bytes", types.FormatSize(plan.EvictBytes))

	for _, f := range plan.Evict {
		if err := p.remover.Remove(f.Name); err != nil {
			log.Error("eviction failed", "file", f.Name, "error", err)
			report.Failures = append(report.Failures, Failure{Name: f.Name, Err: err})
			continue
		}
		log.Info("evicted", "file", f.Name, "size", types.FormatSize(f.Size))
		report.Evicted = append(report.Evicted, f)
	}

	report.Recorded = p.ledger.Add(lo.Map(report.Evicted, func(f localstore.File, _ int) string { return f.Name })...)
	if report.Recorded > 0 {
		if err := p.ledger.Save(); err != nil {
			report.LedgerErr = fmt.Errorf("saving ledger: %w", err)
			log.Error("ledger not saved", "path", p.ledger.Path(), "error", err)
		}
	}
	return report
}
