package transfer

import (
	"io"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultReportInterval is the minimum gap between two progress reports for
// the same file.
const DefaultReportInterval = 100 * time.Millisecond

// Progress is a point-in-time view of one download.
type Progress struct {
	Name        string
	Transferred int64
	// Total is the size from the remote listing. It may be smaller than
	// Transferred if the file grew after it was listed.
	Total int64
	// Throughput is the average rate since the download started, in bytes
	// per second.
	Throughput float64
	// Done is set on the last report for a file.
	Done bool
	Err  error
}

// Fraction returns Transferred/Total clamped to [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		if p.Done {
			return 1
		}
		return 0
	}
	return min(float64(p.Transferred)/float64(p.Total), 1)
}

// Remaining estimates the time left at the current throughput. It is zero
// when no estimate is possible.
func (p Progress) Remaining() time.Duration {
	left := p.Total - p.Transferred
	if p.Throughput <= 0 || left <= 0 {
		return 0
	}
	return time.Duration(float64(left) / p.Throughput * float64(time.Second))
}

// Sink receives progress reports. Report is called from transfer goroutines
// and must not block.
type Sink interface {
	Report(Progress)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Progress)

func (f SinkFunc) Report(p Progress) { f(p) }

type discard struct{}

func (discard) Report(Progress) {}

// meter counts bytes written through it and reports at most once per
// interval.
type meter struct {
	w        io.Writer
	sink     Sink
	clock    clockwork.Clock
	interval time.Duration

	name    string
	total   int64
	written int64
	started time.Time
	last    time.Time
}

func newMeter(w io.Writer, sink Sink, clock clockwork.Clock, interval time.Duration, name string, total int64) *meter {
	now := clock.Now()
	return &meter{
		w:        w,
		sink:     sink,
		clock:    clock,
		interval: interval,
		name:     name,
		total:    total,
		started:  now,
		last:     now,
	}
}

func (m *meter) Write(p []byte) (int, error) {
	n, err := m.w.Write(p)
	m.written += int64(n)

	if now := m.clock.Now(); now.Sub(m.last) >= m.interval {
		m.last = now
		m.sink.Report(m.progress(now, false, nil))
	}
	return n, err
}

func (m *meter) finish(err error) {
	m.sink.Report(m.progress(m.clock.Now(), true, err))
}

func (m *meter) progress(now time.Time, done bool, err error) Progress {
	p := Progress{
		Name:        m.name,
		Transferred: m.written,
		Total:       m.total,
		Done:        done,
		Err:         err,
	}
	if elapsed := now.Sub(m.started).Seconds(); elapsed > 0 {
		p.Throughput = float64(m.written) / elapsed
	}
	return p
}
