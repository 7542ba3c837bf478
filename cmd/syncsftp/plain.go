package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cheggaaa/pb/v3"

	"github.com/antjowie/syncsftp/pkg/daemon/broadcaster"
	"github.com/antjowie/syncsftp/pkg/mirror"
	"github.com/antjowie/syncsftp/pkg/mirror/transfer"
	"github.com/antjowie/syncsftp/pkg/syncsftp/types"
)

// barTemplate renders one download: name, bytes, bar, rate and ETA.
const barTemplate pb.ProgressBarTemplate = `{{string . "name"}} {{counters . }} {{bar . "[" "=" ">" " " "]"}} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`

// eventSource is the part of the agent the plain display needs.
type eventSource interface {
	Subscribe(kinds ...broadcaster.Kind) *broadcaster.Subscriber
	Unsubscribe(id string)
}

// plainDisplay draws a pool of progress bars per cycle and one summary
// line when the cycle ends. Without a terminal it falls back to a line per
// finished download.
type plainDisplay struct {
	out  io.Writer
	pool *pb.Pool
	bars map[string]*pb.ProgressBar
	// startPool is replaced in tests, where there is no terminal.
	startPool func() (*pb.Pool, error)
}

func newPlainDisplay(out io.Writer) *plainDisplay {
	return &plainDisplay{
		out:       out,
		bars:      make(map[string]*pb.ProgressBar),
		startPool: func() (*pb.Pool, error) { return pb.StartPool() },
	}
}

func runPlainDisplay(ctx context.Context, src eventSource, out io.Writer) error {
	sub := src.Subscribe()
	defer src.Unsubscribe(sub.ID)

	d := newPlainDisplay(out)
	defer d.endCycle()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Events:
			if !ok {
				return nil
			}
			d.apply(e)
		}
	}
}

func (d *plainDisplay) apply(e broadcaster.Event) {
	switch e.Kind {
	case broadcaster.KindProgress:
		d.progress(e.Progress)
	case broadcaster.KindCycle:
		d.endCycle()
		if e.Cycle != nil {
			fmt.Fprintln(d.out, cycleLine(*e.Cycle))
		}
	}
}

func (d *plainDisplay) progress(p transfer.Progress) {
	bar := d.bar(p)
	if bar == nil {
		if p.Done {
			fmt.Fprintln(d.out, fileLine(p))
		}
		return
	}

	if p.Transferred > p.Total {
		bar.SetTotal(p.Transferred)
	}
	bar.SetCurrent(p.Transferred)
	if p.Done {
		if p.Err != nil {
			bar.SetErr(p.Err)
		}
		bar.Finish()
		delete(d.bars, p.Name)
	}
}

// bar returns the bar for p, starting the pool on the first download of a
// cycle. It returns nil when bars cannot be drawn.
func (d *plainDisplay) bar(p transfer.Progress) *pb.ProgressBar {
	if bar, ok := d.bars[p.Name]; ok {
		return bar
	}
	if d.pool == nil {
		if d.startPool == nil {
			return nil
		}
		pool, err := d.startPool()
		if err != nil {
			d.startPool = nil
			return nil
		}
		d.pool = pool
	}

	bar := pb.New64(p.Total).
		SetTemplate(barTemplate).
		Set(pb.Bytes, true).
		Set("name", p.Name).
		SetRefreshRate(200 * time.Millisecond)
	d.pool.Add(bar)
	d.bars[p.Name] = bar
	return bar
}

func (d *plainDisplay) endCycle() {
	if d.pool == nil {
		return
	}
	for name, bar := range d.bars {
		bar.Finish()
		delete(d.bars, name)
	}
	_ = d.pool.Stop()
	d.pool = nil
}

func fileLine(p transfer.Progress) string {
	if p.Err != nil {
		return fmt.Sprintf("failed  %s: %v", p.Name, p.Err)
	}
	return fmt.Sprintf("fetched %s (%s at %s)", p.Name, types.FormatSize(p.Transferred), types.FormatRate(p.Throughput))
}

func cycleLine(r mirror.CycleReport) string {
	ts := r.Ended.Format("15:04:05")
	if r.Err != nil {
		return fmt.Sprintf("%s sync failed: %v", ts, r.Err)
	}
	line := fmt.Sprintf("%s sync done in %s: %d listed, %d fetched (%s), %d failed, %d evicted",
		ts, types.FormatDuration(r.Duration().Round(time.Millisecond)),
		r.Listed, len(r.Transfers.Completed), types.FormatSize(r.Transfers.Bytes()),
		len(r.Transfers.Failed), len(r.Eviction.Evicted))
	if err := r.Eviction.Err(); err != nil {
		line += fmt.Sprintf(" (eviction: %v)", err)
	}
	return line
}
