package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/antjowie/syncsftp/pkg/daemon"
	"github.com/antjowie/syncsftp/pkg/syncsftp/types"
)

// renderStatus draws the status region: where we mirror from and to, how
// full the mirror is, and when the next cycle runs.
func renderStatus(s daemon.Status, now time.Time, spinner string) string {
	var b strings.Builder

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("Remote", valueStyle.Render(s.Target))
	row("Local", valueStyle.Render(s.LocalDir))
	row("Stored", renderUsage(s.Local.Files, s.Local.Bytes, s.Budget))
	row("Ledger", valueStyle.Render(fmt.Sprintf("%d evicted names", s.LedgerSize)))

	var state string
	switch {
	case s.Scheduler.Running:
		state = warningTextStyle.Render(spinner + " syncing")
	default:
		state = successTextStyle.Render("waiting") + mutedTextStyle.Render(
			fmt.Sprintf(" next sync in %s", types.FormatDuration(s.Scheduler.Until(now).Round(time.Second))))
	}
	row("State", state)

	if c := s.LastCycle; c != nil {
		summary := fmt.Sprintf("%s ago: %d fetched, %d failed, %d evicted, %s",
			types.FormatDuration(now.Sub(c.Started.Add(c.Duration)).Round(time.Second)),
			c.Fetched, c.Failed, c.Evicted, types.FormatSize(c.Bytes))
		if c.Error != "" {
			row("Last", errorTextStyle.Render(summary+": "+c.Error))
		} else if c.Failed > 0 {
			row("Last", warningTextStyle.Render(summary))
		} else {
			row("Last", mutedTextStyle.Render(summary))
		}
	}
	if s.Error != "" {
		row("Error", errorTextStyle.Render(s.Error))
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderUsage(files int, bytes, budget int64) string {
	used := fmt.Sprintf("%d files, %s", files, types.FormatSize(bytes))
	if budget <= 0 {
		return valueStyle.Render(used) + mutedTextStyle.Render(" (no limit)")
	}

	pct := float64(bytes) / float64(budget) * 100
	style := valueStyle
	if pct > 100 {
		style = warningTextStyle
	}
	return style.Render(used) + mutedTextStyle.Render(fmt.Sprintf(" of %s (%.0f%%)", types.FormatSize(budget), pct))
}
