package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/antjowie/syncsftp/pkg/mirror/transfer"
	"github.com/antjowie/syncsftp/pkg/syncsftp/types"
)

// maxRecent is how many finished transfers stay visible below the active
// ones.
const maxRecent = 5

// TransferList tracks downloads from progress events.
type TransferList struct {
	active map[string]transfer.Progress
	recent []transfer.Progress
	bar    progress.Model
}

// NewTransferList returns an empty list.
func NewTransferList() *TransferList {
	return &TransferList{
		active: make(map[string]transfer.Progress),
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

// Apply records a progress event.
func (l *TransferList) Apply(p transfer.Progress) {
	if !p.Done {
		l.active[p.Name] = p
		return
	}
	delete(l.active, p.Name)
	l.recent = append([]transfer.Progress{p}, l.recent...)
	if len(l.recent) > maxRecent {
		l.recent = l.recent[:maxRecent]
	}
}

// Active returns in-flight transfers sorted by name.
func (l *TransferList) Active() []transfer.Progress {
	out := make([]transfer.Progress, 0, len(l.active))
	for _, p := range l.active {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Recent returns finished transfers, newest first.
func (l *TransferList) Recent() []transfer.Progress { return l.recent }

// View draws one line per transfer: name, bar, percentage, rate and ETA.
func (l *TransferList) View(width int) string {
	active := l.Active()
	if len(active) == 0 && len(l.recent) == 0 {
		return mutedTextStyle.Render("No transfers yet")
	}

	nameWidth := min(max(width/3, 12), 40)
	l.bar.Width = max(width-nameWidth-34, 10)

	var b strings.Builder
	for _, p := range active {
		eta := "--"
		if r := p.Remaining(); r > 0 {
			eta = types.FormatDuration(r)
		}
		fmt.Fprintf(&b, "%s %s %3.0f%% %s %s\n",
			fileNameStyle.Render(fmt.Sprintf("%-*s", nameWidth, truncateName(p.Name, nameWidth))),
			l.bar.ViewAs(p.Fraction()),
			p.Fraction()*100,
			rateStyle.Render(fmt.Sprintf("%10s", types.FormatRate(p.Throughput))),
			mutedTextStyle.Render("eta "+eta))
	}
	for _, p := range l.recent {
		name := fmt.Sprintf("%-*s", nameWidth, truncateName(p.Name, nameWidth))
		if p.Err != nil {
			fmt.Fprintf(&b, "%s %s\n", errorTextStyle.Render("✗ "+name), errorTextStyle.Render(p.Err.Error()))
			continue
		}
		fmt.Fprintf(&b, "%s %s\n", successTextStyle.Render("✓ "+name),
			mutedTextStyle.Render(fmt.Sprintf("%s at %s", types.FormatSize(p.Transferred), types.FormatRate(p.Throughput))))
	}
	return strings.TrimRight(b.String(), "\n")
}
