package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

// logPaneCapacity bounds the entries kept for the pane.
const logPaneCapacity = 200

func filterEntriesByLevel(entries []logging.Entry, minLevel logging.Level) []logging.Entry {
	result := make([]logging.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Level >= minLevel {
			result = append(result, e)
		}
	}
	return result
}

// clampLogScroll keeps offset within [0, total-visible].
func clampLogScroll(offset, total, visible int) int {
	if total <= visible || offset < 0 {
		return 0
	}
	return min(offset, total-visible)
}

func logLevelStyle(level logging.Level) lipgloss.Style {
	switch level {
	case logging.LevelDebug:
		return logDebugStyle
	case logging.LevelWarn:
		return logWarnStyle
	case logging.LevelError:
		return logErrorStyle
	default:
		return logInfoStyle
	}
}

func logLevelChar(level logging.Level) string {
	switch level {
	case logging.LevelDebug:
		return "D"
	case logging.LevelInfo:
		return "I"
	case logging.LevelWarn:
		return "W"
	case logging.LevelError:
		return "E"
	default:
		return "?"
	}
}

// LogViewerState holds the log pane.
type LogViewerState struct {
	Open         bool
	Buffer       *logging.Buffer
	FilterLevel  logging.Level
	ScrollOffset int
	// Follow keeps the newest entry in view until the user scrolls up.
	Follow bool
}

// NewLogViewerState returns a closed pane seeded with recent entries.
func NewLogViewerState(seed []logging.Entry) *LogViewerState {
	s := &LogViewerState{
		Buffer:      logging.NewBuffer(logPaneCapacity),
		FilterLevel: logging.LevelInfo,
		Follow:      true,
	}
	for _, e := range seed {
		s.Buffer.Add(e)
	}
	return s
}

func (s *LogViewerState) Toggle() { s.Open = !s.Open }

// SetFilterLevel changes the minimum level and jumps back to the tail.
func (s *LogViewerState) SetFilterLevel(level logging.Level) {
	s.FilterLevel = level
	s.ScrollOffset = 0
	s.Follow = true
}

func (s *LogViewerState) ScrollUp() {
	s.Follow = false
	if s.ScrollOffset > 0 {
		s.ScrollOffset--
	}
}

func (s *LogViewerState) ScrollDown(visibleRows int) {
	maxOffset := max(s.FilteredEntryCount()-visibleRows, 0)
	if s.ScrollOffset < maxOffset {
		s.ScrollOffset++
	}
	if s.ScrollOffset >= maxOffset {
		s.Follow = true
	}
}

func (s *LogViewerState) AddEntry(e logging.Entry) { s.Buffer.Add(e) }

// FilteredEntryCount returns the number of entries at or above the filter.
func (s *LogViewerState) FilteredEntryCount() int {
	return len(filterEntriesByLevel(s.Buffer.Last(0), s.FilterLevel))
}

// View renders the pane in width x height cells.
func (s *LogViewerState) View(width, height int) string {
	if height < 3 {
		return ""
	}

	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf(" Logs [%s] ", s.FilterLevel)))
	b.WriteString(mutedTextStyle.Render("[1-4] level  [↑/↓] scroll  [l] close"))
	b.WriteString("\n")
	b.WriteString(renderDivider(width))
	b.WriteString("\n")

	visibleRows := max(height-2, 1)
	filtered := filterEntriesByLevel(s.Buffer.Last(0), s.FilterLevel)
	if s.Follow {
		s.ScrollOffset = len(filtered) - visibleRows
	}
	s.ScrollOffset = clampLogScroll(s.ScrollOffset, len(filtered), visibleRows)

	end := min(s.ScrollOffset+visibleRows, len(filtered))
	for _, e := range filtered[s.ScrollOffset:end] {
		b.WriteString(renderLogEntry(e, width))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderLogEntry formats "HH:MM:SS [L] component: message fields".
func renderLogEntry(e logging.Entry, width int) string {
	comp := e.Component
	if len(comp) > 10 {
		comp = comp[:10]
	}

	msg := e.Message
	if e.Fields != "" {
		msg += " " + e.Fields
	}
	msgWidth := max(width-(8+1+3+1+len(comp)+2), 10)
	if len(msg) > msgWidth {
		msg = msg[:msgWidth-3] + "..."
	}

	return fmt.Sprintf("%s %s %s: %s",
		logTimeStyle.Render(e.Time.Format("15:04:05")),
		logLevelStyle(e.Level).Render("["+logLevelChar(e.Level)+"]"),
		logComponentStyle.Render(comp),
		msg)
}
