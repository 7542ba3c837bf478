// Package tui is the interactive display of `syncsftp run`: a status
// region, a transfer region and an optional log pane, built on Bubble Tea,
// Lip Gloss and Bubbles.
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette for the TUI.
var (
	primaryColor = lipgloss.Color("#7D56F4")
	accentColor  = lipgloss.Color("#00D9FF")

	successColor = lipgloss.Color("#28A745")
	warningColor = lipgloss.Color("#FFC107")
	dangerColor  = lipgloss.Color("#DC3545")

	mutedColor  = lipgloss.Color("#666666")
	borderColor = lipgloss.Color("#333333")
)

var (
	outerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	dividerStyle = lipgloss.NewStyle().Foreground(borderColor)
)

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	sectionStyle     = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	mutedTextStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	errorTextStyle   = lipgloss.NewStyle().Foreground(dangerColor)
	successTextStyle = lipgloss.NewStyle().Foreground(successColor)
	warningTextStyle = lipgloss.NewStyle().Foreground(warningColor)

	labelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(10)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))

	fileNameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	rateStyle     = lipgloss.NewStyle().Foreground(accentColor)
)

// Key hint styles.
var (
	keyStyle     = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	keyDescStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

// Log pane styles.
var (
	logTimeStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	logComponentStyle = lipgloss.NewStyle().Foreground(accentColor)
	logDebugStyle     = lipgloss.NewStyle().Foreground(mutedColor)
	logInfoStyle      = lipgloss.NewStyle().Foreground(successColor)
	logWarnStyle      = lipgloss.NewStyle().Foreground(warningColor)
	logErrorStyle     = lipgloss.NewStyle().Foreground(dangerColor).Bold(true)
)

func renderDivider(width int) string {
	return dividerStyle.Render(repeatChar('─', width))
}

func repeatChar(char rune, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(string(char), n)
}

// truncateName shortens s to maxLen, keeping the end, which is where
// backup names usually differ.
func truncateName(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return "..." + s[len(s)-(maxLen-3):]
}

func renderKeyHints(hints [][2]string) string {
	parts := make([]string, 0, len(hints))
	for _, h := range hints {
		parts = append(parts, keyStyle.Render(h[0])+" "+keyDescStyle.Render(h[1]))
	}
	return strings.Join(parts, "  ")
}
