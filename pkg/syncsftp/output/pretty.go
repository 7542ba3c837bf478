package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// PrettyFormatter renders a styled table for terminal display.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")
	w.WriteString(f.formatTable(r))
	w.WriteString(f.formatFooter(r))

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
		w.WriteString("\n")
		for _, warning := range r.Warnings {
			w.WriteString(WarningStyle.Render("  " + warning))
			w.WriteString("\n")
		}
	}
	return nil
}

func (f *PrettyFormatter) formatHeader(r *Result) string {
	lines := []string{
		LabelStyle.Render("Local:") + " " + ValueStyle.Render(r.Source),
	}

	budget := "unlimited"
	if r.Budget > 0 {
		budget = humanize.IBytes(uint64(r.Budget))
	}
	parts := []string{
		LabelStyle.Render("Budget:") + " " + ValueStyle.Render(budget),
		LabelStyle.Render("Ledger:") + " " + ValueStyle.Render(fmt.Sprintf("%d names", r.LedgerSize)),
	}
	if r.AgentUp {
		parts = append(parts, SuccessStyle.Render("agent: running"))
	} else {
		parts = append(parts, MutedStyle.Render("agent: off"))
	}
	lines = append(lines, strings.Join(parts, "  "))

	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatTable(r *Result) string {
	if len(r.Files) == 0 {
		return MutedStyle.Render("  No mirrored files\n")
	}

	sizeWidth := 8
	for _, file := range r.Files {
		sizeWidth = max(sizeWidth, len(file.SizeHuman))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "  %s  %s  %s\n",
		TableHeaderStyle.Render(padLeft("SIZE", sizeWidth)),
		TableHeaderStyle.Render("CREATED         "),
		TableHeaderStyle.Render("NAME"))

	for _, file := range r.Files {
		name := PathStyle.Render(file.Name)
		if file.Evict {
			name = EvictStyle.Render(file.Name) + " " + ErrorStyle.Render("(evict)")
		}
		fmt.Fprintf(&sb, "  %s  %s  %s\n",
			SizeStyle.Render(padLeft(file.SizeHuman, sizeWidth)),
			MutedStyle.Render(file.Created.Format("2006-01-02 15:04")),
			name)
	}
	return sb.String()
}

func (f *PrettyFormatter) formatFooter(r *Result) string {
	parts := []string{
		LabelStyle.Render("Files:") + " " + ValueStyle.Render(fmt.Sprintf("%d", r.TotalFiles)),
		LabelStyle.Render("Total:") + " " + SizeStyle.Render(humanize.IBytes(uint64(r.TotalSize()))),
	}
	if n := r.EvictCount(); n > 0 {
		parts = append(parts, ErrorStyle.Render(fmt.Sprintf("%d over budget (%s)", n, humanize.IBytes(uint64(r.EvictSize())))))
	}
	parts = append(parts, MutedStyle.Render("Use -o plain for unformatted output"))
	return FooterBox.Render(strings.Join(parts, "  "))
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func init() {
	Register("pretty", func() Formatter { return &PrettyFormatter{} })
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
