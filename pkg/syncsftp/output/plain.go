package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
)

// PlainFormatter writes an aligned table for scripting and piping.
// No colors or styling are applied.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	if _, err := fmt.Fprintln(tw, "SIZE\tCREATED\tSTATE\tNAME"); err != nil {
		return err
	}
	for _, file := range r.Files {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			file.SizeHuman, file.Created.Format("2006-01-02T15:04:05"), mark(file), file.Name); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func init() {
	Register("plain", func() Formatter { return &PlainFormatter{} })
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
