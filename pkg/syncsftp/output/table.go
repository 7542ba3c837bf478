package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TSVFormatter writes tab-separated values with a header row.
type TSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString("SIZE\tCREATED\tSTATE\tNAME\n")
	for _, file := range r.Files {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", file.Size, file.Created.Format(time.RFC3339), mark(file), file.Name)
	}
	return nil
}

// CSVFormatter writes RFC 4180 comma-separated values.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"size", "created", "state", "name"}); err != nil {
		return err
	}
	for _, file := range r.Files {
		row := []string{strconv.FormatInt(file.Size, 10), file.Created.Format(time.RFC3339), mark(file), file.Name}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// MarkdownFormatter writes a GitHub-flavored Markdown table.
type MarkdownFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *MarkdownFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString("| SIZE | CREATED | STATE | NAME |\n")
	w.WriteString("|-----:|---------|-------|------|\n")
	for _, file := range r.Files {
		fmt.Fprintf(w, "| %s | %s | %s | %s |\n",
			escapeMarkdownPipe(file.SizeHuman),
			file.Created.Format("2006-01-02 15:04"),
			mark(file),
			escapeMarkdownPipe(file.Name))
	}
	return nil
}

func escapeMarkdownPipe(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func init() {
	Register("tsv", func() Formatter { return &TSVFormatter{} })
	Register("csv", func() Formatter { return &CSVFormatter{} })
	Register("markdown", func() Formatter { return &MarkdownFormatter{} })
}

var (
	_ Formatter = (*TSVFormatter)(nil)
	_ Formatter = (*CSVFormatter)(nil)
	_ Formatter = (*MarkdownFormatter)(nil)
)
