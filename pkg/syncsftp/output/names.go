package output

import "bytes"

// NamesFormatter writes one file name per line, for piping.
type NamesFormatter struct {
	// EvictOnly restricts the output to files over budget.
	EvictOnly bool
}

// Format writes the formatted output to the buffer.
func (f *NamesFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, file := range r.Files {
		if f.EvictOnly && !file.Evict {
			continue
		}
		w.WriteString(file.Name)
		w.WriteByte('\n')
	}
	return nil
}

// NullFormatter writes absolute paths separated by NUL bytes, for xargs -0.
type NullFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *NullFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, file := range r.Files {
		w.WriteString(file.Path)
		w.WriteByte(0)
	}
	return nil
}

func init() {
	Register("names", func() Formatter { return &NamesFormatter{} })
	Register("evict", func() Formatter { return &NamesFormatter{EvictOnly: true} })
	Register("null", func() Formatter { return &NullFormatter{} })
}

var (
	_ Formatter = (*NamesFormatter)(nil)
	_ Formatter = (*NullFormatter)(nil)
)
