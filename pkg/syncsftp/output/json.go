package output

import (
	"bytes"
	"encoding/json"
	"time"
)

type jsonOutput struct {
	Files []jsonFile `json:"files"`
	Meta  jsonMeta   `json:"meta"`
}

type jsonFile struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"size_human"`
	Created   time.Time `json:"created"`
	Age       string    `json:"age,omitempty"`
	Evict     bool      `json:"evict"`
}

type jsonMeta struct {
	Source     string   `json:"source"`
	Budget     int64    `json:"budget"`
	LedgerSize int      `json:"ledger_size"`
	AgentUp    bool     `json:"agent_up"`
	TotalFiles int      `json:"total_files"`
	TotalSize  int64    `json:"total_size"`
	EvictFiles int      `json:"evict_files"`
	EvictSize  int64    `json:"evict_size"`
	Warnings   []string `json:"warnings,omitempty"`
}

func toJSONFile(f FileInfo) jsonFile {
	return jsonFile{
		Name:      f.Name,
		Path:      f.Path,
		Size:      f.Size,
		SizeHuman: f.SizeHuman,
		Created:   f.Created,
		Age:       formatDurationString(f.Age),
		Evict:     f.Evict,
	}
}

// JSONFormatter writes a single indented JSON document.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	out := jsonOutput{
		Files: make([]jsonFile, len(r.Files)),
		Meta: jsonMeta{
			Source:     r.Source,
			Budget:     r.Budget,
			LedgerSize: r.LedgerSize,
			AgentUp:    r.AgentUp,
			TotalFiles: r.TotalFiles,
			TotalSize:  r.TotalSize(),
			EvictFiles: r.EvictCount(),
			EvictSize:  r.EvictSize(),
			Warnings:   r.Warnings,
		},
	}
	for i, file := range r.Files {
		out.Files[i] = toJSONFile(file)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

// JSONLFormatter writes one compact JSON object per file.
type JSONLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, file := range r.Files {
		data, err := json.Marshal(toJSONFile(file))
		if err != nil {
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return nil
}

func formatDurationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.Round(time.Second).String()
}

func init() {
	Register("json", func() Formatter { return &JSONFormatter{} })
	Register("jsonl", func() Formatter { return &JSONLFormatter{} })
}

var (
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*JSONLFormatter)(nil)
)
