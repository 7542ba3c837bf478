package output

import (
	"bytes"
	"time"

	"gopkg.in/yaml.v3"
)

type yamlOutput struct {
	Files []yamlFile `yaml:"files"`
	Meta  yamlMeta   `yaml:"meta"`
}

type yamlFile struct {
	Name    string    `yaml:"name"`
	Path    string    `yaml:"path"`
	Size    int64     `yaml:"size"`
	Human   string    `yaml:"size_human"`
	Created time.Time `yaml:"created"`
	Evict   bool      `yaml:"evict,omitempty"`
}

type yamlMeta struct {
	Source     string `yaml:"source"`
	Budget     int64  `yaml:"budget"`
	LedgerSize int    `yaml:"ledger_size"`
	AgentUp    bool   `yaml:"agent_up"`
	TotalFiles int    `yaml:"total_files"`
	TotalSize  int64  `yaml:"total_size"`
	EvictFiles int    `yaml:"evict_files"`
}

// YAMLFormatter writes the same structure as JSONFormatter in YAML.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Result) error {
	out := yamlOutput{
		Files: make([]yamlFile, len(r.Files)),
		Meta: yamlMeta{
			Source:     r.Source,
			Budget:     r.Budget,
			LedgerSize: r.LedgerSize,
			AgentUp:    r.AgentUp,
			TotalFiles: r.TotalFiles,
			TotalSize:  r.TotalSize(),
			EvictFiles: r.EvictCount(),
		},
	}
	for i, file := range r.Files {
		out.Files[i] = yamlFile{
			Name:    file.Name,
			Path:    file.Path,
			Size:    file.Size,
			Human:   file.SizeHuman,
			Created: file.Created,
			Evict:   file.Evict,
		}
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(out); err != nil {
		return err
	}
	return encoder.Close()
}

func init() {
	Register("yaml", func() Formatter { return &YAMLFormatter{} })
}

// Ensure YAMLFormatter implements Formatter.
var _ Formatter = (*YAMLFormatter)(nil)
