package main

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/antjowie/syncsftp/pkg/client"
	"github.com/antjowie/syncsftp/pkg/daemon"
	"github.com/antjowie/syncsftp/pkg/mirror/eviction"
	"github.com/antjowie/syncsftp/pkg/mirror/ledger"
	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
	"github.com/antjowie/syncsftp/pkg/syncsftp/output"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List local copies",
	Long: `List the files in the local directory, newest first.

Files the next eviction pass would remove under the current budget are
marked. Nothing is changed.

Output formats:
  pretty    colored table (default)
  plain     aligned columns without color
  names     file names only
  evict     names of files that would be evicted
  tsv, csv, markdown, json, jsonl, yaml
  template  Go template given with --template, e.g.
            --template '{{range .Files}}{{.Name}} {{.SizeHuman}}{{"\n"}}{{end}}'`,
	Args: cobra.NoArgs,
	RunE: runLs,
}

var (
	outputFormat string
	templateStr  string
)

func init() {
	lsCmd.Flags().StringVarP(&outputFormat, "output", "o", "pretty", "output format")
	lsCmd.Flags().StringVar(&templateStr, "template", "", "template for -o template")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, _ []string) error {
	formatter, err := selectFormatter(outputFormat, templateStr)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	result, err := buildInventory(afero.NewOsFs(), cfg, time.Now())
	if err != nil {
		return err
	}
	result.AgentUp = client.Running(client.FromConfig(cfg, configFileUsed()))

	var buf bytes.Buffer
	if err := formatter.Format(&buf, result); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

func selectFormatter(format, tmpl string) (output.Formatter, error) {
	if format == "template" {
		if tmpl == "" {
			return nil, errors.New("--template is required when using -o template")
		}
		return output.NewTemplateFormatter(tmpl), nil
	}
	formatter, err := output.Get(format)
	if err != nil {
		return nil, fmt.Errorf("unknown output format %q: available formats are %v", format, output.Available())
	}
	return formatter, nil
}

// buildInventory lists the local directory and marks the files the current
// budget would evict.
func buildInventory(fs afero.Fs, cfg config.Config, now time.Time) (*output.Result, error) {
	store := daemon.LocalStore(fs, cfg)
	files, err := store.List()
	if err != nil {
		return nil, err
	}

	plan := eviction.Select(files, cfg.MaxBackupSize)
	result := output.NewResult(cfg.LocalDir, files, plan, now)

	if l, err := ledger.Read(fs, cfg.LedgerPath); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("reading ledger: %v", err))
	} else {
		result.LedgerSize = l.Len()
	}
	if len(plan.Evict) > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d files are over budget and will be evicted on the next sync", len(plan.Evict)))
	}
	return result, nil
}
