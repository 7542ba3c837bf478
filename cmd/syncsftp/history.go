package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
	"github.com/antjowie/syncsftp/pkg/syncsftp/manifest"
	"github.com/antjowie/syncsftp/pkg/syncsftp/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View eviction history",
	Long: `View the record of eviction passes.

Every time the agent removes local copies to stay within the budget it
writes a manifest listing the files, their sizes and how they were removed.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List eviction passes",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show the files removed in one eviction pass",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old history entries",
	Long:  `Remove history entries older than the journal retention period.`,
	Args:  cobra.NoArgs,
	RunE:  runHistoryClean,
}

var (
	historyLimit int
	historyDays  int
)

func init() {
	historyCmd.PersistentFlags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")
	historyCleanCmd.Flags().IntVar(&historyDays, "days", 0, "retention in days (default: journal.retention_days)")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

// getManifest returns the manifest store for the configured directory,
// falling back to the default when the configuration does not load.
func getManifest() (*manifest.Manifest, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		printVerbose("using default manifest directory: %v", err)
		cfg = config.Config{ManifestDir: config.DefaultManifestDir()}
	}
	m, err := manifest.New(cfg.ManifestDir, manifest.Mode(cfg.EvictionMode))
	if err != nil {
		return nil, cfg, fmt.Errorf("failed to initialize manifest: %w", err)
	}
	return m, cfg, nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	m, _, err := getManifest()
	if err != nil {
		return err
	}

	entries, err := m.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if len(entries) == 0 {
		printInfo("No evictions recorded.")
		return nil
	}

	printHistory(cmd.OutOrStdout(), entries)
	printInfo("\nUse 'syncsftp history show <id>' for the files of an entry.")
	return nil
}

func printHistory(w io.Writer, entries []manifest.Entry) {
	fmt.Fprintf(w, "%-32s  %-19s  %-6s  %6s  %10s  %s\n", "ID", "TIME", "MODE", "FILES", "FREED", "FAILED")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, e := range entries {
		fmt.Fprintf(w, "%-32s  %-19s  %-6s  %6d  %10s  %d\n",
			truncateString(e.ID, 32),
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Mode,
			e.Summary.TotalFiles,
			types.FormatSize(e.Summary.TotalBytes),
			len(e.Failures))
	}
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	m, _, err := getManifest()
	if err != nil {
		return err
	}
	entry, err := m.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}
	printHistoryEntry(cmd.OutOrStdout(), entry)
	return nil
}

func printHistoryEntry(w io.Writer, e *manifest.Entry) {
	fmt.Fprintln(w, "Eviction Details")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "ID:         %s\n", e.ID)
	fmt.Fprintf(w, "Timestamp:  %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05 MST"))
	if e.CycleID != "" {
		fmt.Fprintf(w, "Cycle:      %s\n", e.CycleID)
	}
	fmt.Fprintf(w, "Mode:       %s\n", e.Mode)
	fmt.Fprintf(w, "Budget:     %s\n", types.FormatSize(e.Budget))
	fmt.Fprintf(w, "Kept:       %s\n", types.FormatSize(e.Summary.KeptBytes))
	fmt.Fprintf(w, "Removed:    %d files, %s\n", e.Summary.TotalFiles, types.FormatSize(e.Summary.TotalBytes))

	if len(e.Files) > 0 {
		fmt.Fprintln(w, "\nFiles:")
		fmt.Fprintln(w, strings.Repeat("-", 60))
		fmt.Fprintf(w, "%-12s  %-19s  %s\n", "SIZE", "CREATED", "NAME")
		fmt.Fprintln(w, strings.Repeat("-", 60))
		for _, f := range e.Files {
			fmt.Fprintf(w, "%-12s  %-19s  %s\n",
				types.FormatSize(f.Size), f.Created.Local().Format("2006-01-02 15:04:05"), f.Name)
		}
	}

	if len(e.Failures) > 0 {
		fmt.Fprintln(w, "\nFailed:")
		for _, f := range e.Failures {
			fmt.Fprintf(w, "  %s: %s\n", f.Name, f.Error)
		}
	}
}

func runHistoryClean(_ *cobra.Command, _ []string) error {
	m, cfg, err := getManifest()
	if err != nil {
		return err
	}

	days := historyDays
	if days <= 0 {
		days = int(cfg.JournalRetention.Hours() / 24)
	}
	if days <= 0 {
		days = config.DefaultJournalRetentionDays
	}

	printInfo("Cleaning history entries older than %d days...", days)
	removed, err := m.Cleanup(days)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}
	printInfo("Removed %d entries.", removed)
	return nil
}
