package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/antjowie/syncsftp/pkg/client"
	"github.com/antjowie/syncsftp/pkg/daemon/journal"
	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
	"github.com/antjowie/syncsftp/pkg/syncsftp/types"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show past sync cycles",
	Long: `Show the transfer journal: one line per sync cycle, newest first.

The journal is a database owned by the agent. Stop the agent before
reading it; 'syncsftp status' shows the last cycle while it runs.`,
	Args: cobra.NoArgs,
	RunE: runJournal,
}

var journalFileCmd = &cobra.Command{
	Use:   "file NAME",
	Short: "Show every download attempt of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalFile,
}

var journalLimit int

func init() {
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "l", 20, "maximum number of cycles to show (0 for all)")
	journalCmd.AddCommand(journalFileCmd)
	rootCmd.AddCommand(journalCmd)
}

// openJournal opens the journal for reading. Badger allows one process per
// database, so this fails while an agent holds it.
func openJournal() (*journal.Journal, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.JournalEnabled {
		return nil, errors.New("the journal is disabled (journal.enabled: false)")
	}
	if client.Running(client.FromConfig(cfg, configFileUsed())) {
		return nil, errors.New("the journal is in use by the running agent (stop it with: syncsftp stop)")
	}
	return openJournalAt(cfg)
}

func openJournalAt(cfg config.Config) (*journal.Journal, error) {
	printVerbose("opening journal at %s", cfg.JournalPath)
	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func runJournal(cmd *cobra.Command, _ []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()

	cycles, err := j.Cycles(journalLimit)
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}
	if len(cycles) == 0 {
		printInfo("No cycles recorded yet.")
		return nil
	}
	printCycles(cmd.OutOrStdout(), cycles)
	return nil
}

func runJournalFile(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()

	files, err := j.Files(args[0])
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}
	if len(files) == 0 {
		printInfo("No download attempts recorded for %s.", args[0])
		return nil
	}
	printFileAttempts(cmd.OutOrStdout(), files)
	return nil
}

func printCycles(w io.Writer, cycles []journal.Cycle) {
	fmt.Fprintf(w, "%-19s  %-9s  %7s  %7s  %6s  %7s  %10s  %s\n",
		"STARTED", "DURATION", "LISTED", "FETCHED", "FAILED", "EVICTED", "BYTES", "ERROR")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, c := range cycles {
		fmt.Fprintf(w, "%-19s  %-9s  %7d  %7d  %6d  %7d  %10s  %s\n",
			c.Started.Local().Format("2006-01-02 15:04:05"),
			types.FormatDuration(c.Duration().Round(time.Millisecond)),
			c.Listed, c.Fetched, c.Failed, c.Evicted,
			types.FormatSize(c.Bytes),
			truncateString(c.Error, 40))
	}
}

func printFileAttempts(w io.Writer, files []journal.File) {
	fmt.Fprintf(w, "%-19s  %10s  %-9s  %-36s  %s\n", "FETCHED AT", "SIZE", "DURATION", "CYCLE", "RESULT")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, f := range files {
		result := "ok"
		if f.Error != "" {
			result = f.Error
		}
		fmt.Fprintf(w, "%-19s  %10s  %-9s  %-36s  %s\n",
			f.FetchedAt.Local().Format("2006-01-02 15:04:05"),
			types.FormatSize(f.Size),
			types.FormatDuration(f.Duration.Round(time.Millisecond)),
			f.CycleID, result)
	}
}
