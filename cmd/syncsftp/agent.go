package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/antjowie/syncsftp/pkg/client"
	"github.com/antjowie/syncsftp/pkg/daemon"
	"github.com/antjowie/syncsftp/pkg/syncsftp/types"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background agent",
	Long: `Start syncsftpd in the background with the current configuration and
wait until it has connected to the remote.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background agent",
	Long:  `Stop syncsftpd. A download in progress is finished first.`,
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the background agent",
	Long:  `Stop and start syncsftpd, e.g. after editing the configuration.`,
	Args:  cobra.NoArgs,
	RunE:  runRestart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status",
	Long:  `Show what the running agent (background or foreground) is doing.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Ask the running agent to sync now",
	Long: `Start a sync cycle now instead of waiting for the interval. Ignored if a
cycle is already running.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "print the raw status as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
}

func runStart(_ *cobra.Command, _ []string) error {
	paths := agentPaths()
	if client.Running(paths) {
		printInfo("Agent already running")
		return nil
	}
	printVerbose("starting agent (pid file %s)", paths.PID)
	if err := client.Start(paths); err != nil {
		return err
	}
	printInfo("Agent started")
	return nil
}

func runStop(_ *cobra.Command, _ []string) error {
	paths := agentPaths()
	if !client.Running(paths) {
		return client.ErrNotRunning
	}
	printVerbose("stopping agent (pid file %s)", paths.PID)
	if err := client.Stop(paths); err != nil {
		return err
	}
	printInfo("Agent stopped")
	return nil
}

func runRestart(_ *cobra.Command, _ []string) error {
	if err := client.Restart(agentPaths()); err != nil {
		return err
	}
	printInfo("Agent restarted")
	return nil
}

func runSync(_ *cobra.Command, _ []string) error {
	if err := client.Trigger(agentPaths()); err != nil {
		if errors.Is(err, client.ErrNotRunning) {
			return fmt.Errorf("%w (start it with: syncsftp start)", err)
		}
		return fmt.Errorf("signalling agent: %w", err)
	}
	printInfo("Sync requested")
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	status, err := client.Status(agentPaths())
	if errors.Is(err, client.ErrNotRunning) {
		if statusJSON {
			return writeJSON(cmd.OutOrStdout(), daemon.Status{State: daemon.StateStopped})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Agent: not running")
		return nil
	}
	if err != nil {
		return err
	}

	if statusJSON {
		return writeJSON(cmd.OutOrStdout(), status)
	}
	printStatus(cmd.OutOrStdout(), status, time.Now())
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printStatus renders a status file for humans.
func printStatus(w io.Writer, s *daemon.Status, now time.Time) {
	fmt.Fprintf(w, "Agent:     %s (pid %d)\n", s.State, s.PID)
	if s.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", s.Error)
	}
	if s.State == daemon.StateError {
		return
	}

	fmt.Fprintf(w, "Remote:    %s\n", s.Target)
	fmt.Fprintf(w, "Local:     %s\n", s.LocalDir)

	budget := "no limit"
	if s.Budget > 0 {
		budget = types.FormatSize(s.Budget)
	}
	fmt.Fprintf(w, "Stored:    %d files, %s of %s\n", s.Local.Files, types.FormatSize(s.Local.Bytes), budget)
	fmt.Fprintf(w, "Ledger:    %d evicted names\n", s.LedgerSize)

	switch {
	case s.Scheduler.Running:
		fmt.Fprintf(w, "State:     syncing (cycle %d)\n", s.Scheduler.Cycles)
	default:
		fmt.Fprintf(w, "State:     waiting, next sync in %s\n",
			types.FormatDuration(s.Scheduler.Until(now).Round(time.Second)))
	}

	if c := s.LastCycle; c != nil {
		fmt.Fprintf(w, "Last sync: %s (%s), %d fetched, %d failed, %d evicted, %s\n",
			c.Started.Local().Format("2006-01-02 15:04:05"),
			types.FormatDuration(c.Duration.Round(time.Millisecond)),
			c.Fetched, c.Failed, c.Evicted, types.FormatSize(c.Bytes))
		if c.Error != "" {
			fmt.Fprintf(w, "           %s\n", c.Error)
		}
	}

	if len(s.Transfers) > 0 {
		fmt.Fprintln(w, "Transfers:")
		for _, t := range s.Transfers {
			pct := 0.0
			if t.Total > 0 {
				pct = min(float64(t.Transferred)/float64(t.Total)*100, 100)
			}
			fmt.Fprintf(w, "  %-40s %5.1f%%  %s / %s  %s\n",
				truncateString(t.Name, 40), pct,
				types.FormatSize(t.Transferred), types.FormatSize(t.Total),
				types.FormatRate(t.Throughput))
		}
	}
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
