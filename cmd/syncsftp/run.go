package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antjowie/syncsftp/cmd/syncsftp/tui"
	"github.com/antjowie/syncsftp/pkg/daemon"
	"github.com/antjowie/syncsftp/pkg/mirror/scheduler"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

var runPlain bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the mirror agent in the foreground",
	Long: `Run the mirror agent in this terminal until interrupted.

The interactive display shows the remote, the local directory and its size
against the budget, the countdown to the next sync and a progress bar per
download.

Keys:
  s        sync now
  l        toggle the log pane (1-4 filter by level, ↑/↓ scroll)
  q        quit

Use --plain for line-oriented output, e.g. when running under a service
manager or with output redirected.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().BoolVar(&runPlain, "plain", false, "plain progress bars and log lines instead of the interactive display")
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := initLogging(cfg, !runPlain); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer func() { _ = logging.Close() }()

	release, err := daemon.AcquirePIDFile(cfg.PIDPath, cfg.StatusPath, cfg.JournalPath)
	if err != nil {
		if errors.Is(err, daemon.ErrAgentAlreadyRunning) {
			return fmt.Errorf("%w (stop it with: syncsftp stop)", err)
		}
		return err
	}
	defer release()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	printVerbose("connecting to %s", cfg.Remote.Target())
	agent, err := daemon.NewAgent(ctx, cfg, daemon.Options{WriteStatus: true})
	if err != nil {
		_ = daemon.WriteStatusError(cfg.StatusPath, err)
		return err
	}
	defer func() { _ = agent.Close() }()
	defer func() { _ = daemon.RemoveStatus(cfg.StatusPath) }()

	go daemon.HandleTriggerSignal(ctx, agent.Trigger)

	runErr := make(chan error, 1)
	go func() { runErr <- agent.Run(ctx) }()

	var displayErr error
	if runPlain {
		displayErr = runPlainDisplay(ctx, agent, cmd.OutOrStdout())
	} else {
		logs := logging.Subscribe()
		defer logging.Unsubscribe(logs)
		displayErr = tui.Run(ctx, tui.Options{
			Agent:   agent,
			Cancel:  cancel,
			Quantum: scheduler.DefaultQuantum,
			Logs:    logs,
			LogSeed: logging.Recent(logging.DefaultBufferSize),
		})
	}

	// The display returns when the user quits; stop the agent either way
	// and wait for an in-flight cycle to finish.
	cancel()
	err = <-runErr
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(displayErr, err)
}
