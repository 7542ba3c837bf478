package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/antjowie/syncsftp/pkg/client"
	"github.com/antjowie/syncsftp/pkg/mirror/ledger"
	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the retention ledger",
	Long: `The ledger lists every file name the agent has evicted. Names in the
ledger are never downloaded again, even if they are still on the remote.`,
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List evicted names",
	Args:  cobra.NoArgs,
	RunE:  runLedgerList,
}

var ledgerForgetCmd = &cobra.Command{
	Use:   "forget NAME...",
	Short: "Remove names so they are downloaded again",
	Long: `Remove names from the ledger. On the next sync they are downloaded again
if they are still on the remote, and evicted again if they do not fit the
budget. The agent must be stopped first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLedgerForget,
}

// errLedgerBusy is returned when the ledger would be changed under a
// running agent.
var errLedgerBusy = errors.New("the agent is running; stop it before changing the ledger (syncsftp stop)")

func init() {
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerForgetCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedgerList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	l, err := ledger.Read(afero.NewOsFs(), cfg.LedgerPath)
	if err != nil {
		return err
	}
	if l.Len() == 0 {
		printInfo("The ledger is empty.")
		return nil
	}
	printLedger(cmd.OutOrStdout(), l)
	return nil
}

func printLedger(w io.Writer, l *ledger.Ledger) {
	for _, name := range l.Names() {
		fmt.Fprintln(w, name)
	}
}

func runLedgerForget(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if client.Running(client.FromConfig(cfg, configFileUsed())) {
		return errLedgerBusy
	}

	removed, err := forgetNames(afero.NewOsFs(), cfg, args)
	if err != nil {
		return err
	}
	printInfo("Removed %d of %d names from the ledger.", removed, len(args))
	return nil
}

func forgetNames(fs afero.Fs, cfg config.Config, names []string) (int, error) {
	l, err := ledger.Read(fs, cfg.LedgerPath)
	if err != nil {
		return 0, err
	}
	removed := l.Forget(names...)
	if removed == 0 {
		return 0, nil
	}
	if err := l.Save(); err != nil {
		return 0, fmt.Errorf("saving ledger: %w", err)
	}
	return removed, nil
}
