package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
	"github.com/antjowie/syncsftp/pkg/syncsftp/types"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage syncsftp configuration settings.

Configuration is loaded from $XDG_CONFIG_HOME/syncsftp/config.yaml, or the
file given with --config.

Environment variables override the file using the SYNCSFTP_ prefix, with
dots replaced by underscores:
  SYNCSFTP_REMOTE_ADDRESS=nas.local
  SYNCSFTP_REMOTE_PASSWORD=secret
  SYNCSFTP_MAX_BACKUP_SIZE=50GiB`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit the configuration file",
	Long: `Open the configuration file in $VISUAL, $EDITOR or vi. A default file
is created first if none exists.`,
	Args: cobra.NoArgs,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the configuration file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// configPath is the file config commands operate on.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.ConfigPath()
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	used := v.ConfigFileUsed()
	if _, statErr := os.Stat(used); used == "" || statErr != nil {
		used = "(none found, using defaults)"
	}
	fmt.Fprintf(out, "Config file: %s\n\n", used)

	printConfig(out, cfg)

	fmt.Fprintln(out, "\nEnvironment Overrides:")
	fmt.Fprintln(out, "----------------------")
	anyOverrides := false
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, config.EnvPrefix+"_") {
			name, value, _ := strings.Cut(kv, "=")
			if strings.Contains(name, "PASSWORD") {
				value = "********"
			}
			fmt.Fprintf(out, "%s=%s\n", name, value)
			anyOverrides = true
		}
	}
	if !anyOverrides {
		fmt.Fprintln(out, "(none)")
	}
	return nil
}

func printConfig(w io.Writer, cfg config.Config) {
	password := ""
	if cfg.Remote.Password != "" {
		password = "********"
	}
	budget := "0 (eviction disabled)"
	if cfg.MaxBackupSize > 0 {
		budget = types.FormatSize(cfg.MaxBackupSize)
	}

	fmt.Fprintln(w, "Current Configuration:")
	fmt.Fprintln(w, "----------------------")
	fmt.Fprintf(w, "remote:                   %s\n", cfg.Remote.Target())
	fmt.Fprintf(w, "remote.username:          %s\n", cfg.Remote.Username)
	fmt.Fprintf(w, "remote.password:          %s\n", password)
	if cfg.Remote.Scheme == config.SchemeSFTP {
		fmt.Fprintf(w, "remote.private_key:       %s\n", cfg.Remote.PrivateKey)
		fmt.Fprintf(w, "remote.known_hosts:       %s\n", cfg.Remote.KnownHosts)
		fmt.Fprintf(w, "remote.insecure_host_key: %t\n", cfg.Remote.InsecureIgnoreHostKey)
	}
	fmt.Fprintf(w, "local_dir:                %s\n", cfg.LocalDir)
	fmt.Fprintf(w, "ledger_path:              %s\n", cfg.LedgerPath)
	fmt.Fprintf(w, "sync_interval:            %s\n", types.FormatDuration(cfg.SyncInterval))
	fmt.Fprintf(w, "max_backup_size:          %s\n", budget)
	fmt.Fprintf(w, "eviction.mode:            %s\n", cfg.EvictionMode)
	fmt.Fprintf(w, "filter.include:           %v\n", cfg.Include)
	fmt.Fprintf(w, "filter.exclude:           %v\n", cfg.Exclude)
	fmt.Fprintf(w, "journal.enabled:          %t\n", cfg.JournalEnabled)
	fmt.Fprintf(w, "journal.path:             %s\n", cfg.JournalPath)
	fmt.Fprintf(w, "journal.retention:        %s\n", types.FormatDuration(cfg.JournalRetention))
	fmt.Fprintf(w, "log.level:                %s\n", cfg.Log.Level)
	fmt.Fprintf(w, "log.path:                 %s\n", cfg.Log.Path)
	fmt.Fprintf(w, "daemon.pid_path:          %s\n", cfg.PIDPath)
	fmt.Fprintf(w, "daemon.status_path:       %s\n", cfg.StatusPath)
}

func runConfigEdit(_ *cobra.Command, _ []string) error {
	path := configPath()
	if _, err := config.WriteDefault(path); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", path, editor)

	editorCmd := exec.Command(editor, path) //nolint:gosec // the user's own editor
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path := configPath()
	created, err := config.WriteDefault(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if !created {
		printInfo("Config file already exists: %s", path)
		printInfo("Use 'syncsftp config edit' to modify it.")
		return nil
	}
	printInfo("Created default config file: %s", path)
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	path := configPath()
	fmt.Fprintln(cmd.OutOrStdout(), path)

	if _, err := os.Stat(path); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}
	return nil
}
