package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/antjowie/syncsftp/pkg/client"
	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

var (
	cfgFile string
	v       = config.New()
	rootCmd = &cobra.Command{
		Use:   "syncsftp",
		Short: "Mirror backups from an SFTP server into a size-limited local directory",
		Long: `syncsftp keeps a local copy of the files in a remote directory.

Every sync interval it lists the remote, downloads files it has never seen,
then deletes the oldest local copies until the directory fits the configured
budget. Deleted names are remembered so they are never downloaded again.

Examples:
  syncsftp run               # Run the agent in the foreground with a live display
  syncsftp start             # Run the agent in the background
  syncsftp status            # Show what the background agent is doing
  syncsftp sync              # Ask the agent to sync now
  syncsftp ls                # List local copies, marking the next to be evicted
  syncsftp config init       # Write a default configuration file`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/syncsftp/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	_ = v.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = v.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig points viper at an explicit config file if one was given.
func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads and validates the configuration.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// configFileUsed is the file the agent should be started with.
func configFileUsed() string {
	if cfgFile != "" {
		return cfgFile
	}
	return v.ConfigFileUsed()
}

// agentPaths loads the configuration and returns where the agent lives.
// An invalid configuration still yields the default paths, so stop and
// status keep working while the user fixes it.
func agentPaths() client.Paths {
	cfg, err := loadConfig()
	if err != nil {
		printVerbose("using default agent paths: %v", err)
		return client.Paths{Config: configFileUsed()}
	}
	return client.FromConfig(cfg, configFileUsed())
}

// initLogging sets up the log file for commands that run the agent.
func initLogging(cfg config.Config, tuiMode bool) error {
	level := cfg.Log.Level
	if getVerbose() {
		level = logging.LevelDebug.String()
	}
	console := ""
	if !tuiMode && !getQuiet() {
		console = logging.LevelInfo.String()
	}
	return logging.Init(logging.Config{
		Level: level,
		Path:  cfg.Log.Path,
		Rotation: logging.RotationConfig{
			MaxSize:    cfg.Log.MaxSize,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAge,
		},
		ConsoleLevel: console,
		TUIMode:      tuiMode,
	})
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return v.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return v.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
