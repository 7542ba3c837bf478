// Command syncsftpd is the headless mirror agent started by `syncsftp start`.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/antjowie/syncsftp/pkg/daemon"
	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "syncsftpd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("syncsftpd", pflag.ContinueOnError)
	cfgFile := flags.String("config", "", "config file (default: $XDG_CONFIG_HOME/syncsftp/config.yaml)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	v := config.New()
	if *cfgFile != "" {
		v.SetConfigFile(*cfgFile)
	}
	cfg, err := config.Load(v)
	if err != nil {
		_ = daemon.WriteStatusError(statusPath(cfg), err)
		return err
	}

	if err := logging.Init(logging.Config{
		Level: cfg.Log.Level,
		Path:  cfg.Log.Path,
		Rotation: logging.RotationConfig{
			MaxSize:    cfg.Log.MaxSize,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAge,
		},
	}); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer func() { _ = logging.Close() }()
	log := logging.Get("daemon")

	release, err := daemon.AcquirePIDFile(cfg.PIDPath, cfg.StatusPath, cfg.JournalPath)
	if err != nil {
		if errors.Is(err, daemon.ErrAgentAlreadyRunning) {
			// Leave the running agent's status file alone.
			return err
		}
		_ = daemon.WriteStatusError(cfg.StatusPath, err)
		return err
	}
	defer release()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	// Restore default handling once stopping, so a second signal kills us
	// while a cycle drains.
	context.AfterFunc(ctx, cancel)

	if err := daemon.WriteStatus(cfg.StatusPath, &daemon.Status{State: daemon.StateStarting, PID: os.Getpid()}); err != nil {
		log.Warn("could not write status", "error", err)
	}

	agent, err := daemon.NewAgent(ctx, cfg, daemon.Options{WriteStatus: true})
	if err != nil {
		log.Error("startup failed", "error", err)
		_ = daemon.WriteStatusError(cfg.StatusPath, err)
		return err
	}
	defer func() { _ = agent.Close() }()

	go daemon.HandleTriggerSignal(ctx, agent.Trigger)

	log.Info("syncsftpd started", "pid", os.Getpid(), "target", cfg.Remote.Target())
	err = agent.Run(ctx)
	log.Info("syncsftpd stopped")

	_ = daemon.RemoveStatus(cfg.StatusPath)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// statusPath is where to report a configuration error, which happens
// before the configured path is known.
func statusPath(cfg config.Config) string {
	if p := os.Getenv(config.EnvPrefix + "_DAEMON_STATUS_PATH"); p != "" {
		return p
	}
	if cfg.StatusPath != "" {
		return cfg.StatusPath
	}
	return config.DefaultStatusPath()
}
