//go:build !windows

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

// HandleTriggerSignal calls trigger on every SIGUSR1 until ctx is done.
// This is how `syncsftp sync` reaches a running agent.
func HandleTriggerSignal(ctx context.Context, trigger func() bool) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	defer signal.Stop(ch)

	log := logging.Get("daemon")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if trigger() {
				log.Info("sync requested by signal")
			} else {
				log.Debug("sync already pending, signal ignored")
			}
		}
	}
}
