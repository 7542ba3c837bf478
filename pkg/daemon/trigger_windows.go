package daemon

import "context"

// HandleTriggerSignal blocks until ctx is done. Windows has no SIGUSR1, so
// an agent there only syncs on its own schedule.
func HandleTriggerSignal(ctx context.Context, _ func() bool) {
	<-ctx.Done()
}
