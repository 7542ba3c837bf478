//go:build !windows

package daemon

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHandleTriggerSignal(t *testing.T) {
	// Keep SIGUSR1 from terminating the test binary before the handler
	// has registered.
	guard := make(chan os.Signal, 8)
	signal.Notify(guard, syscall.SIGUSR1)
	defer signal.Stop(guard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		HandleTriggerSignal(ctx, func() bool { calls.Add(1); return true })
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
		return calls.Load() > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not return after cancel")
	}
}
