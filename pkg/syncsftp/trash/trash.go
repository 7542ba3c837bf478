// Package trash evicts mirrored files into the desktop trash instead of
// unlinking them, so an operator can still recover a file the budget
// pushed out. Hosts without a trash fall back to permanent deletion.
package trash

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

// commandTimeout bounds each external trash command.
const commandTimeout = 30 * time.Second

// Bin moves files out of one directory into the trash. It satisfies the
// eviction remover contract.
type Bin struct {
	dir      string
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, bin string, args ...string) error
}

// New returns a Bin for files in dir.
func New(dir string) *Bin {
	return &Bin{
		dir:      dir,
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, bin string, args ...string) error {
			return exec.CommandContext(ctx, bin, args...).Run()
		},
	}
}

// Remove trashes dir/name.
func (b *Bin) Remove(name string) error {
	path, err := filepath.Abs(filepath.Join(b.dir, name))
	if err != nil {
		return fmt.Errorf("resolving %s: %w", name, err)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot trash %s: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	for _, cmd := range b.commands(path) {
		bin, err := b.lookPath(cmd[0])
		if err != nil {
			continue
		}
		if err := b.run(ctx, bin, cmd[1:]...); err == nil {
			return nil
		}
	}

	logging.Get("trash").Debug("no trash available, deleting", "file", name)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

// commands lists the trash invocations to try in order.
func (b *Bin) commands(path string) [][]string {
	switch b.goos {
	case "darwin":
		script := fmt.Sprintf(`tell application "Finder" to delete POSIX file %q`, path)
		return [][]string{{"osascript", "-e", script}}
	case "linux":
		return [][]string{
			{"gio", "trash", path},
			{"trash-put", path},
		}
	}
	return nil
}
