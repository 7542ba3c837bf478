package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the agent log",
	Long: `Print the last lines of the agent log file. With --follow, keep printing
new lines as the agent writes them, across log rotations.`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsLines  int
	logsFollow bool
)

func init() {
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of lines to show")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep printing new lines")
	rootCmd.AddCommand(logsCmd)
}

func logPath() string {
	if cfg, err := loadConfig(); err == nil && cfg.Log.Path != "" {
		return cfg.Log.Path
	}
	return logging.DefaultLogPath()
}

func runLogs(cmd *cobra.Command, _ []string) error {
	path := logPath()
	out := cmd.OutOrStdout()

	offset, err := printTail(path, logsLines, out)
	if err != nil {
		return err
	}
	if !logsFollow {
		return nil
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return followFile(ctx, path, offset, out)
}

// printTail writes the last n lines of path and returns the offset where
// following should continue.
func printTail(path string, n int, w io.Writer) (int64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		printInfo("No log file at %s yet.", path)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	lines, err := tailLines(f, n)
	if err != nil {
		return 0, fmt.Errorf("reading log: %w", err)
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// tailLines returns the last n lines of r.
func tailLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, scanner.Text())
	}
	return ring, scanner.Err()
}

// followFile copies whatever is appended to path after offset until ctx is
// done. The directory is watched rather than the file, so a rotated log is
// picked up when the new file is created.
func followFile(ctx context.Context, path string, offset int64, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watching log: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			printVerbose("log watcher: %v", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				offset = 0
				fallthrough
			case event.Has(fsnotify.Write):
				if offset, err = copyFrom(path, offset, w); err != nil {
					printVerbose("reading log: %v", err)
				}
			}
		}
	}
}

// copyFrom writes path from offset to its end and returns the new end. A
// file shorter than offset was truncated and is read from the start.
func copyFrom(path string, offset int64, w io.Writer) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return offset, err
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}
	n, err := io.Copy(w, f)
	return offset + n, err
}
