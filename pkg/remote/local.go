package remote

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// Local serves a directory on an afero filesystem. It backs the "local"
// scheme and doubles as the transport in tests.
type Local struct {
	fs   afero.Fs
	root string
}

// NewLocal returns a Local rooted at root.
func NewLocal(fs afero.Fs, root string) *Local {
	return &Local{fs: fs, root: root}
}

func (l *Local) Target() string { return "local:" + l.root }

func (l *Local) Close() error { return nil }

// List returns the entries of dir. An empty or relative dir is resolved
// against the root.
func (l *Local) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := l.resolve(dir)
	infos, err := afero.ReadDir(l.fs, full)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", full, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{
			Name:     info.Name(),
			Size:     uint64(info.Size()),
			FullPath: filepath.Join(full, info.Name()),
			ModTime:  info.ModTime(),
			IsDir:    info.IsDir(),
		})
	}
	return entries, nil
}

func (l *Local) Open(ctx context.Context, fullPath string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := l.fs.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", fullPath, err)
	}
	return f, nil
}

func (l *Local) resolve(dir string) string {
	if dir == "" || dir == l.root {
		return l.root
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(l.root, dir)
}
