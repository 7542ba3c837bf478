// Package remote provides the transports the agent mirrors from: SFTP
// servers, S3-compatible object stores and plain directories.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"

	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
)

// ErrUnsupportedScheme is returned by Dial for unknown transports.
var ErrUnsupportedScheme = errors.New("unsupported remote scheme")

// Entry is one item of a remote directory listing.
type Entry struct {
	// Name is the base name, which is also the local file name.
	Name string
	// Size is the size reported by the listing. The downloaded size may
	// differ if the file is still being written remotely.
	Size uint64
	// FullPath is what Open expects.
	FullPath string
	ModTime  time.Time
	IsDir    bool
}

// Remote lists a directory and streams files out of it. Implementations
// must allow concurrent Open calls.
type Remote interface {
	List(ctx context.Context, dir string) ([]Entry, error)
	Open(ctx context.Context, fullPath string) (io.ReadCloser, error)
	// Target identifies the remote in status output.
	Target() string
	Close() error
}

// Dial connects to the remote described by cfg. Connection failures are
// returned as-is so the caller can treat them as fatal at startup.
func Dial(ctx context.Context, cfg config.Remote) (Remote, error) {
	switch cfg.Scheme {
	case config.SchemeSFTP:
		return DialSFTP(ctx, cfg)
	case config.SchemeS3:
		return DialS3(ctx, cfg)
	case config.SchemeLocal:
		return NewLocal(afero.NewOsFs(), cfg.Dir), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, cfg.Scheme)
}
