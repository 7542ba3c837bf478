// Package localstore is the flat local mirror directory: listing files with
// their creation times, committing downloads atomically and removing
// evicted files.
package localstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

// TempPrefix starts every name the agent writes before it is complete:
// in-flight downloads and ledger rewrites. Such names are never mirror
// content.
const TempPrefix = ".syncsftp-"

// File is one mirrored file.
type File struct {
	Name    string
	Size    int64
	Created time.Time
}

// Store is a local mirror directory on an afero filesystem.
type Store struct {
	fs       afero.Fs
	dir      string
	reserved map[string]struct{}
	birth    BirthTimeFunc
}

// BirthTimeFunc resolves a file's creation time. ok is false when the
// filesystem does not record one.
type BirthTimeFunc func(path string, info os.FileInfo) (created time.Time, ok bool)

// Option configures a Store.
type Option func(*Store)

// WithReserved marks names that live in the directory but are not mirror
// content, such as the ledger file.
func WithReserved(names ...string) Option {
	return func(s *Store) {
		for _, n := range names {
			s.reserved[n] = struct{}{}
		}
	}
}

// WithBirthTime overrides how creation times are read.
func WithBirthTime(fn BirthTimeFunc) Option {
	return func(s *Store) { s.birth = fn }
}

// New returns a Store for dir. On the OS filesystem creation times come
// from statx where available; other filesystems fall back to mtime.
func New(fs afero.Fs, dir string, opts ...Option) *Store {
	s := &Store{
		fs:       fs,
		dir:      dir,
		reserved: make(map[string]struct{}),
	}
	if _, ok := fs.(*afero.OsFs); ok {
		s.birth = osBirthTime
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the mirror directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the local path for a mirrored name.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// IsReserved reports whether name is agent bookkeeping rather than content.
func (s *Store) IsReserved(name string) bool {
	if strings.HasPrefix(name, TempPrefix) {
		return true
	}
	_, ok := s.reserved[name]
	return ok
}

// Ensure creates the mirror directory if needed.
func (s *Store) Ensure() error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", s.dir, err)
	}
	return nil
}

// List returns every regular, non-reserved file, newest first. Files with
// equal creation times are ordered by name, descending, so the order is
// stable across runs.
func (s *Store) List() ([]File, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}

	files := make([]File, 0, len(infos))
	for _, info := range infos {
		if !info.Mode().IsRegular() || s.IsReserved(info.Name()) {
			continue
		}
		files = append(files, File{
			Name:    info.Name(),
			Size:    info.Size(),
			Created: s.created(info),
		})
	}

	SortNewestFirst(files)
	return files, nil
}

// Names returns the set of mirrored names currently present.
func (s *Store) Names() (map[string]struct{}, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(files))
	for _, f := range files {
		names[f.Name] = struct{}{}
	}
	return names, nil
}

func (s *Store) created(info os.FileInfo) time.Time {
	if s.birth != nil {
		if t, ok := s.birth(s.Path(info.Name()), info); ok {
			return t
		}
	}
	return info.ModTime()
}

// SortNewestFirst orders files by creation time descending, then by name
// descending.
func SortNewestFirst(files []File) {
	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].Created.Equal(files[j].Created) {
			return files[i].Created.After(files[j].Created)
		}
		return files[i].Name > files[j].Name
	})
}

// Remove permanently deletes a mirrored file.
func (s *Store) Remove(name string) error {
	if err := s.fs.Remove(s.Path(name)); err != nil {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

// Pending is a download being written under a temporary name. Nothing is
// visible under the final name until Commit succeeds.
type Pending struct {
	store *Store
	name  string
	file  afero.File
	done  bool
}

// Create starts a download of name.
func (s *Store) Create(name string) (*Pending, error) {
	if name == "" || name != filepath.Base(name) || s.IsReserved(name) {
		return nil, fmt.Errorf("refusing to write %q into mirror", name)
	}
	f, err := afero.TempFile(s.fs, s.dir, TempPrefix+name+".*.part")
	if err != nil {
		return nil, fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	return &Pending{store: s, name: name, file: f}, nil
}

func (p *Pending) Write(b []byte) (int, error) { return p.file.Write(b) }

// Commit flushes the temp file and renames it to its final name.
func (p *Pending) Commit() error {
	if p.done {
		return errors.New("download already finished")
	}
	p.done = true

	tmp := p.file.Name()
	if err := p.file.Sync(); err != nil {
		_ = p.file.Close()
		_ = p.store.fs.Remove(tmp)
		return fmt.Errorf("syncing %s: %w", p.name, err)
	}
	if err := p.file.Close(); err != nil {
		_ = p.store.fs.Remove(tmp)
		return fmt.Errorf("closing %s: %w", p.name, err)
	}
	if err := p.store.fs.Rename(tmp, p.store.Path(p.name)); err != nil {
		_ = p.store.fs.Remove(tmp)
		return fmt.Errorf("committing %s: %w", p.name, err)
	}
	return nil
}

// Abort discards the partial download. It is safe to call after Commit.
func (p *Pending) Abort() {
	if p.done {
		return
	}
	p.done = true
	_ = p.file.Close()
	_ = p.store.fs.Remove(p.file.Name())
}

// CleanTemp removes partial files left by an interrupted run and returns
// how many were removed.
func (s *Store) CleanTemp() (int, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("listing %s: %w", s.dir, err)
	}

	log := logging.Get("localstore")
	removed := 0
	for _, info := range infos {
		if info.IsDir() || !strings.HasPrefix(info.Name(), TempPrefix) {
			continue
		}
		if err := s.fs.Remove(s.Path(info.Name())); err != nil {
			log.Warn("could not remove stale temp file", "file", info.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info("removed stale partial downloads", "count", removed)
	}
	return removed, nil
}
