package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

// dialTimeout bounds the TCP connect and SSH handshake.
const dialTimeout = 15 * time.Second

// SFTP is an SFTP session over SSH. A session that breaks is dropped and
// re-established on the next call, so a later cycle recovers from a server
// restart without restarting the agent.
type SFTP struct {
	cfg  config.Remote
	auth []ssh.AuthMethod
	host ssh.HostKeyCallback

	mu     sync.Mutex
	conn   *ssh.Client
	client *sftp.Client
}

// DialSFTP connects and authenticates. The returned session is ready for
// List and Open.
func DialSFTP(ctx context.Context, cfg config.Remote) (*SFTP, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}
	host, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	s := &SFTP{cfg: cfg, auth: auth, host: host}
	if _, err := s.session(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func authMethods(cfg config.Remote) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.PrivateKey != "" {
		pem, err := os.ReadFile(cfg.PrivateKey)
		switch {
		case err == nil:
			signer, err := ssh.ParsePrivateKey(pem)
			if err != nil {
				return nil, fmt.Errorf("parsing private key %s: %w", cfg.PrivateKey, err)
			}
			methods = append(methods, ssh.PublicKeys(signer))
		case errors.Is(err, os.ErrNotExist):
			logging.Get("remote").Debug("private key not found, skipping", "path", cfg.PrivateKey)
		default:
			return nil, fmt.Errorf("reading private key: %w", err)
		}
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("no ssh authentication configured: set remote.password or remote.private_key")
	}
	return methods, nil
}

func hostKeyCallback(cfg config.Remote) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		logging.Get("remote").Warn("host key verification disabled", "target", cfg.Target())
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicitly requested by configuration
	}
	cb, err := knownhosts.New(cfg.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("loading known hosts %s (or set remote.insecure_ignore_host_key): %w", cfg.KnownHosts, err)
	}
	return cb, nil
}

// session returns the live client, connecting if necessary.
func (s *SFTP) session(ctx context.Context) (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	addr := s.cfg.HostPort()
	dialer := net.Dialer{Timeout: dialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	_ = raw.SetDeadline(time.Now().Add(dialTimeout))
	c, chans, reqs, err := ssh.NewClientConn(raw, addr, &ssh.ClientConfig{
		User:            s.cfg.Username,
		Auth:            s.auth,
		HostKeyCallback: s.host,
		Timeout:         dialTimeout,
	})
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = raw.SetDeadline(time.Time{})

	conn := ssh.NewClient(c, chans, reqs)
	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("starting sftp subsystem: %w", err)
	}

	s.conn = conn
	s.client = client
	logging.Get("remote").Info("connected", "target", s.cfg.Target())
	return client, nil
}

// drop discards the session after a connection-level failure.
func (s *SFTP) drop(client *sftp.Client, cause error) {
	if !isConnectionLost(cause) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != client {
		return
	}
	_ = s.client.Close()
	_ = s.conn.Close()
	s.client, s.conn = nil, nil
	logging.Get("remote").Warn("sftp session lost, will reconnect", "error", cause)
}

func isConnectionLost(err error) bool {
	return errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed)
}

func (s *SFTP) Target() string { return s.cfg.Target() }

func (s *SFTP) List(ctx context.Context, dir string) ([]Entry, error) {
	client, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	infos, err := client.ReadDir(dir)
	if err != nil {
		s.drop(client, err)
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{
			Name:     info.Name(),
			Size:     uint64(info.Size()),
			FullPath: path.Join(dir, info.Name()),
			ModTime:  info.ModTime(),
			IsDir:    info.IsDir(),
		})
	}
	return entries, nil
}

func (s *SFTP) Open(ctx context.Context, fullPath string) (io.ReadCloser, error) {
	client, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	f, err := client.Open(fullPath)
	if err != nil {
		s.drop(client, err)
		return nil, fmt.Errorf("opening %s: %w", fullPath, err)
	}
	return &sftpReader{file: f, ctx: ctx, onErr: func(err error) { s.drop(client, err) }}, nil
}

func (s *SFTP) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := errors.Join(s.client.Close(), s.conn.Close())
	s.client, s.conn = nil, nil
	return err
}

// sftpReader stops reading once ctx is done and reports transport errors
// back to the session.
type sftpReader struct {
	file  *sftp.File
	ctx   context.Context
	onErr func(error)
}

func (r *sftpReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := r.file.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		r.onErr(err)
	}
	return n, err
}

func (r *sftpReader) Close() error { return r.file.Close() }
