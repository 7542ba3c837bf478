package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/gobwas/glob"
	"github.com/spf13/viper"

	"github.com/antjowie/syncsftp/pkg/syncsftp/types"
)

// EnvPrefix is the prefix of environment variable overrides,
// e.g. SYNCSFTP_REMOTE_ADDRESS or SYNCSFTP_MAX_BACKUP_SIZE.
const EnvPrefix = "SYNCSFTP"

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid configuration")

// file mirrors the YAML layout. Sizes and durations stay strings here and
// are parsed once by build.
type file struct {
	Remote struct {
		Scheme                string `mapstructure:"scheme"`
		Address               string `mapstructure:"address"`
		Port                  int    `mapstructure:"port"`
		Username              string `mapstructure:"username"`
		Password              string `mapstructure:"password"`
		PrivateKey            string `mapstructure:"private_key"`
		KnownHosts            string `mapstructure:"known_hosts"`
		InsecureIgnoreHostKey bool   `mapstructure:"insecure_ignore_host_key"`
		Dir                   string `mapstructure:"dir"`
		Bucket                string `mapstructure:"bucket"`
		UseSSL                bool   `mapstructure:"use_ssl"`
	} `mapstructure:"remote"`
	LocalDir      string `mapstructure:"local_dir"`
	LedgerPath    string `mapstructure:"ledger_path"`
	SyncInterval  string `mapstructure:"sync_interval"`
	MaxBackupSize string `mapstructure:"max_backup_size"`
	Eviction      struct {
		Mode string `mapstructure:"mode"`
	} `mapstructure:"eviction"`
	Filter struct {
		Include []string `mapstructure:"include"`
		Exclude []string `mapstructure:"exclude"`
	} `mapstructure:"filter"`
	Journal struct {
		Enabled       bool   `mapstructure:"enabled"`
		Path          string `mapstructure:"path"`
		RetentionDays int    `mapstructure:"retention_days"`
	} `mapstructure:"journal"`
	Log struct {
		Level      string `mapstructure:"level"`
		Path       string `mapstructure:"path"`
		MaxSize    string `mapstructure:"max_size"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`
	Daemon struct {
		BinaryPath string `mapstructure:"binary_path"`
		PIDPath    string `mapstructure:"pid_path"`
		StatusPath string `mapstructure:"status_path"`
	} `mapstructure:"daemon"`
}

// Remote describes how to reach the remote file server.
type Remote struct {
	Scheme                string
	Address               string
	Port                  int
	Username              string
	Password              string
	PrivateKey            string
	KnownHosts            string
	InsecureIgnoreHostKey bool
	Dir                   string
	Bucket                string
	UseSSL                bool
}

// HostPort returns "address:port".
func (r Remote) HostPort() string {
	return net.JoinHostPort(r.Address, strconv.Itoa(r.Port))
}

// Target is the human-readable connection target shown in status output.
func (r Remote) Target() string {
	switch r.Scheme {
	case SchemeLocal:
		return "local:" + r.Dir
	case SchemeS3:
		return fmt.Sprintf("s3://%s/%s/%s", r.HostPort(), r.Bucket, strings.TrimPrefix(r.Dir, "/"))
	}
	user := ""
	if r.Username != "" {
		user = r.Username + "@"
	}
	return fmt.Sprintf("sftp://%s%s/%s", user, r.HostPort(), strings.TrimPrefix(r.Dir, "/"))
}

// Log holds the resolved logging settings.
type Log struct {
	Level      string
	Path       string
	MaxSize    int64
	MaxBackups int
	MaxAge     time.Duration
}

// Config is the validated, read-only agent configuration. It is built once
// by Load and handed to components by value.
type Config struct {
	Remote        Remote
	LocalDir      string
	LedgerPath    string
	SyncInterval  time.Duration
	MaxBackupSize int64
	EvictionMode  string
	Include       []string
	Exclude       []string

	JournalEnabled   bool
	JournalPath      string
	JournalRetention time.Duration
	ManifestDir      string

	Log Log

	DaemonBinary string
	PIDPath      string
	StatusPath   string
}

// New returns a viper instance with defaults, config search paths and
// environment overrides registered. Callers may bind flags to it before
// passing it to Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	return v
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("remote.scheme", DefaultScheme)
	v.SetDefault("remote.address", DefaultAddress)
	v.SetDefault("remote.port", DefaultPort)
	v.SetDefault("remote.username", "")
	v.SetDefault("remote.password", "")
	v.SetDefault("remote.private_key", DefaultPrivateKey)
	v.SetDefault("remote.known_hosts", DefaultKnownHosts)
	v.SetDefault("remote.insecure_ignore_host_key", false)
	v.SetDefault("remote.dir", DefaultRemoteDir)
	v.SetDefault("remote.bucket", "")
	v.SetDefault("remote.use_ssl", true)

	v.SetDefault("local_dir", DefaultLocalDir)
	v.SetDefault("ledger_path", "")
	v.SetDefault("sync_interval", DefaultSyncInterval)
	v.SetDefault("max_backup_size", DefaultMaxBackupSize)
	v.SetDefault("eviction.mode", DefaultEvictionMode)
	v.SetDefault("filter.include", []string{})
	v.SetDefault("filter.exclude", []string{})

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "")
	v.SetDefault("journal.retention_days", DefaultJournalRetentionDays)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.path", "")
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age_days", DefaultLogMaxAgeDays)

	v.SetDefault("daemon.binary_path", "")
	v.SetDefault("daemon.pid_path", "")
	v.SetDefault("daemon.status_path", "")
}

// Load reads the config file (a missing file is fine), applies environment
// overrides and validates the result.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var raw file
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return raw.build()
}

func (f file) build() (Config, error) {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...))
	}

	cfg := Config{
		Remote: Remote{
			Scheme:                strings.ToLower(strings.TrimSpace(f.Remote.Scheme)),
			Address:               strings.TrimSpace(f.Remote.Address),
			Port:                  f.Remote.Port,
			Username:              f.Remote.Username,
			Password:              f.Remote.Password,
			InsecureIgnoreHostKey: f.Remote.InsecureIgnoreHostKey,
			Dir:                   f.Remote.Dir,
			Bucket:                f.Remote.Bucket,
			UseSSL:                f.Remote.UseSSL,
		},
		EvictionMode:   strings.ToLower(strings.TrimSpace(f.Eviction.Mode)),
		Include:        append([]string(nil), f.Filter.Include...),
		Exclude:        append([]string(nil), f.Filter.Exclude...),
		JournalEnabled: f.Journal.Enabled,
		DaemonBinary:   f.Daemon.BinaryPath,
	}

	var err error
	expand := func(field, p string) string {
		out, expErr := ExpandPath(p)
		if expErr != nil {
			fail("%s: %v", field, expErr)
		}
		return out
	}

	cfg.Remote.PrivateKey = expand("remote.private_key", f.Remote.PrivateKey)
	cfg.Remote.KnownHosts = expand("remote.known_hosts", f.Remote.KnownHosts)
	cfg.LocalDir = expand("local_dir", f.LocalDir)

	switch cfg.Remote.Scheme {
	case SchemeSFTP:
		if cfg.Remote.Username == "" {
			fail("remote.username is required for sftp")
		}
		if cfg.Remote.Address == "" {
			fail("remote.address is required")
		}
	case SchemeS3:
		if cfg.Remote.Bucket == "" {
			fail("remote.bucket is required for s3")
		}
		if cfg.Remote.Address == "" {
			fail("remote.address is required")
		}
	case SchemeLocal:
		cfg.Remote.Dir = expand("remote.dir", cfg.Remote.Dir)
	default:
		fail("remote.scheme %q is not one of sftp, s3, local", f.Remote.Scheme)
	}
	if cfg.Remote.Scheme != SchemeLocal && (cfg.Remote.Port < 1 || cfg.Remote.Port > 65535) {
		fail("remote.port %d out of range", cfg.Remote.Port)
	}
	if strings.TrimSpace(cfg.Remote.Dir) == "" && cfg.Remote.Scheme != SchemeS3 {
		fail("remote.dir must not be empty")
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		fail("local_dir must not be empty")
	}

	cfg.LedgerPath = f.LedgerPath
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = filepath.Join(cfg.LocalDir, LedgerFileName)
	} else {
		cfg.LedgerPath = expand("ledger_path", cfg.LedgerPath)
	}

	if cfg.SyncInterval, err = types.ParseDuration(f.SyncInterval); err != nil {
		fail("sync_interval: %v", err)
	} else if cfg.SyncInterval < MinSyncInterval {
		fail("sync_interval %s is below %s", cfg.SyncInterval, MinSyncInterval)
	}

	if cfg.MaxBackupSize, err = types.ParseSize(f.MaxBackupSize); err != nil {
		fail("max_backup_size: %v", err)
	}

	switch cfg.EvictionMode {
	case EvictDelete, EvictTrash:
	default:
		fail("eviction.mode %q is not one of delete, trash", f.Eviction.Mode)
	}

	for _, p := range append(append([]string(nil), cfg.Include...), cfg.Exclude...) {
		if _, matchErr := glob.Compile(p); matchErr != nil {
			fail("filter pattern %q: %v", p, matchErr)
		}
	}

	cfg.JournalPath = f.Journal.Path
	if cfg.JournalPath == "" {
		cfg.JournalPath = DefaultJournalPath()
	} else {
		cfg.JournalPath = expand("journal.path", cfg.JournalPath)
	}
	if f.Journal.RetentionDays < 0 {
		fail("journal.retention_days must not be negative")
	}
	cfg.JournalRetention = time.Duration(f.Journal.RetentionDays) * types.Day
	cfg.ManifestDir = DefaultManifestDir()

	cfg.Log = Log{
		Level:      f.Log.Level,
		Path:       f.Log.Path,
		MaxBackups: f.Log.MaxBackups,
		MaxAge:     time.Duration(f.Log.MaxAgeDays) * types.Day,
	}
	if cfg.Log.Path != "" {
		cfg.Log.Path = expand("log.path", cfg.Log.Path)
	}
	if f.Log.MaxSize != "" {
		if cfg.Log.MaxSize, err = types.ParseSize(f.Log.MaxSize); err != nil {
			fail("log.max_size: %v", err)
		}
	}

	cfg.PIDPath = f.Daemon.PIDPath
	if cfg.PIDPath == "" {
		cfg.PIDPath = DefaultPIDPath()
	}
	cfg.StatusPath = f.Daemon.StatusPath
	if cfg.StatusPath == "" {
		cfg.StatusPath = DefaultStatusPath()
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// LedgerFileName is the retention ledger kept inside the local directory.
const LedgerFileName = "purged_files.json"

// ConfigDir returns $XDG_CONFIG_HOME/syncsftp.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "syncsftp")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns $XDG_DATA_HOME/syncsftp, home of the journal and manifests.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "syncsftp")
}

// StateDir returns $XDG_STATE_HOME/syncsftp, home of logs, PID and status files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "syncsftp")
}

// DefaultPIDPath returns the agent PID file path.
func DefaultPIDPath() string {
	return filepath.Join(StateDir(), "syncsftpd.pid")
}

// DefaultStatusPath returns the agent status file path.
func DefaultStatusPath() string {
	return filepath.Join(StateDir(), "syncsftpd.status")
}

// DefaultJournalPath returns the badger directory of the transfer journal.
func DefaultJournalPath() string {
	return filepath.Join(DataDir(), "journal")
}

// DefaultManifestDir returns the directory of eviction manifests.
func DefaultManifestDir() string {
	return filepath.Join(DataDir(), "manifests")
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// WriteDefault writes a commented configuration template to path unless a
// file already exists there. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultTemplate), 0o600); err != nil {
		return false, fmt.Errorf("writing default config: %w", err)
	}
	return true, nil
}

var defaultTemplate = fmt.Sprintf(`# syncsftp configuration

remote:
  # sftp, s3 or local
  scheme: %s
  address: %s
  port: %d
  username: ""
  password: ""
  # Private key for sftp; ignored when the file does not exist.
  private_key: %s
  known_hosts: %s
  insecure_ignore_host_key: false
  # Directory (sftp, local) or object prefix (s3) to mirror.
  dir: %s
  # s3 only
  bucket: ""
  use_ssl: true

# Local mirror directory. Files are stored flat under their remote names.
local_dir: %s

# Where evicted names are recorded. Empty means <local_dir>/%s.
ledger_path: ""

# Time between the end of one cycle and the start of the next.
sync_interval: %s

# Local storage budget. Oldest files are evicted beyond it. 0 disables eviction.
max_backup_size: %s

eviction:
  # delete or trash
  mode: %s

# Glob patterns matched against remote file names.
filter:
  include: []
  exclude: []

journal:
  enabled: true
  # Empty means $XDG_DATA_HOME/syncsftp/journal
  path: ""
  retention_days: %d

log:
  # debug, info, warn, error
  level: %s
  # Empty means $XDG_STATE_HOME/syncsftp/syncsftp.log
  path: ""
  max_size: %s
  max_backups: %d
  max_age_days: %d
`, DefaultScheme, DefaultAddress, DefaultPort, DefaultPrivateKey, DefaultKnownHosts,
	DefaultRemoteDir, DefaultLocalDir, LedgerFileName, DefaultSyncInterval, DefaultMaxBackupSize,
	DefaultEvictionMode, DefaultJournalRetentionDays, DefaultLogLevel, DefaultLogMaxSize,
	DefaultLogMaxBackups, DefaultLogMaxAgeDays)
