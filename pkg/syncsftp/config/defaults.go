// Package config loads and validates the mirror agent configuration.
package config

import "time"

// Default configuration values.
const (
	// DefaultScheme selects the SFTP transport.
	DefaultScheme = SchemeSFTP

	// DefaultAddress is the remote host used when none is configured.
	DefaultAddress = "localhost"

	// DefaultPort is the SSH port.
	DefaultPort = 22

	// DefaultPrivateKey is looked up relative to the working directory.
	DefaultPrivateKey = "rsa.key"

	// DefaultKnownHosts is the OpenSSH known_hosts file.
	DefaultKnownHosts = "~/.ssh/known_hosts"

	// DefaultRemoteDir and DefaultLocalDir are the mirrored directories.
	DefaultRemoteDir = "backups/"
	DefaultLocalDir  = "backups/"

	// DefaultSyncInterval is the pause between the end of one cycle and the
	// start of the next.
	DefaultSyncInterval = "60s"

	// DefaultMaxBackupSize is the local storage budget. "0" disables eviction.
	DefaultMaxBackupSize = "10GiB"

	// DefaultEvictionMode permanently deletes evicted files.
	DefaultEvictionMode = EvictDelete

	// DefaultJournalRetentionDays bounds the transfer journal.
	DefaultJournalRetentionDays = 30

	// DefaultLogLevel is the file log level.
	DefaultLogLevel = "info"

	// DefaultLogMaxSize is the log rotation threshold.
	DefaultLogMaxSize = "10MiB"

	// DefaultLogMaxBackups is the number of rotated logs kept.
	DefaultLogMaxBackups = 3

	// DefaultLogMaxAgeDays removes rotated logs older than this.
	DefaultLogMaxAgeDays = 7
)

// MinSyncInterval is the shortest accepted sync interval. The scheduler
// checks once per second, so anything shorter cannot be honoured.
const MinSyncInterval = time.Second

// Remote schemes.
const (
	SchemeSFTP  = "sftp"
	SchemeS3    = "s3"
	SchemeLocal = "local"
)

// Eviction modes.
const (
	EvictDelete = "delete"
	EvictTrash  = "trash"
)
