// Package types holds the small value helpers shared by the mirror agent:
// byte-size and duration parsing for configuration, and their human-readable
// formatting for status output.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// Day is the unit used by the "d" duration suffix.
const Day = 24 * time.Hour

var (
	sizePattern     = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)
	durationPattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*(d|w)\s*$`)
)

var (
	// ErrInvalidSize indicates that the size string could not be parsed.
	ErrInvalidSize = errors.New("invalid size format")

	// ErrNegativeSize indicates that a negative size value was provided.
	ErrNegativeSize = errors.New("size cannot be negative")

	// ErrInvalidDuration indicates that the duration string could not be parsed.
	ErrInvalidDuration = errors.New("invalid duration format")
)

// ParseSize parses a human-readable size string and returns the size in bytes.
// Accepted forms are plain bytes ("1024") or a number with a K, M, G or T unit,
// optionally followed by "B" or "iB" ("10G", "10GB", "10GiB"). Units are
// always binary. Decimal values are truncated to the byte.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	unit := strings.ToUpper(matches[2])
	unit = strings.TrimSuffix(unit, "IB")
	unit = strings.TrimSuffix(unit, "B")

	var multiplier int64
	switch unit {
	case "":
		multiplier = 1
	case "K":
		multiplier = KiB
	case "M":
		multiplier = MiB
	case "G":
		multiplier = GiB
	case "T":
		multiplier = TiB
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, unit)
	}

	return int64(value * float64(multiplier)), nil
}

// FormatSize converts a size in bytes to a human-readable IEC string,
// e.g. FormatSize(1536*1024) returns "1.5 MiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatRate formats a throughput in bytes per second, e.g. "12 MiB/s".
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}

// ParseDuration parses a duration. In addition to everything accepted by
// time.ParseDuration it understands whole days ("7d") and weeks ("2w").
// A bare integer is read as seconds, which keeps the historical
// "syncInterval: 60" configuration form working.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidDuration)
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidDuration, s)
	}

	if secs, err := strconv.ParseUint(s, 10, 32); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	if m := durationPattern.FindStringSubmatch(s); m != nil {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		unit := Day
		if strings.EqualFold(m[2], "w") {
			unit = 7 * Day
		}
		return time.Duration(value * float64(unit)), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	return d, nil
}

// FormatDuration renders a duration compactly for status lines:
// "42s", "3m 5s", "2h 10m" or "4d 1h".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < Day:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		days := int(d.Hours()) / 24
		return fmt.Sprintf("%dd %dh", days, int(d.Hours())%24)
	}
}
