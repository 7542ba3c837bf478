package types

import (
	"errors"
	"testing"
	"time"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "plain bytes", input: "1024", want: 1024},
		{name: "zero disables budget", input: "0", want: 0},
		{name: "bytes with B suffix", input: "512B", want: 512},
		{name: "kilobytes", input: "100K", want: 100 * KiB},
		{name: "megabytes with iB", input: "50MiB", want: 50 * MiB},
		{name: "gigabytes lowercase", input: "10g", want: 10 * GiB},
		{name: "gigabytes with B", input: "10GB", want: 10 * GiB},
		{name: "terabytes", input: "1TiB", want: TiB},
		{name: "surrounding whitespace", input: "  100M  ", want: 100 * MiB},
		{name: "decimal truncated", input: "1.5G", want: 1610612736},

		{name: "empty string", input: "", wantErr: true},
		{name: "invalid suffix", input: "100X", wantErr: true},
		{name: "negative value", input: "-100M", wantErr: true},
		{name: "suffix only", input: "M", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseSizeErrors(t *testing.T) {
	if _, err := ParseSize("-1G"); !errors.Is(err, ErrNegativeSize) {
		t.Errorf("expected ErrNegativeSize, got %v", err)
	}
	if _, err := ParseSize("lots"); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0 B"},
		{1024, "1.0 KiB"},
		{1536 * 1024, "1.5 MiB"},
		{10 * GiB, "10 GiB"},
	}

	for _, tt := range tests {
		if got := FormatSize(tt.input); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatRate(t *testing.T) {
	if got := FormatRate(0); got != "0 B/s" {
		t.Errorf("FormatRate(0) = %q", got)
	}
	if got := FormatRate(float64(2 * MiB)); got != "2.0 MiB/s" {
		t.Errorf("FormatRate(2MiB) = %q", got)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: "60", want: 60 * time.Second},
		{input: "90s", want: 90 * time.Second},
		{input: "5m", want: 5 * time.Minute},
		{input: "1h30m", want: 90 * time.Minute},
		{input: "7d", want: 7 * Day},
		{input: "2w", want: 14 * Day},
		{input: "", wantErr: true},
		{input: "-5s", wantErr: true},
		{input: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 10*time.Minute, "2h 10m"},
		{4*Day + time.Hour, "4d 1h"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.input); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
