// Package logging is the shared logger for the mirror agent and its CLI.
// Every component asks for its own tagged logger; all of them write to one
// rotating file, optionally echo to stderr, and publish entries to in-process
// subscribers so the interactive display can show a live log pane.
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	log := logging.Get("transfer")
//	log.Info("download complete", "file", name, "bytes", n)
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level is a log severity.
type Level int

// Log levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ErrInvalidLevel is returned by ParseLevel for unknown level names.
var ErrInvalidLevel = errors.New("invalid log level")

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "unknown"
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	}
	return log.InfoLevel
}

// ParseLevel parses "debug", "info", "warn"/"warning" or "error".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
}

// Config configures the logging system.
type Config struct {
	// Level is the minimum level written to the log file.
	Level string

	// Path is the log file. Empty means DefaultLogPath().
	Path string

	Rotation RotationConfig

	// ConsoleLevel mirrors entries at or above this level to stderr.
	// Empty disables console output. Ignored in TUI mode.
	ConsoleLevel string

	// TUIMode keeps stderr quiet because the display owns the terminal.
	TUIMode bool
}

// Entry is a log record as seen by subscribers and the ring buffer.
type Entry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
	Fields    string
}

// Logger is a component-tagged logger.
type Logger struct {
	file      *log.Logger
	console   *log.Logger
	component string
	fields    []interface{}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.log(LevelDebug, msg, keyvals) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.log(LevelInfo, msg, keyvals) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.log(LevelWarn, msg, keyvals) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.log(LevelError, msg, keyvals) }

// With returns a logger that attaches keyvals to every entry.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	child := &Logger{
		file:      l.file.With(keyvals...),
		component: l.component,
		fields:    append(append([]interface{}{}, l.fields...), keyvals...),
	}
	if l.console != nil {
		child.console = l.console.With(keyvals...)
	}
	return child
}

func (l *Logger) log(level Level, msg string, keyvals []interface{}) {
	write(l.file, level, msg, keyvals)
	if l.console != nil {
		write(l.console, level, msg, keyvals)
	}

	if level < global.minLevel() {
		return
	}
	global.publish(Entry{
		Time:      time.Now(),
		Level:     level,
		Component: l.component,
		Message:   msg,
		Fields:    formatFields(append(append([]interface{}{}, l.fields...), keyvals...)),
	})
}

func write(logger *log.Logger, level Level, msg string, keyvals []interface{}) {
	switch level {
	case LevelDebug:
		logger.Debug(msg, keyvals...)
	case LevelInfo:
		logger.Info(msg, keyvals...)
	case LevelWarn:
		logger.Warn(msg, keyvals...)
	case LevelError:
		logger.Error(msg, keyvals...)
	}
}

func formatFields(keyvals []interface{}) string {
	if len(keyvals) == 0 {
		return ""
	}
	var sb strings.Builder
	for i := 0; i < len(keyvals); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if i+1 < len(keyvals) {
			fmt.Fprintf(&sb, "%v=%v", keyvals[i], keyvals[i+1])
		} else {
			fmt.Fprintf(&sb, "%v", keyvals[i])
		}
	}
	return sb.String()
}

type registry struct {
	mu          sync.RWMutex
	initialized bool
	level       Level
	console     bool
	consoleLvl  Level
	writer      *RotatingWriter
	loggers     map[string]*Logger
	subscribers map[chan Entry]struct{}
	buffer      *Buffer
}

var global = &registry{
	loggers:     make(map[string]*Logger),
	subscribers: make(map[chan Entry]struct{}),
	buffer:      NewBuffer(DefaultBufferSize),
}

// Init configures the logging system. Loggers obtained before Init discard
// their output; they are rebuilt in place so existing references keep working.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	console := false
	var consoleLvl Level
	if cfg.ConsoleLevel != "" && !cfg.TUIMode {
		if consoleLvl, err = ParseLevel(cfg.ConsoleLevel); err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
		console = true
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	writer, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	if global.writer != nil {
		_ = global.writer.Close()
	}
	global.writer = writer
	global.level = level
	global.console = console
	global.consoleLvl = consoleLvl
	global.initialized = true

	for component, l := range global.loggers {
		*l = *global.build(component)
	}
	return nil
}

// Get returns the logger for a component, creating it on first use.
func Get(component string) *Logger {
	global.mu.RLock()
	l, ok := global.loggers[component]
	global.mu.RUnlock()
	if ok {
		return l
	}

	global.mu.Lock()
	defer global.mu.Unlock()
	if l, ok := global.loggers[component]; ok {
		return l
	}
	l = global.build(component)
	global.loggers[component] = l
	return l
}

// build must be called with r.mu held.
func (r *registry) build(component string) *Logger {
	if !r.initialized {
		return &Logger{
			file:      log.NewWithOptions(io.Discard, log.Options{Prefix: component}),
			component: component,
		}
	}

	l := &Logger{
		file: log.NewWithOptions(r.writer, log.Options{
			Level:           r.level.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
		}),
		component: component,
	}
	if r.console {
		l.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           r.consoleLvl.charm(),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
			Prefix:          component,
		})
	}
	return l
}

func (r *registry) minLevel() Level {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.level
}

func (r *registry) publish(e Entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.buffer.Add(e)
	for ch := range r.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of new entries. Slow readers lose entries
// rather than stall the logger.
func Subscribe() <-chan Entry {
	global.mu.Lock()
	defer global.mu.Unlock()

	ch := make(chan Entry, 128)
	global.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func Unsubscribe(ch <-chan Entry) {
	global.mu.Lock()
	defer global.mu.Unlock()

	for sub := range global.subscribers {
		if sub == ch {
			delete(global.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Recent returns up to n of the most recent entries, oldest first.
func Recent(n int) []Entry {
	return global.buffer.Last(n)
}

// Close flushes the log file and drops all subscribers.
func Close() error {
	global.mu.Lock()
	defer global.mu.Unlock()

	for ch := range global.subscribers {
		close(ch)
		delete(global.subscribers, ch)
	}
	global.initialized = false
	for component, l := range global.loggers {
		*l = *global.build(component)
	}

	if global.writer == nil {
		return nil
	}
	err := global.writer.Close()
	global.writer = nil
	if err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// DefaultLogPath is $XDG_STATE_HOME/syncsftp/syncsftp.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "syncsftp", "syncsftp.log")
}
