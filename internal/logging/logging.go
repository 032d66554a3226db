// Package logging wires the process-wide structured logger. Console output
// goes to stderr so report output on stdout stays clean; an optional log
// file receives the same events as JSON lines.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu      sync.Mutex
	logFile *os.File
	logger  = newLogger(os.Stderr, "console", zerolog.InfoLevel)
)

// Options configures Init.
type Options struct {
	Path   string
	Level  string
	Format string
	// Console overrides the console destination. Defaults to os.Stderr.
	Console io.Writer
}

// Init configures the global logger, closing any previously opened log file.
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	level := ParseLevel(opts.Level)

	var writers []io.Writer
	writers = append(writers, consoleWriter(console, opts.Format))

	if opts.Path != "" {
		if dir := filepath.Dir(opts.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		logFile = file
		writers = append(writers, logFile)
	}

	logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return nil
}

// Close flushes and closes the log file, reverting to console-only output.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	logger = newLogger(os.Stderr, "console", logger.GetLevel())
	err := logFile.Close()
	logFile = nil
	return err
}

// ParseLevel maps a level name onto a zerolog level. Unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func newLogger(out io.Writer, format string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(consoleWriter(out, format)).Level(level).With().Timestamp().Logger()
}

func consoleWriter(out io.Writer, format string) io.Writer {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

func current() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Info logs at info level with key-value pairs.
func Info(msg string, kv ...any) { emit(zerolog.InfoLevel, msg, kv) }

// Debug logs at debug level with key-value pairs.
func Debug(msg string, kv ...any) { emit(zerolog.DebugLevel, msg, kv) }

// Warn logs at warn level with key-value pairs.
func Warn(msg string, kv ...any) { emit(zerolog.WarnLevel, msg, kv) }

// Error logs at error level with key-value pairs.
func Error(msg string, kv ...any) { emit(zerolog.ErrorLevel, msg, kv) }

func emit(level zerolog.Level, msg string, kv []any) {
	l := current()
	e := l.WithLevel(level)
	if e == nil {
		return
	}
	addFields(e, kv...)
	e.Msg(msg)
}

// addFields adds alternating key-value pairs to the event. A trailing key
// without a value is dropped.
func addFields(e *zerolog.Event, kv ...any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		if err, isErr := kv[i+1].(error); isErr {
			e.AnErr(key, err)
			continue
		}
		e.Interface(key, kv[i+1])
	}
}

// LogEvent logs a printf-style trace message at debug level.
func LogEvent(format string, args ...any) {
	l := current()
	l.Debug().Msg(fmt.Sprintf(format, args...))
}

// LogRequest logs a request or response exchanged with a generator host.
func LogRequest(direction, host, model string, payload any) {
	l := current()
	l.Debug().
		Str("direction", normalizeDirection(direction)).
		Str("host", valueOrUnknown(host)).
		Str("model", valueOrUnknown(model)).
		Str("payload", formatPayload(payload)).
		Msg("generator exchange")
}

func normalizeDirection(direction string) string {
	return strings.ToUpper(strings.TrimSpace(direction))
}

func valueOrUnknown(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return "unknown"
	}
	return v
}

func formatPayload(payload any) string {
	switch v := payload.(type) {
	case nil:
		return "null"
	case string:
		if strings.TrimSpace(v) == "" {
			return `""`
		}
		return v
	case []byte:
		if len(v) == 0 {
			return "[]"
		}
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
