// Package log wraps log/slog with the leveled, package-level helpers the
// rest of corestream calls (Debug/Info/Warn/Error), file rotation via
// lumberjack, and a pithy-print limiter for log lines that would
// otherwise repeat once per packet.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	level  = new(slog.LevelVar)
)

func init() {
	level.Set(slog.LevelInfo)
}

// FileConfig configures rotated file output. Zero value disables rotation.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Configure sets the log level and, optionally, rotated file output.
// level should be one of: debug, info, warn, error.
func Configure(levelName string, file FileConfig) error {
	lv, err := parseLevel(levelName)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if file.Path != "" {
		w = &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    maxOr(file.MaxSizeMB, 100),
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   file.Compress,
		}
	}

	mu.Lock()
	level.Set(lv)
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	mu.Unlock()
	return nil
}

func maxOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, &ParseLevelError{name}
	}
}

// ParseLevelError reports an unrecognised log level string.
type ParseLevelError struct{ Name string }

func (e *ParseLevelError) Error() string { return "unknown log level: " + e.Name }

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs at debug level with structured key/value args.
func Debug(msg string, args ...any) { get().Debug(msg, args...) }

// Info logs at info level with structured key/value args.
func Info(msg string, args ...any) { get().Info(msg, args...) }

// Warn logs at warn level with structured key/value args.
func Warn(msg string, args ...any) { get().Warn(msg, args...) }

// Error logs at error level with structured key/value args.
func Error(msg string, args ...any) { get().Error(msg, args...) }

// With returns a logger scoped to the given key/value pairs, for
// per-session correlation (cid, stream url, ...).
func With(args ...any) *slog.Logger { return get().With(args...) }

var (
	pithyMu   sync.Mutex
	pithyNext = make(map[string]time.Time)
)

// Pithy logs msg at warn level at most once per every interval for a
// given key, regardless of call rate — the log-throttling pattern
// named in the error handling design for long-running loops that hit
// the same recurring error once per packet.
func Pithy(key string, every time.Duration, msg string, args ...any) {
	pithyMu.Lock()
	now := time.Now()
	next, ok := pithyNext[key]
	if ok && now.Before(next) {
		pithyMu.Unlock()
		return
	}
	pithyNext[key] = now.Add(every)
	pithyMu.Unlock()
	get().Warn(msg, args...)
}
