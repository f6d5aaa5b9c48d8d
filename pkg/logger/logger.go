// Package logger provides slog-based logging for OpenViking.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// ParseLevel maps a config string to a slog level. Unknown values fall back
// to warn so a typo never floods the output.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m" // red
	case level >= slog.LevelWarn:
		return "\033[33m" // yellow
	case level >= slog.LevelInfo:
		return "\033[32m" // green
	default:
		return "\033[36m" // cyan
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// textHandler renders "LEVEL message key=value" lines, optionally colored
// and timestamped.
type textHandler struct {
	mu       sync.Mutex
	writer   io.Writer
	level    slog.Level
	useColor bool
	verbose  bool
	attrs    []slog.Attr
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	if h.verbose {
		b.WriteString(r.Time.Format("2006/01/02 15:04:05"))
		b.WriteByte(' ')
	}

	level := r.Level.String()
	if level == "WARNING" {
		level = "WARN"
	}
	if h.useColor {
		b.WriteString(levelColor(r.Level))
		b.WriteString(level)
		b.WriteString("\033[0m")
	} else {
		b.WriteString(level)
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &textHandler{
		writer:   h.writer,
		level:    h.level,
		useColor: h.useColor,
		verbose:  h.verbose,
		attrs:    merged,
	}
}

func (h *textHandler) WithGroup(string) slog.Handler { return h }

var initOnce sync.Once

// Init installs the default logger. Format "verbose" adds timestamps,
// anything else gets the compact handler.
func Init(level slog.Level, output *os.File, format string) {
	h := &textHandler{
		writer:   output,
		level:    level,
		useColor: isTerminal(output),
		verbose:  format == "verbose",
	}
	slog.SetDefault(slog.New(h))
}

// OpenLogFile opens (or creates) path for appending and returns the file
// with a close func.
func OpenLogFile(path string) (*os.File, func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

// GetLogger returns the default slog logger, initializing it on first use.
func GetLogger() *slog.Logger {
	initOnce.Do(func() {
		Init(slog.LevelInfo, os.Stderr, "simple")
	})
	return slog.Default()
}
