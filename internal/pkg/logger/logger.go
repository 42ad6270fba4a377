// Package logger implements ports.Logger on log/slog.
package logger

import (
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"github.com/doeshing/cadsmith/internal/domain"
)

// Options configures New.
type Options struct {
	Level   string    // debug, info, warn, error
	Verbose bool      // forces debug
	Stderr  io.Writer // defaults to os.Stderr
	File    string    // optional JSON log file
}

// SlogLogger adapts a *slog.Logger to the field-map interface the
// application layer uses.
type SlogLogger struct {
	log     *slog.Logger
	closers []io.Closer
}

// New builds a logger writing text to stderr and, when opts.File is set,
// JSON lines to that file. stdout stays free for command output and the MCP
// transport.
func New(opts Options) (*SlogLogger, error) {
	level := ParseLevel(opts.Level)
	if opts.Verbose || os.Getenv("CADSMITH_DEBUG") == "1" {
		level = slog.LevelDebug
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level, ReplaceAttr: renameError}
	handlers := []slog.Handler{slog.NewTextHandler(stderr, handlerOpts)}

	var closers []io.Closer
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, domain.SecureFilePermissions)
		if err != nil {
			return nil, err
		}
		closers = append(closers, f)
		handlers = append(handlers, slog.NewJSONHandler(f, handlerOpts))
	}

	return &SlogLogger{
		log:     slog.New(slogmulti.Fanout(handlers...)),
		closers: closers,
	}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *SlogLogger {
	return &SlogLogger{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a config string to a slog level. Unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Slog exposes the underlying logger for libraries that take one.
func (l *SlogLogger) Slog() *slog.Logger {
	return l.log
}

func (l *SlogLogger) Debug(msg string, fields map[string]interface{}) {
	l.log.Debug(msg, attrs(fields)...)
}

func (l *SlogLogger) Info(msg string, fields map[string]interface{}) {
	l.log.Info(msg, attrs(fields)...)
}

func (l *SlogLogger) Warn(msg string, fields map[string]interface{}) {
	l.log.Warn(msg, attrs(fields)...)
}

func (l *SlogLogger) Error(msg string, err error, fields map[string]interface{}) {
	args := attrs(fields)
	if err != nil {
		args = append(args, slog.Any("error", err))
	}
	l.log.Error(msg, args...)
}

// Close closes the log file, if any.
func (l *SlogLogger) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// attrs sorts keys so output is stable.
func attrs(fields map[string]interface{}) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, slog.Any(k, fields[k]))
	}
	return out
}

func renameError(_ []string, a slog.Attr) slog.Attr {
	if a.Key == "error" {
		a.Key = "err"
	}
	return a
}
