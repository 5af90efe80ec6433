// Package logging builds the [slog.Logger] shared by the orderz binaries.
// The server logs JSON for collectors; orderzctl logs text to the terminal.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat accepts "json" or "text" in any case. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatText:
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown log format %q (want json or text)", s)
	}
}

type options struct {
	format Format
	attrs  []any
}

type Option func(*options)

func WithFormat(format Format) Option {
	return func(o *options) {
		o.format = format
	}
}

// WithAttrs attaches attributes to every record, e.g. the service name.
func WithAttrs(args ...any) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, args...)
	}
}

// New creates a logger writing to stderr at the given level.
func New(level string, opts ...Option) *slog.Logger {
	return NewWithWriter(level, os.Stderr, opts...)
}

// NewWithWriter creates a logger writing to w at the given level.
func NewWithWriter(level string, w io.Writer, opts ...Option) *slog.Logger {
	o := options{format: FormatJSON}
	for _, opt := range opts {
		opt(&o)
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if o.format == FormatText {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}

	logger := slog.New(handler)
	if len(o.attrs) > 0 {
		logger = logger.With(o.attrs...)
	}
	return logger
}

// ParseLevel maps debug, info, warn(ing) and error, in any case, to a
// [slog.Level]. Anything else is info.
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
