// Package logging adapts log/slog handlers to the kratos log.Logger
// interface used throughout the service.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/lmittmann/tint"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

type slogLogger struct {
	logger *slog.Logger
}

// New returns a kratos logger writing to w. Text output is colorized with
// tint; json output uses slog.JSONHandler. Records below level are dropped.
func New(w io.Writer, format, level string) log.Logger {
	lvl := parseLevel(level)
	var h slog.Handler
	if strings.EqualFold(format, FormatJSON) {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: toSlog(lvl)})
	} else {
		h = tint.NewHandler(w, &tint.Options{
			Level:      toSlog(lvl),
			TimeFormat: time.TimeOnly,
		})
	}
	return log.NewFilter(&slogLogger{logger: slog.New(h)}, log.FilterLevel(lvl))
}

// Log implements log.Logger. The message key written by log.Helper becomes
// the record message; the remaining pairs become attributes.
func (l *slogLogger) Log(level log.Level, keyvals ...any) error {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "KEYVALS UNPAIRED")
	}
	var msg string
	attrs := make([]any, 0, len(keyvals))
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		if key == log.DefaultMessageKey {
			if s, ok := keyvals[i+1].(string); ok {
				msg = s
				continue
			}
		}
		attrs = append(attrs, key, keyvals[i+1])
	}
	l.logger.Log(context.Background(), toSlog(level), msg, attrs...)
	return nil
}

func parseLevel(s string) log.Level {
	if s == "" {
		return log.LevelInfo
	}
	return log.ParseLevel(s)
}

func toSlog(level log.Level) slog.Level {
	switch level {
	case log.LevelDebug:
		return slog.LevelDebug
	case log.LevelWarn:
		return slog.LevelWarn
	case log.LevelError, log.LevelFatal:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
