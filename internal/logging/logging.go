package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a structured logger at info level with secret redaction.
func New() *slog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel returns a structured logger for the given level name; unknown names fall back to info.
func NewWithLevel(level string) *slog.Logger {
	return newLogger(os.Stdout, ParseLevel(level))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level name onto slog levels.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if isSecretKey(a.Key) {
		a.Value = slog.StringValue("[redacted]")
	}
	return a
}

// token_id and token_uri are identifiers, not credentials.
var publicKeys = map[string]struct{}{
	"token_id":  {},
	"token_uri": {},
}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	if _, ok := publicKeys[k]; ok {
		return false
	}
	return strings.Contains(k, "token") || strings.Contains(k, "secret") || strings.Contains(k, "key") || strings.Contains(k, "pass")
}
