package logging

import (
	"context"
	"log/slog"
	"strings"
)

// SlogWriter adapts a Logger into an io.Writer, one record per Write.
// It is used for http.Server.ErrorLog.
type SlogWriter struct {
	Logger *Logger
	Level  slog.Level
}

// NewSlogWriter returns a writer that logs every line at level.
func NewSlogWriter(logger *Logger, level slog.Level) *SlogWriter {
	return &SlogWriter{Logger: logger, Level: level}
}

func (w *SlogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.Logger.Slog().Log(context.Background(), w.Level, msg)
	}
	return len(p), nil
}
