package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init installs the process-wide slog logger. Production emits JSON, every
// other environment uses the text handler. Packages log through slog.Default.
func Init(env string) *slog.Logger {
	return setup(env, os.Stdout)
}

func setup(env string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(lvl)); err == nil {
			opts.Level = l
		}
	}
	var logger *slog.Logger
	if strings.EqualFold(env, "prod") || strings.EqualFold(env, "production") {
		logger = slog.New(slog.NewJSONHandler(w, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(w, opts))
	}
	slog.SetDefault(logger)
	return logger
}
