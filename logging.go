package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"
)

// Уровень и формат логов
type loggerFlags struct {
	level  string
	format string
}

func (f *loggerFlags) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Category:    "Logging",
			Value:       "info",
			Sources:     cli.EnvVars("LOG_LEVEL"),
			Destination: &f.level,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Category:    "Logging",
			Value:       "console",
			Sources:     cli.EnvVars("LOG_FORMAT"),
			Destination: &f.format,
		},
	}
}

// Configure создаёт логгер и делает его логгером по умолчанию
func (f *loggerFlags) Configure(w io.Writer) (*slog.Logger, error) {
	level, err := parseLogLevel(f.level)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch strings.ToLower(f.format) {
	case "console", "":
		color := false
		if file, ok := w.(*os.File); ok {
			color = isatty.IsTerminal(file.Fd())
		}
		handler = clog.New(
			clog.WithWriter(w),
			clog.WithLevel(level),
			clog.WithColor(color),
		)
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return nil, goerr.Wrap(ErrInvalidConfig, "unknown log format", goerr.V("format", f.format))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, goerr.Wrap(ErrInvalidConfig, "unknown log level", goerr.V("level", s))
}
