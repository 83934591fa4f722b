package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var logFile *os.File

// parseZerologLevel converts a string level into zerolog.Level with a safe default
func parseZerologLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// setupLogging points the global logger at --log-file, or at stderr. The chat
// panel owns the terminal, so without a log file it logs nowhere.
func setupLogging(c *cli.Context) error {
	var out io.Writer = zerolog.ConsoleWriter{Out: c.App.ErrWriter}

	if path := c.String("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		out = f
	} else if c.Args().First() == "chat" {
		out = io.Discard
	}

	log.Logger = zerolog.New(out).Level(parseZerologLevel(c.String("log-level"))).With().Timestamp().Logger()
	return nil
}

func closeLogging(*cli.Context) error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}
