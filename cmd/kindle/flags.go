package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kindle/internal/logger"
)

var (
	modelPath  string
	modelsPath string
	logLevel   string
	logFormat  string
	debug      bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a checkpoint directory (hparams.json + model.safetensors)",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory containing checkpoint directories",
			Destination: &modelsPath,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (auto, pretty, json, text)",
			Value:       logger.FormatAuto,
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setupLogging builds the process logger from flags and the config file and
// stores it in the context for subcommands.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg := LoadConfig()
	if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.Setup(os.Stderr, logFormat, level)
	if err != nil {
		return ctx, cli.Exit(err.Error(), 2)
	}
	return logger.WithContext(ctx, log), nil
}
