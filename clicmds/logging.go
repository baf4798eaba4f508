package clicmds

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

// GlobalFlags shared by every command
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "loglevel",
			Usage: "trace, debug, info, warn or error",
			Value: "info",
		},
		&cli.StringFlag{
			Name:  "logfile",
			Usage: "write json logs to this file (rotated) instead of the console",
			Value: "",
		},
	}
}

// SetupLogging configures the global logger from the global flags
func SetupLogging(ctx *cli.Context) error {
	level, err := zerolog.ParseLevel(ctx.String("loglevel"))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if path := ctx.String("logfile"); path != "" {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}
