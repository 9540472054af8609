package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careflow/akimon/internal/config"
)

var (
	cfgFile   string
	cfg       config.Config
	logger    zerolog.Logger
	logOutput io.Writer

	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "akimon",
	Short: "Real-time AKI detection and alerting service",
	Long: `akimon listens to a hospital's HL7 v2 feed over MLLP, tracks patient
admissions and creatinine results, classifies each new result with a
pre-trained model, and pages the clinical response team on positive
AKI detections.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Logging.Level = flagLogLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Logging.Format = flagLogFormat
		}

		switch cfg.Logging.Format {
		case "json":
			logOutput = os.Stdout
		default:
			logOutput = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
		logger = zerolog.New(logOutput).With().Timestamp().Logger()

		level, err := zerolog.ParseLevel(cfg.Logging.Level)
		if err != nil {
			level = zerolog.InfoLevel
		}
		logger = logger.Level(level)

		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "Path to TOML config file")
	f.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&flagLogFormat, "log-format", "console", "Log format (console, json)")
}
