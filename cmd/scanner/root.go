package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ocr-scanner/scanner/internal/config"
	"github.com/ocr-scanner/scanner/internal/logging"
)

// createsConfig marks commands that write a default config file when none
// exists. Other commands run on defaults without touching the disk.
const createsConfig = "scanner/creates-config"

var (
	cfgFile    string
	logLevel   string
	logFormat  string
	serviceURL string

	// Populated by PersistentPreRunE for every subcommand.
	cfg    *config.AppConfig
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "scanner",
	Short: "Upload images to an OCR service and collect the extracted text",
	Long: `Scanner selects a single image, previews it, submits it to an OCR
service and exposes the result for copying.

Commands:
  serve  - run the HTTP/WebSocket surface a browser page or TUI drives
  scan   - scan one image from the command line`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		load := config.ReadConfig
		if cmd.Annotations[createsConfig] == "true" {
			load = config.LoadConfig
		}

		var err error
		cfg, err = load(cfgFile)
		if err != nil {
			return err
		}

		// Flags override the file and the environment
		if cmd.Flags().Changed("log-level") {
			cfg.Advanced.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Advanced.LogFormat = logFormat
		}
		if cmd.Flags().Changed("service-url") {
			cfg.Service.URL = serviceURL
		}

		logger, err = logging.New(os.Stderr, cfg.Advanced.LogLevel, cfg.Advanced.LogFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "scanner.yaml", "config file (.yaml/.yml or .xml; serve creates it with defaults if missing)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn or error",
	)
	rootCmd.PersistentFlags().StringVar(
		&logFormat, "log-format", "text", "log format: text or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&serviceURL, "service-url", "", "OCR service base URL (overrides config)",
	)

	rootCmd.AddCommand(versionCmd)
}
