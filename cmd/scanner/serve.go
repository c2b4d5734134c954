package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ocr-scanner/scanner/internal/api"
	"github.com/ocr-scanner/scanner/internal/clipboard"
	"github.com/ocr-scanner/scanner/internal/metrics"
	"github.com/ocr-scanner/scanner/internal/ocrclient"
	"github.com/ocr-scanner/scanner/internal/preview"
	"github.com/ocr-scanner/scanner/internal/upload"
	"github.com/ocr-scanner/scanner/internal/watch"
)

const shutdownTimeout = 10 * time.Second

var (
	serveHost  string
	servePort  int
	serveWatch string
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Start the scanner server",
	Annotations: map[string]string{createsConfig: "true"},
	Long: `Start the scanner HTTP server.

The server owns one upload controller and exposes it to a UI:
  - GET  /api/state      - current selection, preview and scan state
  - POST /api/select     - offer a file (multipart field "file")
  - POST /api/scan       - submit the selected file to the OCR service
  - POST /api/copy       - copy the extracted text to the clipboard
  - GET  /api/ws/state   - WebSocket stream of state changes
  - GET  /preview/:id    - live preview bytes

Examples:
  scanner serve                         # Start on the configured port
  scanner serve --port 9000             # Start on a custom port
  scanner serve --watch ~/Desktop/drop  # Also select files dropped in a folder`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cmd.Flags().Changed("host") {
			cfg.Server.BindAddress = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		if cmd.Flags().Changed("watch") {
			cfg.Watch.Enabled = true
			cfg.Watch.Directory = serveWatch
		}

		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}

		previews, err := preview.NewLocalStore(cfg.Storage.PreviewDirectory, preview.DefaultURLPrefix)
		if err != nil {
			return err
		}
		defer func() {
			if err := previews.Close(); err != nil {
				logger.Warn("releasing previews failed", "error", err)
			}
		}()

		registry := prometheus.NewRegistry()
		var recorder *metrics.Recorder
		var gatherer prometheus.Gatherer
		if cfg.Advanced.EnableMetrics {
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			recorder = metrics.New(metrics.WithRegistry(registry))
			gatherer = registry
		}

		var clip clipboard.Writer = clipboard.Discard{}
		if cfg.Advanced.EnableClipboard {
			clip = clipboard.System{}
		}

		client := ocrclient.New(ocrclient.Config{
			BaseURL:  cfg.Service.URL,
			ScanPath: cfg.Service.ScanPath,
			Timeout:  cfg.GetServiceTimeout(),
		})

		ctrl := upload.NewController(upload.Options{
			Previews:  previews,
			Scanner:   client,
			Clipboard: clip,
			Logger:    logger,
			Metrics:   recorder,
		})
		defer func() {
			if err := ctrl.Close(); err != nil {
				logger.Warn("closing controller failed", "error", err)
			}
		}()

		if cfg.Watch.Enabled {
			w, err := watch.New(watch.Config{
				Dir:    cfg.Watch.Directory,
				Settle: cfg.GetWatchSettle(),
				Logger: logger,
			}, ctrl)
			if err != nil {
				return err
			}
			go func() {
				if err := w.Run(ctx); err != nil {
					logger.Error("drop folder stopped", "error", err)
				}
			}()
		}

		e := echo.New()
		e.HideBanner = true
		e.HidePort = true

		api.SetupMiddleware(e, api.MiddlewareConfig{
			Logger:               logger,
			EnableRequestLogging: cfg.Advanced.EnableRequestLogging,
			EnableCORS:           cfg.Server.EnableCORS,
			AllowOrigins:         cfg.GetAllowOrigins(),
			BodyLimit:            cfg.Server.BodyLimit,
		})
		api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
			Controller:            ctrl,
			Previews:              previews,
			Logger:                logger,
			Version:               Version,
			ServiceEndpoint:       client.Endpoint(),
			Gatherer:              gatherer,
			WebSocketMaxMessageKB: cfg.Advanced.WebSocketMaxMessageSize,
		}))

		// Configure server with settings from config
		s := &http.Server{
			Addr:         cfg.GetServerAddr(),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		}

		printBanner(client.Endpoint())

		errCh := make(chan error, 1)
		go func() {
			errCh <- e.StartServer(s)
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}

func printBanner(endpoint string) {
	title := color.New(color.FgCyan, color.Bold)
	label := color.New(color.Faint)

	fmt.Println()
	title.Println("OCR Scanner")
	fmt.Printf("  %s %s\n", label.Sprint("Version: "), Version)
	fmt.Printf("  %s %s\n", label.Sprint("Config:  "), cfgFile)
	fmt.Printf("  %s http://%s\n", label.Sprint("Listen:  "), cfg.GetServerAddr())
	fmt.Printf("  %s %s\n", label.Sprint("OCR:     "), endpoint)
	if cfg.Watch.Enabled {
		fmt.Printf("  %s %s\n", label.Sprint("Drop dir:"), cfg.Watch.Directory)
	}
	fmt.Println()
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().IntVar(&servePort, "port", 8090, "Port to listen on")
	serveCmd.Flags().StringVar(&serveWatch, "watch", "", "Drop folder to watch for images")

	rootCmd.AddCommand(serveCmd)
}
