package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ocr-scanner/scanner/internal/clipboard"
	"github.com/ocr-scanner/scanner/internal/models"
	"github.com/ocr-scanner/scanner/internal/ocrclient"
	"github.com/ocr-scanner/scanner/internal/preview"
	"github.com/ocr-scanner/scanner/internal/upload"
)

var (
	scanCopy    bool
	scanTimeout time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan <image>",
	Short: "Scan one image and print the extracted text",
	Long: `Scan one image through the OCR service and print the extracted text.

The image goes through the same validation as the server: JPG, PNG, WebP and
GIF files are accepted.

Examples:
  scanner scan receipt.jpg
  scanner scan --copy whiteboard.png
  scanner scan --service-url http://ocr.internal:8000 page.webp`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}

		tmp, err := os.MkdirTemp("", "scanner-preview-")
		if err != nil {
			return fmt.Errorf("creating preview directory: %w", err)
		}
		defer os.RemoveAll(tmp)

		previews, err := preview.NewLocalStore(tmp, preview.DefaultURLPrefix)
		if err != nil {
			return err
		}
		defer previews.Close()

		timeout := cfg.GetServiceTimeout()
		if cmd.Flags().Changed("timeout") {
			timeout = scanTimeout
		}

		ctrl := upload.NewController(upload.Options{
			Previews: previews,
			Scanner: ocrclient.New(ocrclient.Config{
				BaseURL:  cfg.Service.URL,
				ScanPath: cfg.Service.ScanPath,
				Timeout:  timeout,
			}),
			Logger: logger,
		})
		defer ctrl.Close()

		finished := make(chan models.Snapshot, 1)
		ctrl.Subscribe(func(s models.Snapshot) {
			if s.Scan.Status == models.ScanStatusSuccess || s.Scan.Status == models.ScanStatusFailed {
				select {
				case finished <- s:
				default:
				}
			}
		})

		name := filepath.Base(path)
		cand := &models.Candidate{
			Name:      name,
			MediaType: mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
			Data:      data,
		}
		if err := ctrl.SelectCandidate(models.SourcePicker, cand); err != nil {
			// The file is still selected; only the preview is missing.
			logger.Warn("preview unavailable", "error", err)
		}
		if msg := ctrl.Snapshot().ValidationError; msg != "" {
			color.New(color.FgRed).Fprintln(os.Stderr, msg)
			return errors.New("invalid image")
		}

		if !ctrl.RequestScan() {
			return errors.New("scan could not be started")
		}

		var snap models.Snapshot
		select {
		case snap = <-finished:
		case <-ctx.Done():
			return ctx.Err()
		}

		if snap.Scan.Status == models.ScanStatusFailed {
			color.New(color.FgRed).Fprintf(os.Stderr, "Scan failed: %s\n", snap.Scan.Message)
			return errors.New("scan failed")
		}

		if snap.Scan.Text == "" {
			color.New(color.FgYellow).Fprintln(os.Stderr, models.NoTextMessage)
			return nil
		}

		fmt.Println(snap.Scan.Text)

		if scanCopy {
			return copyResult(clipboard.System{}, snap.Scan.Text, os.Stderr)
		}
		return nil
	},
}

// copyResult writes text to the clipboard and reports the outcome on out.
func copyResult(clip clipboard.Writer, text string, out io.Writer) error {
	if err := clip.WriteAll(text); err != nil {
		color.New(color.FgRed).Fprintf(out, "Copy failed: %v\n", err)
		return fmt.Errorf("copying to clipboard: %w", err)
	}
	color.New(color.FgGreen).Fprintln(out, "Copied to clipboard")
	return nil
}

func init() {
	scanCmd.Flags().BoolVar(&scanCopy, "copy", false, "Copy the extracted text to the clipboard")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "Per-request timeout (0 uses the config value)")

	rootCmd.AddCommand(scanCmd)
}
