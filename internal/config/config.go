// Package config provides file-based configuration for the scanner.
//
// The file format follows its extension: .yaml/.yml is YAML, anything else is
// XML. A missing file is created with defaults on first run.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"OCRScanner" yaml:"-"`

	// Server configuration
	Server ServerConfig `xml:"Server" yaml:"server"`

	// Remote OCR service
	Service ServiceConfig `xml:"Service" yaml:"service"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage" yaml:"storage"`

	// Drop folder
	Watch WatchConfig `xml:"Watch" yaml:"watch"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced" yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port" yaml:"port"`
	BindAddress  string `xml:"BindAddress" yaml:"bind_address"`
	EnableCORS   bool   `xml:"EnableCORS" yaml:"enable_cors"`
	AllowOrigins string `xml:"AllowOrigins" yaml:"allow_origins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds" yaml:"read_timeout_seconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds" yaml:"write_timeout_seconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds" yaml:"idle_timeout_seconds"`
	BodyLimit    string `xml:"BodyLimit" yaml:"body_limit"`
}

// ServiceConfig points at the OCR service
type ServiceConfig struct {
	URL      string `xml:"URL" yaml:"url"`
	ScanPath string `xml:"ScanPath" yaml:"scan_path"`
	// Zero means no per-request timeout.
	TimeoutSeconds int `xml:"TimeoutSeconds" yaml:"timeout_seconds"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory" yaml:"data_directory"`
	PreviewDirectory string `xml:"PreviewDirectory" yaml:"preview_directory"`
}

// WatchConfig configures the drop folder
type WatchConfig struct {
	Enabled   bool   `xml:"Enabled" yaml:"enabled"`
	Directory string `xml:"Directory" yaml:"directory"`
	SettleMs  int    `xml:"SettleMilliseconds" yaml:"settle_ms"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `xml:"LogLevel" yaml:"log_level"`
	LogFormat               string `xml:"LogFormat" yaml:"log_format"`
	EnableRequestLogging    bool   `xml:"EnableRequestLogging" yaml:"enable_request_logging"`
	EnableMetrics           bool   `xml:"EnableMetrics" yaml:"enable_metrics"`
	EnableClipboard         bool   `xml:"EnableClipboard" yaml:"enable_clipboard"`
	WebSocketMaxMessageSize int    `xml:"WebSocketMaxMessageSizeKB" yaml:"websocket_max_message_size_kb"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "127.0.0.1",
			EnableCORS:   true,
			AllowOrigins: "http://localhost:5173,http://localhost:3000",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "25M",
		},
		Service: ServiceConfig{
			URL:      "http://localhost:8000",
			ScanPath: "/api/ocr",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			PreviewDirectory: "./data/previews",
		},
		Watch: WatchConfig{
			Enabled:   false,
			Directory: "./data/drop",
			SettleMs:  250,
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			LogFormat:               "text",
			EnableRequestLogging:    true,
			EnableMetrics:           true,
			EnableClipboard:         true,
			WebSocketMaxMessageSize: 64,
		},
	}
}

// LoadConfig loads configuration from an XML or YAML file, writing one with
// defaults first if it doesn't exist.
func LoadConfig(configPath string) (*AppConfig, error) {
	return load(configPath, true)
}

// ReadConfig loads configuration like LoadConfig but never writes: a missing
// file yields the defaults.
func ReadConfig(configPath string) (*AppConfig, error) {
	return load(configPath, false)
}

func load(configPath string, create bool) (*AppConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if create {
			if err := config.Save(configPath); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from defaults so omitted sections keep sensible values.
	config := DefaultConfig()
	if isYAML(configPath) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = xml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save writes the configuration in the format matching the file extension
func (c *AppConfig) Save(configPath string) error {
	var content []byte
	if isYAML(configPath) {
		out, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		content = append([]byte("# OCR Scanner configuration\n# This file is auto-generated on first run\n\n"), out...)
	} else {
		out, err := xml.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		header := []byte(xml.Header + "\n<!-- OCR Scanner Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
		content = append(header, out...)
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("SCANNER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if url := os.Getenv("SCANNER_SERVICE_URL"); url != "" {
		c.Service.URL = url
	}

	if dataDir := os.Getenv("SCANNER_DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.PreviewDirectory = filepath.Join(dataDir, "previews")
	}

	if level := os.Getenv("SCANNER_LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.PreviewDirectory,
		&c.Watch.Directory,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// GetServiceTimeout returns the per-request OCR timeout, zero for none
func (c *AppConfig) GetServiceTimeout() time.Duration {
	return time.Duration(c.Service.TimeoutSeconds) * time.Second
}

// GetWatchSettle returns how long a dropped file must stay unchanged before it is read
func (c *AppConfig) GetWatchSettle() time.Duration {
	return time.Duration(c.Watch.SettleMs) * time.Millisecond
}

// GetAllowOrigins splits the comma-separated CORS origins
func (c *AppConfig) GetAllowOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.Server.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.PreviewDirectory,
	}
	if c.Watch.Enabled {
		dirs = append(dirs, c.Watch.Directory)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
