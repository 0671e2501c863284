package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Storage paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`
	WorkDir    string `mapstructure:"work-dir"`
	CachePath  string `mapstructure:"cache-path"`
	ImagePath  string `mapstructure:"image-path"`

	// Renderer acquisition
	RendererVersions []string `mapstructure:"renderer-versions"`
	RendererSources  []string `mapstructure:"renderer-sources"`
	RendererEntry    string   `mapstructure:"renderer-entry"`
	KeyringPath      string   `mapstructure:"keyring-path"`

	// Timeouts
	VerifyTimeout   time.Duration `mapstructure:"verify-timeout"`
	RenderTimeout   time.Duration `mapstructure:"render-timeout"`
	PushTimeout     time.Duration `mapstructure:"push-timeout"`
	DownloadTimeout time.Duration `mapstructure:"download-timeout"`

	// Device credentials
	APIToken       string `mapstructure:"api-token"`
	DeviceID       string `mapstructure:"device-id"`
	InstallationID string `mapstructure:"installation-id"`

	// S3 configuration
	S3Region   string `mapstructure:"s3-region"`
	S3Endpoint string `mapstructure:"s3-endpoint"`
	MirrorURL  string `mapstructure:"mirror-url"`

	// Display content
	Title        string `mapstructure:"title"`
	MessageLimit int    `mapstructure:"message-limit"`
	DetailLimit  int    `mapstructure:"detail-limit"`
	IconDir      string `mapstructure:"icon-dir"`

	// Extraction limits
	MaxEntrySize        int64   `mapstructure:"max-entry-size"`
	MaxArchiveSize      int64   `mapstructure:"max-archive-size"`
	MaxCompressionRatio float64 `mapstructure:"max-compression-ratio"`

	// Server
	Listen   string `mapstructure:"listen"`
	LogLevel string `mapstructure:"log-level"`
}

// SetDefaults registers the default for every key.
func SetDefaults() {
	viper.SetDefault("sqlite-path", ".artifacts/status.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm")
	viper.SetDefault("work-dir", "/tmp/where-is-matt")
	viper.SetDefault("cache-path", "/tmp/pixlet_binary")
	viper.SetDefault("image-path", "/tmp/tidbyt_output.webp")
	viper.SetDefault("renderer-versions", []string{"0.34.0", "0.33.8", "0.33.7"})
	viper.SetDefault("renderer-sources", []string{})
	viper.SetDefault("renderer-entry", "pixlet")
	viper.SetDefault("keyring-path", "")
	viper.SetDefault("verify-timeout", 10*time.Second)
	viper.SetDefault("render-timeout", 30*time.Second)
	viper.SetDefault("push-timeout", 30*time.Second)
	viper.SetDefault("download-timeout", 2*time.Minute)
	viper.SetDefault("api-token", "")
	viper.SetDefault("device-id", "")
	viper.SetDefault("installation-id", "whereismatt")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("s3-endpoint", "")
	viper.SetDefault("mirror-url", "")
	viper.SetDefault("title", "Where's Matt?")
	viper.SetDefault("message-limit", 20)
	viper.SetDefault("detail-limit", 40)
	viper.SetDefault("icon-dir", "public/icons")
	viper.SetDefault("max-entry-size", 256*1024*1024)
	viper.SetDefault("max-archive-size", 1024*1024*1024)
	viper.SetDefault("max-compression-ratio", 100.0)
	viper.SetDefault("listen", ":8080")
	viper.SetDefault("log-level", "info")
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	SetDefaults()

	// Environment variables (will be WHERE_IS_MATT_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("WHERE_IS_MATT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// The device credentials keep their vendor names.
	if err := viper.BindEnv("api-token", "WHERE_IS_MATT_API_TOKEN", "TIDBYT_API_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind api-token: %w", err)
	}
	if err := viper.BindEnv("device-id", "WHERE_IS_MATT_DEVICE_ID", "TIDBYT_DEVICE_ID"); err != nil {
		return nil, fmt.Errorf("failed to bind device-id: %w", err)
	}

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.where-is-matt")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors. Device credentials are not
// required here; only the push stage needs them.
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if c.CachePath == "" {
		return fmt.Errorf("cache-path cannot be empty")
	}
	if c.ImagePath == "" {
		return fmt.Errorf("image-path cannot be empty")
	}
	if len(c.RendererVersions) == 0 && len(c.RendererSources) == 0 {
		return fmt.Errorf("renderer-versions or renderer-sources must be set")
	}
	for name, d := range map[string]time.Duration{
		"verify-timeout":   c.VerifyTimeout,
		"render-timeout":   c.RenderTimeout,
		"push-timeout":     c.PushTimeout,
		"download-timeout": c.DownloadTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.MessageLimit <= 0 || c.DetailLimit <= 0 {
		return fmt.Errorf("message-limit and detail-limit must be positive")
	}
	if c.MaxEntrySize < 0 || c.MaxArchiveSize < 0 || c.MaxCompressionRatio < 0 {
		return fmt.Errorf("extraction limits cannot be negative")
	}
	if c.MirrorURL != "" && !strings.HasPrefix(c.MirrorURL, "s3://") {
		return fmt.Errorf("mirror-url must be an s3:// URL")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// HasCredentials reports whether pushing to the device is configured.
func (c *Config) HasCredentials() bool {
	return c.APIToken != "" && c.DeviceID != ""
}

// ParseLevel maps a log-level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log-level %q", name)
	}
	return level, nil
}
