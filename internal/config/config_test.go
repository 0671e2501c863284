package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func loadIn(t *testing.T, dir string) *Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("HOME", dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadIn(t, t.TempDir())

	if cfg.CachePath != "/tmp/pixlet_binary" {
		t.Errorf("cache-path = %q", cfg.CachePath)
	}
	if cfg.VerifyTimeout != 10*time.Second || cfg.RenderTimeout != 30*time.Second || cfg.PushTimeout != 30*time.Second {
		t.Errorf("timeouts = %v %v %v", cfg.VerifyTimeout, cfg.RenderTimeout, cfg.PushTimeout)
	}
	if len(cfg.RendererVersions) != 3 || cfg.RendererVersions[0] != "0.34.0" {
		t.Errorf("renderer-versions = %v", cfg.RendererVersions)
	}
	if cfg.InstallationID != "whereismatt" || cfg.MessageLimit != 20 || cfg.DetailLimit != 40 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.HasCredentials() {
		t.Error("no credentials expected by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("TIDBYT_API_TOKEN", "vendor-token")
	t.Setenv("TIDBYT_DEVICE_ID", "device-42")
	t.Setenv("WHERE_IS_MATT_RENDER_TIMEOUT", "45s")
	t.Setenv("WHERE_IS_MATT_IMAGE_PATH", "/var/lib/where-is-matt/out.webp")

	cfg := loadIn(t, t.TempDir())

	if cfg.APIToken != "vendor-token" || cfg.DeviceID != "device-42" {
		t.Errorf("credentials = %q / %q", cfg.APIToken, cfg.DeviceID)
	}
	if !cfg.HasCredentials() {
		t.Error("credentials not detected")
	}
	if cfg.RenderTimeout != 45*time.Second {
		t.Errorf("render-timeout = %v", cfg.RenderTimeout)
	}
	if cfg.ImagePath != "/var/lib/where-is-matt/out.webp" {
		t.Errorf("image-path = %q", cfg.ImagePath)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "title: Where's Sam?\nmessage-limit: 12\nrenderer-sources:\n  - https://mirror.example.com/pixlet.tar.gz\n"
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644)

	cfg := loadIn(t, dir)

	if cfg.Title != "Where's Sam?" || cfg.MessageLimit != 12 {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.RendererSources) != 1 {
		t.Errorf("renderer-sources = %v", cfg.RendererSources)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			SQLitePath: "db", WorkDir: "work", CachePath: "bin", ImagePath: "img",
			RendererVersions: []string{"0.34.0"},
			VerifyTimeout:    time.Second, RenderTimeout: time.Second, PushTimeout: time.Second, DownloadTimeout: time.Second,
			MessageLimit: 20, DetailLimit: 40, LogLevel: "info",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty sqlite path", func(c *Config) { c.SQLitePath = "" }},
		{"empty cache path", func(c *Config) { c.CachePath = "" }},
		{"no sources", func(c *Config) { c.RendererVersions = nil }},
		{"zero render timeout", func(c *Config) { c.RenderTimeout = 0 }},
		{"zero message limit", func(c *Config) { c.MessageLimit = 0 }},
		{"negative ratio", func(c *Config) { c.MaxCompressionRatio = -1 }},
		{"http mirror", func(c *Config) { c.MirrorURL = "https://example.com/x" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("debug"); err != nil || l != slog.LevelDebug {
		t.Errorf("ParseLevel(debug) = %v, %v", l, err)
	}
	if _, err := ParseLevel("chatty"); err == nil {
		t.Error("expected error")
	}
}
