package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the resolved HumScore configuration
type Config struct {
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Record  RecordConfig  `mapstructure:"record" yaml:"record"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// APIConfig describes the external transcription service
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// RecordConfig controls the recording session
type RecordConfig struct {
	LimitSeconds    int      `mapstructure:"limit_seconds" yaml:"limit_seconds"`
	MimePreferences []string `mapstructure:"mime_preferences" yaml:"mime_preferences"`
}

// CaptureConfig controls the capture backend
type CaptureConfig struct {
	Source string `mapstructure:"source" yaml:"source"` // PulseAudio/PipeWire source, "" = default
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

// DefaultMimePreferences is the format negotiation order, most preferred
// first. The transcription service decodes webm/opus most reliably, so
// the order must not be changed casually.
var DefaultMimePreferences = []string{
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/ogg;codecs=opus",
	"audio/ogg",
	"audio/mp4",
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "http://localhost:8000",
			TimeoutSeconds: 60,
		},
		Record: RecordConfig{
			LimitSeconds:    15,
			MimePreferences: append([]string(nil), DefaultMimePreferences...),
		},
		Capture: CaptureConfig{
			Source: "",
		},
		Output: OutputConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Music", "HumScore"),
		},
		Server: ServerConfig{
			Port: "8080",
		},
	}
}

// Load reads the configuration from an optional YAML file and the
// environment. Environment variables use the HUMSCORE_ prefix, e.g.
// HUMSCORE_API_BASE_URL overrides api.base_url.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("api.base_url", def.API.BaseURL)
	v.SetDefault("api.timeout_seconds", def.API.TimeoutSeconds)
	v.SetDefault("record.limit_seconds", def.Record.LimitSeconds)
	v.SetDefault("record.mime_preferences", def.Record.MimePreferences)
	v.SetDefault("capture.source", def.Capture.Source)
	v.SetDefault("output.directory", def.Output.Directory)
	v.SetDefault("server.port", def.Server.Port)

	v.SetEnvPrefix("HUMSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			// A missing config file falls back to defaults; anything
			// else (unreadable, malformed YAML) is a real error.
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Output.Directory = expandPath(cfg.Output.Directory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/humscore.yaml")
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be a valid URL, got: %s", c.API.BaseURL)
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0, got: %d", c.API.TimeoutSeconds)
	}
	if c.Record.LimitSeconds <= 0 {
		return fmt.Errorf("record.limit_seconds must be > 0, got: %d", c.Record.LimitSeconds)
	}
	if len(c.Record.MimePreferences) == 0 {
		return fmt.Errorf("record.mime_preferences cannot be empty")
	}
	for i, m := range c.Record.MimePreferences {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("record.mime_preferences[%d] is empty", i)
		}
		if !strings.HasPrefix(m, "audio/") {
			return fmt.Errorf("record.mime_preferences[%d] must be an audio/* type, got: %s", i, m)
		}
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
