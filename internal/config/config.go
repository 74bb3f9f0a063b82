package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultApplicationPatterns are name fragments of common desktop programs.
var DefaultApplicationPatterns = []string{
	"firefox",
	"chrome",
	"gedit",
	"nautilus",
	"thunar",
	"code",
	"atom",
	"sublime",
	"gnome-terminal",
}

type Config struct {
	PollIntervalMs        int      `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	StatsIntervalMs       int      `mapstructure:"stats_interval_ms" yaml:"stats_interval_ms"`
	TerminationTimeoutSec int      `mapstructure:"termination_timeout_sec" yaml:"termination_timeout_sec"`
	ApplicationPatterns   []string `mapstructure:"application_patterns" yaml:"application_patterns"`
	LaunchGraceMs         int      `mapstructure:"launch_grace_ms" yaml:"launch_grace_ms"`

	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	RequestQueueSize      int `mapstructure:"request_queue_size" yaml:"request_queue_size"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file,omitempty"`

	// Size rotation of log_file.
	LogMaxSizeMB int `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxFiles  int `mapstructure:"log_max_files" yaml:"log_max_files"`

	MetricsTextfile string `mapstructure:"metrics_textfile" yaml:"metrics_textfile,omitempty"`
}

func Default() *Config {
	patterns := make([]string, len(DefaultApplicationPatterns))
	copy(patterns, DefaultApplicationPatterns)

	return &Config{
		PollIntervalMs:        2000,
		StatsIntervalMs:       1000,
		TerminationTimeoutSec: 3,
		ApplicationPatterns:   patterns,
		LaunchGraceMs:         250,
		MaxConcurrentRequests: 4,
		RequestQueueSize:      32,
		LogLevel:              "info",
		LogFormat:             "text",
		LogMaxSizeMB:          10,
		LogMaxFiles:           3,
	}
}

// Load reads configuration from an optional .env file, the config file and
// TASKMGR_* environment variables, in increasing precedence.
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("taskmgr")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TASKMGR")
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// bindDefaults registers every key so AutomaticEnv can override values that
// never appear in a config file.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("poll_interval_ms", cfg.PollIntervalMs)
	v.SetDefault("stats_interval_ms", cfg.StatsIntervalMs)
	v.SetDefault("termination_timeout_sec", cfg.TerminationTimeoutSec)
	v.SetDefault("application_patterns", cfg.ApplicationPatterns)
	v.SetDefault("launch_grace_ms", cfg.LaunchGraceMs)
	v.SetDefault("max_concurrent_requests", cfg.MaxConcurrentRequests)
	v.SetDefault("request_queue_size", cfg.RequestQueueSize)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_files", cfg.LogMaxFiles)
	v.SetDefault("metrics_textfile", cfg.MetricsTextfile)
}

// Marshal renders the config as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalMs) * time.Millisecond
}

func (c *Config) TerminationTimeout() time.Duration {
	return time.Duration(c.TerminationTimeoutSec) * time.Second
}

func (c *Config) LaunchGrace() time.Duration {
	return time.Duration(c.LaunchGraceMs) * time.Millisecond
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze")
	case "darwin":
		return "/Library/Application Support/Breeze"
	default:
		return "/etc/breeze"
	}
}
