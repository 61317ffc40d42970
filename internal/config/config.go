package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DirName is the per-user directory holding config.yaml and the shell history.
const DirName = ".agentviz"

// Global configuration structure.
type Global struct {
	BackendURL string `mapstructure:"backend_url" yaml:"backend_url"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	StageTimeoutSec  int `mapstructure:"stage_timeout_sec" yaml:"stage_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// Output
	DefaultFormat string `mapstructure:"default_format" yaml:"default_format"`
	ChartsDir     string `mapstructure:"charts_dir" yaml:"charts_dir"`
	HistoryFile   string `mapstructure:"history_file" yaml:"history_file"`
}

// HTTPTimeout returns the per-request client timeout.
func (g *Global) HTTPTimeout() time.Duration { return time.Duration(g.HTTPTimeoutSec) * time.Second }

// StageTimeout returns the bound on one pipeline stage.
func (g *Global) StageTimeout() time.Duration { return time.Duration(g.StageTimeoutSec) * time.Second }

// RetryBaseDelay returns the initial backoff.
func (g *Global) RetryBaseDelay() time.Duration {
	return time.Duration(g.RetryBaseDelayMs) * time.Millisecond
}

// RetryMaxDelay returns the backoff cap.
func (g *Global) RetryMaxDelay() time.Duration {
	return time.Duration(g.RetryMaxDelayMs) * time.Millisecond
}

// Dir returns ~/.agentviz.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// Path returns the file Save writes to for cfgFile.
func Path(cfgFile string) (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.agentviz/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path, err := Path(cfgFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. Command-line flags are applied
// on top by the caller.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENTVIZ")
	v.AutomaticEnv()

	v.SetDefault("backend_url", "http://localhost:8000")
	// HTTP/retry defaults. Nothing is retried unless asked: /upload is not
	// idempotent.
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("stage_timeout_sec", 120)
	v.SetDefault("retry_max_attempts", 1)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	v.SetDefault("default_format", "text")
	v.SetDefault("charts_dir", "")
	v.SetDefault("history_file", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.HistoryFile == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		c.HistoryFile = filepath.Join(dir, "history")
	}
	return &c, nil
}
