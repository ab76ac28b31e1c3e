package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the optional config file (~/.config/tenderguide/config.yaml or
// config.toml). Pointer fields distinguish "not set" from zero values.
// Explicit flags and environment variables win over the file.
type Config struct {
	BaseModel  string `yaml:"base_model" toml:"base_model"`
	AdapterDir string `yaml:"adapter_dir" toml:"adapter_dir"`
	MaxThreads *int64 `yaml:"max_threads" toml:"max_threads"`
	MaxContext *int64 `yaml:"max_context" toml:"max_context"`
	Seed       *int64 `yaml:"seed" toml:"seed"`

	ServerAddress  string    `yaml:"server_address" toml:"server_address"`
	RedisURL       string    `yaml:"redis_url" toml:"redis_url"`
	AnswerCacheTTL *Duration `yaml:"answer_cache_ttl" toml:"answer_cache_ttl"`
	Preload        *bool     `yaml:"preload" toml:"preload"`

	LogLevel  string `yaml:"log_level" toml:"log_level"`
	LogFormat string `yaml:"log_format" toml:"log_format"`
}

// Duration accepts "90s"-style strings in both YAML and TOML.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tenderguide", "config.yaml")
}

// LoadConfig reads path. A missing file yields a zero Config unless required
// is set, which is the case when --config was given explicitly.
func LoadConfig(path string, required bool) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

func applyLogConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig applies config file defaults to the model flags that were
// not set on the command line or through the environment.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.BaseModel != "" && !c.IsSet("base-model") {
		baseModel = cfg.BaseModel
	}
	if cfg.AdapterDir != "" && !c.IsSet("adapter") {
		adapterDir = cfg.AdapterDir
	}
	if cfg.MaxThreads != nil && !c.IsSet("threads") {
		maxThreads = *cfg.MaxThreads
	}
	if cfg.MaxContext != nil && !c.IsSet("max-context") {
		maxContext = *cfg.MaxContext
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr, redisURL *string, cacheTTL *time.Duration, preload *bool) {
	applyModelConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.RedisURL != "" && !c.IsSet("redis-url") {
		*redisURL = cfg.RedisURL
	}
	if cfg.AnswerCacheTTL != nil && !c.IsSet("answer-cache-ttl") {
		*cacheTTL = cfg.AnswerCacheTTL.Duration
	}
	if cfg.Preload != nil && !c.IsSet("preload") {
		*preload = *cfg.Preload
	}
}
