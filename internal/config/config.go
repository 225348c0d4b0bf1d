// Package config loads fieldops settings from a YAML file with
// FIELDOPS_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	Dir         = ".fieldops"
	DefaultPath = ".fieldops/config.yaml"
	EnvPrefix   = "FIELDOPS"

	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend      string `mapstructure:"backend" yaml:"backend"`
	Path         string `mapstructure:"path" yaml:"path"`
	SnapshotPath string `mapstructure:"snapshot_path" yaml:"snapshot_path"`
	AutoSnapshot bool   `mapstructure:"auto_snapshot" yaml:"auto_snapshot"`
}

type DatasetConfig struct {
	// Path of a YAML dataset. Empty uses the built-in sample.
	Path string `mapstructure:"path" yaml:"path"`
}

type ServerConfig struct {
	Addr               string `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
}

func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSec) * time.Second
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

type Config struct {
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Dataset DatasetConfig `mapstructure:"dataset" yaml:"dataset"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:      BackendMemory,
			Path:         filepath.Join(Dir, "fieldops.db"),
			SnapshotPath: filepath.Join(Dir, "snapshot.jsonl"),
			AutoSnapshot: false,
		},
		Server: ServerConfig{
			Addr:               ":8000",
			ShutdownTimeoutSec: 10,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.snapshot_path", d.Store.SnapshotPath)
	v.SetDefault("store.auto_snapshot", d.Store.AutoSnapshot)
	v.SetDefault("dataset.path", d.Dataset.Path)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout_sec", d.Server.ShutdownTimeoutSec)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}

// Load reads the YAML file at path and applies FIELDOPS_* environment
// overrides, e.g. FIELDOPS_STORE_BACKEND=sqlite. A missing file yields
// the defaults plus overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.AutoSnapshot && c.Store.SnapshotPath == "" {
		return errors.New("store.auto_snapshot requires store.snapshot_path")
	}
	return nil
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("store", cfg.Store)
	v.Set("dataset", cfg.Dataset)
	v.Set("server", cfg.Server)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
