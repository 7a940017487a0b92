// Package config loads GitCentral settings from gitcentral.yaml files and
// GITCENTRAL_* environment variables.
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

type LogConfig struct {
	File       string `mapstructure:"file" json:"file" yaml:"file" toml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days" yaml:"max_age_days" toml:"max_age_days"`
}

type Config struct {
	GitBinary      string        `mapstructure:"git_binary" json:"git_binary" yaml:"git_binary" toml:"git_binary"`
	Root           string        `mapstructure:"root" json:"root" yaml:"root" toml:"root"`
	Remote         string        `mapstructure:"remote" json:"remote" yaml:"remote" toml:"remote"`
	Branch         string        `mapstructure:"branch" json:"branch" yaml:"branch" toml:"branch"`
	UseLocking     bool          `mapstructure:"use_locking" json:"use_locking" yaml:"use_locking" toml:"use_locking"`
	LockUser       string        `mapstructure:"lock_user" json:"lock_user" yaml:"lock_user" toml:"lock_user"`
	Workers        int           `mapstructure:"workers" json:"workers" yaml:"workers" toml:"workers"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" json:"command_timeout" yaml:"command_timeout" toml:"command_timeout"`
	TickInterval   time.Duration `mapstructure:"tick_interval" json:"tick_interval" yaml:"tick_interval" toml:"tick_interval"`
	Debounce       time.Duration `mapstructure:"debounce" json:"debounce" yaml:"debounce" toml:"debounce"`
	DashboardPort  int           `mapstructure:"dashboard_port" json:"dashboard_port" yaml:"dashboard_port" toml:"dashboard_port"`
	HistoryDB      string        `mapstructure:"history_db" json:"history_db" yaml:"history_db" toml:"history_db"`
	Log            LogConfig     `mapstructure:"log" json:"log" yaml:"log" toml:"log"`
}

var Default = Config{
	GitBinary:      "git",
	Remote:         "origin",
	UseLocking:     true,
	Workers:        4,
	CommandTimeout: 10 * time.Minute,
	TickInterval:   100 * time.Millisecond,
	Debounce:       500 * time.Millisecond,
	DashboardPort:  8420,
	HistoryDB:      filepath.Join(".git", "gitcentral", "history.db"),
	Log: LogConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	},
}

// Load reads configuration. explicit, when set, names the config file and
// must exist. Otherwise gitcentral.yaml is searched in repoRoot's
// .git/gitcentral directory and in $HOME/.gitcentral; a missing file is not
// an error.
func Load(explicit, repoRoot string) (*Config, error) {
	v := viper.New()

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("gitcentral")
		v.SetConfigType("yaml")
		if repoRoot != "" {
			v.AddConfigPath(filepath.Join(repoRoot, ".git", "gitcentral"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".gitcentral"))
		}
	}

	v.SetDefault("git_binary", Default.GitBinary)
	v.SetDefault("root", Default.Root)
	v.SetDefault("remote", Default.Remote)
	v.SetDefault("branch", Default.Branch)
	v.SetDefault("use_locking", Default.UseLocking)
	v.SetDefault("lock_user", Default.LockUser)
	v.SetDefault("workers", Default.Workers)
	v.SetDefault("command_timeout", Default.CommandTimeout)
	v.SetDefault("tick_interval", Default.TickInterval)
	v.SetDefault("debounce", Default.Debounce)
	v.SetDefault("dashboard_port", Default.DashboardPort)
	v.SetDefault("history_db", Default.HistoryDB)
	v.SetDefault("log.file", Default.Log.File)
	v.SetDefault("log.max_size_mb", Default.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", Default.Log.MaxBackups)
	v.SetDefault("log.max_age_days", Default.Log.MaxAgeDays)

	v.SetEnvPrefix("GITCENTRAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.CommandTimeout <= 0:
		return fmt.Errorf("command_timeout must be positive, got %s", c.CommandTimeout)
	case c.TickInterval <= 0:
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	case c.Debounce < 0:
		return fmt.Errorf("debounce must not be negative, got %s", c.Debounce)
	case c.DashboardPort <= 0 || c.DashboardPort > 65535:
		return fmt.Errorf("dashboard_port out of range: %d", c.DashboardPort)
	}
	return nil
}

// HistoryPath resolves HistoryDB against root when it is relative.
func (c *Config) HistoryPath(root string) string {
	if c.HistoryDB == "" || filepath.IsAbs(c.HistoryDB) {
		return c.HistoryDB
	}
	return filepath.Join(root, c.HistoryDB)
}
