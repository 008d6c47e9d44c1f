// Package config loads stagehand settings using Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
	"github.com/felixgeelhaar/stagehand/internal/log"
)

// FileName is the config file looked up in the workspace root.
const FileName = "stagehand.yaml"

// EnvPrefix prefixes environment overrides, e.g. STAGEHAND_MAX_CONCURRENCY.
const EnvPrefix = "STAGEHAND"

// Config holds the application configuration.
type Config struct {
	Workspace      string        `mapstructure:"workspace" yaml:"workspace"`
	StateDir       string        `mapstructure:"state_dir" yaml:"state_dir"`
	MaxConcurrency int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	CancelGrace    time.Duration `mapstructure:"cancel_grace" yaml:"cancel_grace"`
	KeepSnapshots  bool          `mapstructure:"keep_snapshots" yaml:"keep_snapshots"`
	Checkpoints    bool          `mapstructure:"checkpoints" yaml:"checkpoints"`
	Log            LogConfig     `mapstructure:"log" yaml:"log"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Workspace:      ".",
		StateDir:       ".stagehand",
		MaxConcurrency: 5,
		CancelGrace:    10 * time.Second,
		KeepSnapshots:  false,
		Checkpoints:    true,
		Log:            LogConfig{Level: "info", Format: "text"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("workspace", d.Workspace)
	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("max_concurrency", d.MaxConcurrency)
	v.SetDefault("cancel_grace", d.CancelGrace)
	v.SetDefault("keep_snapshots", d.KeepSnapshots)
	v.SetDefault("checkpoints", d.Checkpoints)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// New returns a Viper instance with defaults and environment overrides
// wired. Commands bind their flags to it before calling Load.
func New(fs afero.Fs) *viper.Viper {
	v := viper.New()
	v.SetFs(fs)
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and decodes the layered settings.
// An explicit configPath must exist; otherwise stagehand.yaml in the
// workspace is used when present.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("workspace"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, serr.Wrap(serr.ErrCodeConfigInvalid, "failed to read config", err).
				WithSuggestion("Check the YAML syntax of " + FileName)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, serr.Wrap(serr.ErrCodeConfigInvalid, "failed to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var problems []string
	if c.MaxConcurrency < 1 {
		problems = append(problems, fmt.Sprintf("max_concurrency must be at least 1, got %d", c.MaxConcurrency))
	}
	if c.CancelGrace < 0 {
		problems = append(problems, fmt.Sprintf("cancel_grace cannot be negative, got %s", c.CancelGrace))
	}
	if strings.TrimSpace(c.StateDir) == "" {
		problems = append(problems, "state_dir cannot be empty")
	}
	if _, err := log.ParseLevelStrict(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := log.ParseFormatStrict(c.Log.Format); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return serr.New(serr.ErrCodeConfigInvalid, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}

// StatePath returns the state directory, resolved against the workspace
// when relative.
func (c *Config) StatePath() string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(c.Workspace, c.StateDir)
}

// SnapshotDir is where the disk snapshot store lives.
func (c *Config) SnapshotDir() string { return filepath.Join(c.StatePath(), "snapshots") }

// RunsDir is where run checkpoints are written.
func (c *Config) RunsDir() string { return filepath.Join(c.StatePath(), "runs") }

// PatchDir is where committed patches are written.
func (c *Config) PatchDir() string { return filepath.Join(c.StatePath(), "patches") }

// LoggerConfig converts the log settings. Validate has already checked them.
func (c *Config) LoggerConfig() log.Config {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(c.Log.Level)
	cfg.Format = log.ParseFormat(c.Log.Format)
	return cfg
}

// Save writes cfg as YAML to path. An empty Workspace is left out, so the
// workspace is found by discovery.
func Save(fs afero.Fs, cfg *Config, path string) error {
	v := viper.New()
	v.SetFs(fs)
	if cfg.Workspace != "" {
		v.Set("workspace", cfg.Workspace)
	}
	v.Set("state_dir", cfg.StateDir)
	v.Set("max_concurrency", cfg.MaxConcurrency)
	v.Set("cancel_grace", cfg.CancelGrace.String())
	v.Set("keep_snapshots", cfg.KeepSnapshots)
	v.Set("checkpoints", cfg.Checkpoints)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)

	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return v.WriteConfigAs(path)
}
