package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader reads and writes the daemon configuration file. An empty path means
// the default location under the user's home directory.
type Loader struct {
	path string
}

// NewLoader creates a loader for the given config path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load is shorthand for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

func defaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".vellum", "vellum.json"), nil
}

// GetConfigPath returns the resolved config file path.
func (l *Loader) GetConfigPath() string {
	if l.path != "" {
		return l.path
	}
	p, err := defaultPath()
	if err != nil {
		return ""
	}
	return p
}

// Load reads the config file, layering VELLUM_* environment variables on
// top. A missing file is not an error; defaults apply.
func (l *Loader) Load() (*Config, error) {
	path := l.path
	if path == "" {
		var err error
		if path, err = defaultPath(); err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("VELLUM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.fillPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillPaths derives file locations left empty in the config from DataDir.
func (c *Config) fillPaths() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".vellum")
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "vellum.log")
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.DataDir, "history.db")
	}
	return nil
}

// Save writes the configuration as JSON, creating the directory if needed.
func (l *Loader) Save(cfg *Config) error {
	path := l.path
	if path == "" {
		var err error
		if path, err = defaultPath(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	for key, section := range map[string]interface{}{
		"orchestrator": cfg.Orchestrator,
		"context":      cfg.Context,
		"events":       cfg.Events,
		"personas":     cfg.Personas,
		"models":       cfg.Models,
		"history":      cfg.History,
		"logging":      cfg.Logging,
		"gateway":      cfg.Gateway,
		"maintenance":  cfg.Maintenance,
		"data_dir":     cfg.DataDir,
	} {
		v.Set(key, section)
	}

	err := v.WriteConfig()
	if err != nil && os.IsNotExist(err) {
		err = v.SafeWriteConfig()
	}
	if err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
