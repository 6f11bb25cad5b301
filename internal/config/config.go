// Package config loads the daemon configuration: a YAML app config for the
// process (listen address, history path) and a JSON tuning file for engine
// parameters that can also be inspected at runtime.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP/WebSocket surface.
type ServerConfig struct {
	Listen string `yaml:"listen" validate:"required"`
}

// HistoryConfig configures the sqlite observability store.
type HistoryConfig struct {
	// Path is the sqlite file; empty disables history recording.
	Path string `yaml:"path"`
}

// AppConfig is the root daemon configuration.
type AppConfig struct {
	Server  ServerConfig  `yaml:"server" validate:"required"`
	History HistoryConfig `yaml:"history"`
	// TuningPath optionally points at a JSON engine tuning file.
	TuningPath string `yaml:"tuning"`
}

// DefaultAppConfig returns the configuration used when no file is supplied.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server:  ServerConfig{Listen: ":8080"},
		History: HistoryConfig{Path: "routetrack.db"},
	}
}

// LoadAppConfig reads and validates a YAML app config. Fields omitted from
// the file keep their defaults.
func LoadAppConfig(path string) (AppConfig, error) {
	cfg := DefaultAppConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}
