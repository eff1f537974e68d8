// Package config loads the optional YAML tuning-knob file for the
// tilefuse CLI: Phase-2 epsilon, a granularity-search candidate cap,
// and log defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config mirrors the on-disk YAML document. Pointer fields distinguish
// "not set, use the built-in default" from an explicit zero value.
type Config struct {
	Phase2Epsilon *float64 `yaml:"phase2_epsilon"`
	MaxCandidates *int     `yaml:"max_candidates"`
	LogLevel      string   `yaml:"log_level"`
	LogFormat     string   `yaml:"log_format"`
}

// Load reads and parses the YAML file at path. A missing path is not
// an error — callers pass an empty string when --config was omitted.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyFlags layers CLI flag values on top of the config file: a flag
// explicitly set by the user always wins.
func ApplyFlags(cfg Config, logLevelSet, logFormatSet bool, logLevel, logFormat *string) {
	if cfg.LogLevel != "" && !logLevelSet {
		*logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !logFormatSet {
		*logFormat = cfg.LogFormat
	}
}
