// Package config loads and validates the on-disk build configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/celestius0/angular-cli/pkg/types"
	"github.com/celestius0/angular-cli/pkg/utils"
)

// DefaultFileNames are probed, in order, when no config path is given.
var DefaultFileNames = []string{
	"ngbuild.json",
	"ngbuild.yaml",
	"ngbuild.yml",
}

// Load reads and validates a build configuration file. JSON is tried
// first, then YAML.
func Load(path string) (*types.BuildConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.BuildConfig
	if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
		if yamlErr := yaml.Unmarshal(data, &cfg); yamlErr != nil {
			return nil, fmt.Errorf("failed to parse config as JSON (%v) or YAML (%v)", jsonErr, yamlErr)
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Discover finds the config file in the project root, probing the default
// names. Returns an error when none exists.
func Discover(projectRoot string) (string, error) {
	for _, name := range DefaultFileNames {
		path := filepath.Join(projectRoot, name)
		if utils.FileExists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("no build config found in %s (looked for %v)", projectRoot, DefaultFileNames)
}

// Validate checks structural requirements before the config is used.
func Validate(cfg *types.BuildConfig) error {
	if cfg.Version != types.ConfigVersion {
		return fmt.Errorf("unsupported config version %q (want %q)", cfg.Version, types.ConfigVersion)
	}
	if cfg.BuildCommand == "" {
		return fmt.Errorf("buildCommand must not be empty")
	}
	if cfg.ArtifactDir == "" {
		return fmt.Errorf("artifactDir must not be empty")
	}
	if filepath.IsAbs(cfg.ArtifactDir) {
		return fmt.Errorf("artifactDir must be relative to the project root")
	}
	if len(cfg.WatchPaths) == 0 {
		return fmt.Errorf("watchPaths must name at least one pattern")
	}
	for _, pattern := range cfg.WatchPaths {
		if _, err := utils.NewPatternMatcher([]string{pattern}); err != nil {
			return fmt.Errorf("invalid watch pattern %q: %w", pattern, err)
		}
	}
	return nil
}
