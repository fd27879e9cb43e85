// Package config loads, normalizes and validates run configuration files.
package config

import (
	"fmt"
	"os"

	"diaharness/internal/spec"
)

// Load reads, parses, normalizes, and validates a config file. Relative
// paths inside the file are resolved against the project root.
func Load(path string) (spec.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return spec.Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := spec.ParseConfig(data)
	if err != nil {
		return spec.Config{}, err
	}
	Normalize(&cfg)
	root := RootFromConfigPath(path)
	ResolvePaths(&cfg, root)
	if err := Validate(&cfg); err != nil {
		return spec.Config{}, err
	}
	return cfg, nil
}

// ResolvePaths makes every file path in cfg absolute against root.
func ResolvePaths(cfg *spec.Config, root string) {
	cfg.SeedConfig = Resolve(root, cfg.SeedConfig)
	cfg.Suites.Train = Resolve(root, cfg.Suites.Train)
	cfg.Suites.Holdout = Resolve(root, cfg.Suites.Holdout)
	cfg.Output.Dir = Resolve(root, cfg.Output.Dir)
	cfg.Output.DuckDB = Resolve(root, cfg.Output.DuckDB)
	cfg.Logging.File = Resolve(root, cfg.Logging.File)
}
