package agentconf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a configuration from a JSON or YAML file.
func Load(path string) (Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, fmt.Errorf("read configuration: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Configuration{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration bytes; ext selects the format (".json" or YAML otherwise).
func Parse(data []byte, ext string) (Configuration, error) {
	var cfg Configuration
	switch strings.ToLower(ext) {
	case ".json":
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return Configuration{}, fmt.Errorf("parse configuration json: %w", err)
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			if err == io.EOF {
				return Configuration{}, fmt.Errorf("parse configuration yaml: empty document")
			}
			return Configuration{}, fmt.Errorf("parse configuration yaml: %w", err)
		}
	}
	if strings.TrimSpace(cfg.Instructions) == "" {
		return Configuration{}, fmt.Errorf("instructions are required")
	}
	return cfg, nil
}

// Save writes a configuration as YAML or JSON depending on the extension.
func Save(path string, cfg Configuration) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create configuration dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
