package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads a trajectory document. It returns nil without error when the
// file does not exist.
func Load(path string) (*Document, error) {
	if path == "" {
		return nil, fmt.Errorf("trajectory path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read trajectory: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse trajectory %s: %w", path, err)
	}
	return &doc, nil
}

// Write persists a trajectory document using an atomic rename so a crash
// never leaves a truncated file behind.
func Write(path string, doc Document) error {
	if path == "" {
		return fmt.Errorf("trajectory path is required")
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode trajectory: %w", err)
	}
	payload = append(payload, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, writeErr := file.Write(payload)
	syncErr := file.Sync()
	closeErr := file.Close()
	for _, err := range []error{writeErr, syncErr, closeErr} {
		if err != nil {
			_ = os.Remove(tmpPath)
			return err
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
