package appfabric

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLFeeder reads a YAML configuration file.
type YAMLFeeder struct {
	Path string
}

// NewYAMLFeeder creates a feeder over the given YAML file.
func NewYAMLFeeder(path string) YAMLFeeder {
	return YAMLFeeder{Path: path}
}

// Feed unmarshals the whole file into the target.
func (f YAMLFeeder) Feed(target any) error {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrConfigFileNotFound, f.Path)
		}
		return fmt.Errorf("failed to read YAML file %s: %w", f.Path, err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse YAML file %s: %w", f.Path, err)
	}
	return nil
}

// FeedKey extracts one top-level key from the file into the target.
func (f YAMLFeeder) FeedKey(key string, target any) error {
	var all map[string]any
	if err := f.Feed(&all); err != nil {
		return err
	}
	value, exists := all[key]
	if !exists {
		return nil
	}

	// Remarshal the subtree to apply YAML type conversions to the target.
	raw, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal section %s: %w", key, err)
	}
	if err := yaml.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to unmarshal section %s: %w", key, err)
	}
	return nil
}
