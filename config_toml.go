package appfabric

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/BurntSushi/toml"
)

// TOMLFeeder reads a TOML configuration file.
type TOMLFeeder struct {
	Path string
}

// NewTOMLFeeder creates a feeder over the given TOML file.
func NewTOMLFeeder(path string) TOMLFeeder {
	return TOMLFeeder{Path: path}
}

// Feed decodes the whole file into the target.
func (f TOMLFeeder) Feed(target any) error {
	if _, err := toml.DecodeFile(f.Path, target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrConfigFileNotFound, f.Path)
		}
		return fmt.Errorf("failed to parse TOML file %s: %w", f.Path, err)
	}
	return nil
}

// FeedKey extracts one top-level table from the file into the target.
func (f TOMLFeeder) FeedKey(key string, target any) error {
	var all map[string]toml.Primitive
	meta, err := toml.DecodeFile(f.Path, &all)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrConfigFileNotFound, f.Path)
		}
		return fmt.Errorf("failed to parse TOML file %s: %w", f.Path, err)
	}
	prim, exists := all[key]
	if !exists {
		return nil
	}
	if err := meta.PrimitiveDecode(prim, target); err != nil {
		return fmt.Errorf("failed to decode section %s: %w", key, err)
	}
	return nil
}
