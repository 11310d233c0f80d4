package appfabric

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
)

// Feeder populates a configuration structure from one source. Feeders
// are composable; later feeders override earlier ones field by field.
type Feeder interface {
	Feed(target any) error
}

// KeyFeeder is a Feeder that can extract a single named section.
type KeyFeeder interface {
	Feeder
	FeedKey(key string, target any) error
}

// ConfigProvider layers feeders over a configuration structure. It is
// the "config" core dependency handed to modules.
type ConfigProvider struct {
	feeders []Feeder
}

// NewConfigProvider builds a provider over the given feeders, applied
// in order.
func NewConfigProvider(feeders ...Feeder) *ConfigProvider {
	return &ConfigProvider{feeders: feeders}
}

// AddFeeder appends a feeder. It runs after the existing ones.
func (p *ConfigProvider) AddFeeder(f Feeder) *ConfigProvider {
	p.feeders = append(p.feeders, f)
	return p
}

// Load feeds the target structure from every feeder in order. The
// target must be a non-nil pointer to a struct.
func (p *ConfigProvider) Load(target any) error {
	if err := validateConfigTarget(target); err != nil {
		return err
	}
	for _, f := range p.feeders {
		if err := f.Feed(target); err != nil {
			return NewConfigError("FEED_FAILED",
				fmt.Sprintf("configuration feeder %T failed", f),
				map[string]any{"feeder": fmt.Sprintf("%T", f)}, WithCause(err))
		}
	}
	return nil
}

// LoadSection feeds only the named section of each key-capable feeder
// into the target. Feeders without key support are skipped.
func (p *ConfigProvider) LoadSection(key string, target any) error {
	for _, f := range p.feeders {
		kf, ok := f.(KeyFeeder)
		if !ok {
			continue
		}
		if err := kf.FeedKey(key, target); err != nil {
			return NewConfigError("FEED_FAILED",
				fmt.Sprintf("configuration feeder %T failed for section %s", f, key),
				map[string]any{"feeder": fmt.Sprintf("%T", f), "section": key}, WithCause(err))
		}
	}
	return nil
}

// Sections loads the whole configuration as a nested map keyed by
// top-level section name, the shape SupervisorConfig consumes.
func (p *ConfigProvider) Sections() (map[string]map[string]any, error) {
	raw := make(map[string]any)
	for _, f := range p.feeders {
		if err := f.Feed(&raw); err != nil {
			return nil, NewConfigError("FEED_FAILED",
				fmt.Sprintf("configuration feeder %T failed", f),
				map[string]any{"feeder": fmt.Sprintf("%T", f)}, WithCause(err))
		}
	}

	sections := make(map[string]map[string]any, len(raw))
	for name, value := range raw {
		section, ok := value.(map[string]any)
		if !ok {
			continue
		}
		sections[name] = section
	}
	return sections, nil
}

func validateConfigTarget(target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return NewConfigError("INVALID_TARGET",
			"configuration target must be a non-nil pointer",
			nil, WithCause(ErrConfigNotPointer))
	}
	elem := rv.Elem().Kind()
	if elem != reflect.Struct && elem != reflect.Map {
		return NewConfigError("INVALID_TARGET",
			"configuration target must point to a struct or map",
			nil, WithCause(ErrConfigNotStruct))
	}
	return nil
}

// NewFileFeeder picks a feeder by file extension. Unknown extensions
// fail with a config error.
func NewFileFeeder(path string) (Feeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYAMLFeeder(path), nil
	case ".toml":
		return NewTOMLFeeder(path), nil
	default:
		return nil, NewConfigError("UNSUPPORTED_FORMAT",
			fmt.Sprintf("no feeder for configuration file %s", path),
			map[string]any{"path": path}, WithCause(ErrUnsupportedFormat))
	}
}
