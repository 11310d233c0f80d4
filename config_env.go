package appfabric

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/golobby/cast"
)

// EnvFeeder populates struct fields tagged with `env` from environment
// variables. An optional prefix is prepended to every variable name.
type EnvFeeder struct {
	Prefix string
}

// NewEnvFeeder creates a feeder over the process environment.
func NewEnvFeeder() EnvFeeder {
	return EnvFeeder{}
}

// NewPrefixedEnvFeeder creates a feeder whose lookups are prefixed, so
// a field tagged `env:"PORT"` with prefix "APP_" reads APP_PORT.
func NewPrefixedEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: strings.ToUpper(prefix)}
}

// Feed fills the target struct from environment variables. The target
// must be a non-nil pointer to a struct; nested structs are walked.
func (f EnvFeeder) Feed(target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrConfigNotStruct
	}
	return f.fillStruct(rv.Elem())
}

func (f EnvFeeder) fillStruct(rv reflect.Value) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)

		if field.Kind() == reflect.Struct {
			if err := f.fillStruct(field); err != nil {
				return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
			}
			continue
		}
		if field.Kind() == reflect.Pointer && !field.IsNil() && field.Elem().Kind() == reflect.Struct {
			if err := f.fillStruct(field.Elem()); err != nil {
				return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
			}
			continue
		}

		tag, exists := fieldType.Tag.Lookup("env")
		if !exists || tag == "" {
			continue
		}
		raw, set := os.LookupEnv(f.Prefix + strings.ToUpper(tag))
		if !set || raw == "" {
			continue
		}

		converted, err := cast.FromType(raw, field.Type())
		if err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
		}
		if !field.CanSet() {
			continue
		}
		field.Set(reflect.ValueOf(converted))
	}
	return nil
}
