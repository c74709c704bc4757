package config

import (
	"errors"
	"fmt"
)

// ConfigError is implemented by every error that means steiger.yml is wrong,
// as opposed to unreadable.
type ConfigError interface {
	error
	ConfigError()
}

// ParseError means the file is not valid YAML.
type ParseError struct {
	Filename string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Filename, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) ConfigError() {}

// SchemaError means the YAML doesn't match the config schema, e.g. a field
// of a different build type.
type SchemaError struct {
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error in %q: %s", e.Field, e.Message)
}

func (e *SchemaError) ConfigError() {}

// ValidationError is a well-formed field with a bad value.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) ConfigError() {}

// problems collects every error found in one validation pass so the user
// sees all of them at once.
type problems struct {
	errs []error
}

func (p *problems) add(err error) {
	p.errs = append(p.errs, err)
}

func (p *problems) found() bool {
	return len(p.errs) > 0
}

func (p *problems) err() error {
	return errors.Join(p.errs...)
}

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var cerr ConfigError
	return errors.As(err, &cerr)
}
