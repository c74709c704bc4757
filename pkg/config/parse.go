package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/steigerbuild/steiger/pkg/util/files"
)

// parse reads and parses a steiger.yml file.
// This only does YAML parsing - no validation or defaults.
// Returns ParseError if the file cannot be read or parsed.
func parse(filename string) (*configFile, error) {
	exists, err := files.Exists(filename)
	if err != nil {
		return nil, &ParseError{Filename: filename, Err: err}
	}

	if !exists {
		return nil, &ParseError{
			Filename: filename,
			Err:      fmt.Errorf("%s does not exist in %s", filepath.Base(filename), filepath.Dir(filename)),
		}
	}

	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, &ParseError{Filename: filename, Err: err}
	}

	return parseBytes(contents, filename)
}

// parseBytes parses YAML content. Unknown keys are rejected.
// The filename is used for error messages only.
func parseBytes(contents []byte, filename string) (*configFile, error) {
	cfg := &configFile{}

	if err := yaml.UnmarshalStrict(contents, cfg); err != nil {
		return nil, &ParseError{
			Filename: filename,
			Err:      fmt.Errorf("invalid YAML: %w", err),
		}
	}

	return cfg, nil
}
