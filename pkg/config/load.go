package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/steigerbuild/steiger/pkg/errors"
	"github.com/steigerbuild/steiger/pkg/global"
	"github.com/steigerbuild/steiger/pkg/util/files"
)

const maxSearchDepth = 100

// LoadOptions locate the config file.
type LoadOptions struct {
	// Dir is the working directory. Defaults to ".".
	Dir string
	// ConfigPath is an explicit config file, relative to Dir. When empty the
	// default filename is searched for in Dir and its parents.
	ConfigPath string
	// Vars resolve ${name} references. Nil means the process environment.
	Vars Vars
}

// Load finds, parses and validates steiger.yml.
func Load(opts LoadOptions) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	var filename string
	if opts.ConfigPath != "" {
		filename, err = files.Resolve(dir, opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	} else {
		root, err := findProjectRootDir(dir, global.ConfigFilename)
		if err != nil {
			return nil, err
		}
		filename = filepath.Join(root, global.ConfigFilename)
	}

	cfg, err := parse(filename)
	if err != nil {
		return nil, err
	}

	vars := opts.Vars
	if vars == nil {
		vars = EnvironmentVars()
	}
	return fromConfigFile(cfg, filename, filepath.Dir(filename), vars)
}

// FromYAML parses and validates config contents. dir is the directory
// relative paths are resolved against.
func FromYAML(contents []byte, dir string, vars Vars) (*Config, error) {
	cfg, err := parseBytes(contents, global.ConfigFilename)
	if err != nil {
		return nil, err
	}
	return fromConfigFile(cfg, filepath.Join(dir, global.ConfigFilename), dir, vars)
}

func fromConfigFile(cfg *configFile, filename string, dir string, vars Vars) (*Config, error) {
	result := validateConfigFile(cfg)
	if result.found() {
		return nil, result.err()
	}

	substitute(cfg, vars, result)
	if result.found() {
		return nil, result.err()
	}

	config := &Config{
		Filename:           filename,
		Dir:                dir,
		InsecureRegistries: cfg.InsecureRegistries,
	}

	for _, name := range sortedKeys(cfg.Services) {
		svc := cfg.Services[name]
		config.Services = append(config.Services, &Service{
			Name:     name,
			Platform: svc.Platform,
			Build:    svc.Build.toBuild(),
		})
	}

	for _, name := range sortedKeys(cfg.Deploy) {
		rel := cfg.Deploy[name]
		var timeout time.Duration
		if rel.Timeout != "" {
			// validated above
			timeout, _ = time.ParseDuration(rel.Timeout)
		}
		config.Releases = append(config.Releases, &Release{
			Name: name,
			Helm: &HelmRelease{
				Path:        rel.Path,
				Namespace:   rel.Namespace,
				Timeout:     timeout,
				Values:      rel.Values,
				ValuesFiles: rel.ValuesFiles,
			},
		})
	}

	return config, nil
}

// Service returns the named service.
func (c *Config) Service(name string) (*Service, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Given a directory, find the steiger config file in that directory
func findConfigPathInDirectory(dir string, configFilename string) (configPath string, err error) {
	filePath := filepath.Join(dir, configFilename)
	exists, err := files.Exists(filePath)
	if err != nil {
		return "", fmt.Errorf("Failed to scan directory %s for %s: %s", dir, filePath, err)
	} else if exists {
		return filePath, nil
	}

	return "", errors.ConfigNotFound(fmt.Sprintf("%s not found in %s", configFilename, dir))
}

// Walk up the directory tree to find the root of the project.
// The project root is defined as the directory housing a `steiger.yml` file.
func findProjectRootDir(startDir string, configFilename string) (string, error) {
	dir := startDir
	for i := 0; i < maxSearchDepth; i++ {
		switch _, err := findConfigPathInDirectory(dir, configFilename); {
		case err != nil && !errors.IsConfigNotFound(err):
			return "", err
		case err == nil:
			return dir, nil
		case dir == "." || dir == "/":
			return "", errors.ConfigNotFound(fmt.Sprintf("%s not found in %s (or in any parent directories)", configFilename, startDir))
		}

		dir = filepath.Dir(dir)
	}

	return "", errors.ConfigNotFound("No steiger.yml found in parent directories.")
}
