package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/cadsmith/assets"
	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/pkg/filesystem"
	"github.com/doeshing/cadsmith/internal/ports"
)

// FileLoader loads YAML configuration from ~/.cadsmith/config.yaml
// (overridable via CADSMITH_CONFIG).
type FileLoader struct {
	overridePath string
}

// NewFileLoader builds a new loader. An empty path defers to the
// environment and then the home directory.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path}
}

// Load implements ports.ConfigProvider. The embedded default is written
// out the first time.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	path := l.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return domain.Config{}, err
		}
		if err := writeDefault(path); err != nil {
			return domain.Config{}, err
		}
		data = assets.DefaultConfigYAML
	}

	cfg, err := Parse(data)
	if err != nil {
		return domain.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Path resolves the config file location.
func (l *FileLoader) Path() string {
	if l.overridePath != "" {
		return filesystem.ExpandPath(l.overridePath)
	}
	if custom := os.Getenv("CADSMITH_CONFIG"); custom != "" {
		return filesystem.ExpandPath(custom)
	}
	return filepath.Join(HomeDir(), "config.yaml")
}

// Parse decodes YAML and fills defaults.
func Parse(data []byte) (domain.Config, error) {
	var cfg domain.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.Config{}, err
	}
	return hydrateDefaults(cfg), nil
}

// Default returns the embedded configuration.
func Default() domain.Config {
	cfg, err := Parse(assets.DefaultConfigYAML)
	if err != nil {
		panic("embedded config: " + err.Error())
	}
	return cfg
}

// HomeDir is the root for config, cache and history: $CADSMITH_HOME or
// ~/.cadsmith.
func HomeDir() string {
	if custom := os.Getenv("CADSMITH_HOME"); custom != "" {
		return filesystem.ExpandPath(custom)
	}
	return filepath.Join(filesystem.UserHomeDir(), ".cadsmith")
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return err
	}
	return os.WriteFile(path, assets.DefaultConfigYAML, domain.SecureFilePermissions)
}

func hydrateDefaults(cfg domain.Config) domain.Config {
	if cfg.ConfigFormatVersion == "" {
		cfg.ConfigFormatVersion = "1"
	}
	if cfg.Preferences.DefaultModel == "" && len(cfg.Models) > 0 {
		cfg.Preferences.DefaultModel = cfg.Models[0].Name
	}
	if cfg.Preferences.TimeoutSeconds == 0 {
		cfg.Preferences.TimeoutSeconds = domain.DefaultTimeoutSeconds
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = domain.BackendFile
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = domain.BackendSQLite
	}
	return cfg
}

var _ ports.ConfigProvider = (*FileLoader)(nil)
