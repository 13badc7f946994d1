package file

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
)

// Ensure SettingsStore implements the interface.
var _ driven.SettingsStore = (*SettingsStore)(nil)

// format is a supported settings encoding.
type format int

const (
	formatTOML format = iota
	formatYAML
)

// SettingsStore reads and writes domain.Settings. Files ending in .yml or
// .yaml use the YAML secrets layout; everything else is TOML.
type SettingsStore struct {
	mu       sync.Mutex
	filePath string
	format   format
}

// NewSettingsStore creates a settings store for path.
// If path is empty, defaults to ~/.dixelkit/config.toml.
func NewSettingsStore(path string) (*SettingsStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".dixelkit", "config.toml")
	}
	path, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}

	f := formatTOML
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		f = formatYAML
	}
	return &SettingsStore{filePath: path, format: f}, nil
}

// Path returns the settings file path.
func (s *SettingsStore) Path() string {
	return s.filePath
}

// Load reads and validates the settings. A missing file yields defaults.
func (s *SettingsStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := domain.DefaultSettings()
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file yet - that's fine, use defaults
			return settings, nil
		}
		return settings, err
	}

	switch s.format {
	case formatYAML:
		err = yaml.Unmarshal(data, &settings)
	default:
		err = toml.Unmarshal(data, &settings)
	}
	if err != nil {
		return settings, fmt.Errorf("%w: parsing %s: %v", domain.ErrInvalidInput, s.filePath, err)
	}

	if settings.Services == nil {
		settings.Services = make(map[string]domain.ServiceConfig)
	}
	if settings.CacheDir, err = ExpandHome(settings.CacheDir); err != nil {
		return settings, err
	}
	if settings.LogFile, err = ExpandHome(settings.LogFile); err != nil {
		return settings, err
	}
	for name, svc := range settings.Services {
		if svc.Path, err = ExpandHome(svc.Path); err != nil {
			return settings, err
		}
		settings.Services[name] = svc
	}

	if err := settings.Validate(); err != nil {
		return settings, fmt.Errorf("%s: %w", s.filePath, err)
	}
	return settings, nil
}

// Save writes settings to the file with restricted permissions.
func (s *SettingsStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	var err error
	switch s.format {
	case formatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		err = enc.Encode(settings)
		if err == nil {
			err = enc.Close()
		}
	default:
		err = toml.NewEncoder(&buf).Encode(settings)
	}
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return err
	}
	return os.WriteFile(s.filePath, buf.Bytes(), 0600)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
