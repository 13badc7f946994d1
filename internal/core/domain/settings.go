package domain

import (
	"fmt"
	"sort"
	"time"
)

// DefaultTimeout bounds every network request.
const DefaultTimeout = 30 * time.Second

// ServiceConfig describes one named store.
type ServiceConfig struct {
	// Name is the key the service is configured under.
	Name string `toml:"-" yaml:"-"`

	Type      StoreKind `toml:"type" yaml:"type"`
	Host      string    `toml:"host,omitempty" yaml:"host,omitempty"`
	Port      int       `toml:"port,omitempty" yaml:"port,omitempty"`
	User      string    `toml:"user,omitempty" yaml:"user,omitempty"`
	Password  string    `toml:"password,omitempty" yaml:"password,omitempty"`
	PeerName  string    `toml:"peer_name,omitempty" yaml:"peer_name,omitempty"`
	RemoteAET string    `toml:"remote_aet,omitempty" yaml:"remote_aet,omitempty"`

	// Path is the file store root or the log index database file.
	Path string `toml:"path,omitempty" yaml:"path,omitempty"`

	// Index is the search or log index name.
	Index string `toml:"index,omitempty" yaml:"index,omitempty"`

	// CachePolicy is none, use or clear; empty uses the store's default.
	CachePolicy string `toml:"cache_policy,omitempty" yaml:"cache_policy,omitempty"`

	// RateLimit is the sustained requests per second (0: unlimited).
	RateLimit float64 `toml:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// Validate checks the fields the service's type requires.
func (c ServiceConfig) Validate() error {
	switch c.Type {
	case KindFile, KindLogIndex:
		if c.Type == KindFile && c.Path == "" {
			return fmt.Errorf("%w: service %q: file stores need a path", ErrInvalidInput, c.Name)
		}
	case KindArchive, KindSearchIndex:
		if c.Host == "" {
			return fmt.Errorf("%w: service %q: %s needs a host", ErrInvalidInput, c.Name, c.Type)
		}
	case KindProxy:
		if c.Host == "" || c.RemoteAET == "" {
			return fmt.Errorf("%w: service %q: proxy needs a host and remote_aet", ErrInvalidInput, c.Name)
		}
	default:
		return fmt.Errorf("%w: service %q: unknown type %q", ErrInvalidInput, c.Name, c.Type)
	}
	if _, err := ParseCachePolicy(c.CachePolicy, CacheNone); err != nil {
		return fmt.Errorf("service %q: %w", c.Name, err)
	}
	return nil
}

// Settings is the application configuration.
type Settings struct {
	CacheDir string `toml:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`
	LogFile  string `toml:"log_file,omitempty" yaml:"log_file,omitempty"`
	Verbose  bool   `toml:"verbose,omitempty" yaml:"verbose,omitempty"`

	// Timeout is a duration string such as "30s".
	Timeout string `toml:"timeout,omitempty" yaml:"timeout,omitempty"`

	Services map[string]ServiceConfig `toml:"services,omitempty" yaml:"services,omitempty"`
}

// DefaultSettings returns settings with sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		Timeout:  DefaultTimeout.String(),
		Services: make(map[string]ServiceConfig),
	}
}

// RequestTimeout parses Timeout, defaulting to DefaultTimeout.
func (s Settings) RequestTimeout() (time.Duration, error) {
	if s.Timeout == "" {
		return DefaultTimeout, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: timeout %q", ErrInvalidInput, s.Timeout)
	}
	return d, nil
}

// Service returns the named service config.
func (s Settings) Service(name string) (ServiceConfig, error) {
	cfg, ok := s.Services[name]
	if !ok {
		return ServiceConfig{}, fmt.Errorf("%w: service %q is not configured", ErrNotFound, name)
	}
	cfg.Name = name
	return cfg, nil
}

// ServiceNames returns the configured service names, sorted.
func (s Settings) ServiceNames() []string {
	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the timeout and every service.
func (s Settings) Validate() error {
	if _, err := s.RequestTimeout(); err != nil {
		return err
	}
	for _, name := range s.ServiceNames() {
		cfg, _ := s.Service(name)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return nil
}
