// Package storage builds dixel stores from service configuration.
package storage

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/file"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/montage"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/orthanc"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
	"github.com/custodia-labs/dixelkit/internal/core/transfer"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

// Env is shared by every store a factory builds.
type Env struct {
	Matrix   *transfer.Matrix
	Log      *logger.Logger
	CacheDir string
	Timeout  time.Duration

	// CachePolicy overrides every service's policy when non-empty.
	CachePolicy string
}

// Builder creates a store of one kind.
type Builder func(cfg domain.ServiceConfig, env Env) (driven.Store, error)

// Factory creates stores from service configuration.
// It maintains a registry of store kinds and their builders.
type Factory struct {
	env      Env
	mu       sync.RWMutex
	builders map[domain.StoreKind]Builder
}

// Verify interface compliance.
var _ driven.StoreFactory = (*Factory)(nil)

// NewFactory creates a factory with the builtin kinds registered.
// A nil matrix is replaced by DefaultMatrix.
func NewFactory(env Env) *Factory {
	if env.Matrix == nil {
		env.Matrix = DefaultMatrix()
	}
	if env.Log == nil {
		env.Log = logger.Discard()
	}
	if env.Timeout == 0 {
		env.Timeout = domain.DefaultTimeout
	}

	f := &Factory{
		env:      env,
		builders: make(map[domain.StoreKind]Builder),
	}
	f.Register(domain.KindFile, buildFile)
	f.Register(domain.KindArchive, buildArchive)
	f.Register(domain.KindProxy, buildProxy)
	f.Register(domain.KindSearchIndex, buildSearchIndex)
	f.Register(domain.KindLogIndex, buildLogIndex)
	return f
}

// Matrix returns the copy policy table shared by the factory's stores.
func (f *Factory) Matrix() *transfer.Matrix {
	return f.env.Matrix
}

// Register adds a builder for the given kind, replacing any earlier one.
func (f *Factory) Register(kind domain.StoreKind, builder Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[kind] = builder
}

// Create validates cfg and builds the store it describes.
func (f *Factory) Create(cfg domain.ServiceConfig) (driven.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if f.env.CachePolicy != "" {
		cfg.CachePolicy = f.env.CachePolicy
	}

	f.mu.RLock()
	builder, ok := f.builders[cfg.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unsupported store type %q", domain.ErrInvalidInput, cfg.Type)
	}

	store, err := builder(cfg, f.env)
	if err != nil {
		return nil, fmt.Errorf("creating %s store %q: %w", cfg.Type, cfg.Name, err)
	}
	f.env.Log.Debug("Created %s store %q", cfg.Type, cfg.Name)
	return store, nil
}

// SupportedKinds returns all registered kinds, sorted.
func (f *Factory) SupportedKinds() []domain.StoreKind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	kinds := make([]domain.StoreKind, 0, len(f.builders))
	for k := range f.builders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// DefaultMatrix registers the copy policies between the builtin kinds.
func DefaultMatrix() *transfer.Matrix {
	m := transfer.NewMatrix()
	m.Register(domain.KindFile, domain.KindArchive, transfer.GetThenPut)
	m.Register(domain.KindFile, domain.KindLogIndex, transfer.UpdateThenPut)
	m.Register(domain.KindArchive, domain.KindArchive, orthanc.PushToPeer)
	m.Register(domain.KindArchive, domain.KindProxy, orthanc.PushToPeer)
	m.Register(domain.KindArchive, domain.KindLogIndex, transfer.UpdateThenPut)
	m.Register(domain.KindArchive, domain.KindFile, transfer.GetThenPut)
	return m
}

func buildFile(cfg domain.ServiceConfig, env Env) (driven.Store, error) {
	policy, err := domain.ParseCachePolicy(cfg.CachePolicy, domain.CacheUse)
	if err != nil {
		return nil, err
	}
	return file.New(file.Config{
		Root:        cfg.Path,
		CachePolicy: policy,
		CacheDir:    env.CacheDir,
	}, env.Matrix, env.Log)
}

func archiveConfig(cfg domain.ServiceConfig, env Env) (orthanc.Config, error) {
	policy, err := domain.ParseCachePolicy(cfg.CachePolicy, domain.CacheNone)
	if err != nil {
		return orthanc.Config{}, err
	}
	out := orthanc.Config{
		User:        cfg.User,
		Password:    cfg.Password,
		PeerName:    cfg.PeerName,
		CachePolicy: policy,
		CacheDir:    env.CacheDir,
		Timeout:     env.Timeout,
		RateLimit:   cfg.RateLimit,
	}
	out.URL, out.Host, out.Port = splitEndpoint(cfg.Host, cfg.Port)
	return out, nil
}

func buildArchive(cfg domain.ServiceConfig, env Env) (driven.Store, error) {
	oc, err := archiveConfig(cfg, env)
	if err != nil {
		return nil, err
	}
	return orthanc.NewArchive(oc, env.Matrix, env.Log)
}

func buildProxy(cfg domain.ServiceConfig, env Env) (driven.Store, error) {
	oc, err := archiveConfig(cfg, env)
	if err != nil {
		return nil, err
	}
	return orthanc.NewProxy(orthanc.ProxyConfig{Config: oc, RemoteAET: cfg.RemoteAET}, env.Matrix, env.Log)
}

func buildSearchIndex(cfg domain.ServiceConfig, env Env) (driven.Store, error) {
	mc := montage.Config{
		User:      cfg.User,
		Password:  cfg.Password,
		Index:     cfg.Index,
		Timeout:   env.Timeout,
		RateLimit: cfg.RateLimit,
	}
	mc.URL, mc.Host, mc.Port = splitEndpoint(cfg.Host, cfg.Port)
	if mc.URL != "" && !strings.HasSuffix(mc.URL, montage.APIPrefix) {
		mc.URL = strings.TrimRight(mc.URL, "/") + montage.APIPrefix
	}
	return montage.New(mc, env.Matrix, env.Log), nil
}

func buildLogIndex(cfg domain.ServiceConfig, env Env) (driven.Store, error) {
	policy, err := domain.ParseCachePolicy(cfg.CachePolicy, domain.CacheNone)
	if err != nil {
		return nil, err
	}
	return sqlite.NewStore(sqlite.Config{
		Path:        cfg.Path,
		Index:       cfg.Index,
		CachePolicy: policy,
		CacheDir:    env.CacheDir,
	}, env.Matrix, env.Log)
}

// splitEndpoint accepts a bare host, a host:port pair or a full URL.
func splitEndpoint(host string, port int) (rawURL, h string, p int) {
	if strings.Contains(host, "://") {
		return strings.TrimRight(host, "/"), "", 0
	}
	if hh, ps, err := net.SplitHostPort(host); err == nil {
		if n, err := strconv.Atoi(ps); err == nil {
			return "", hh, n
		}
	}
	return "", host, port
}
