package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/file"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/montage"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/orthanc"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
	"github.com/custodia-labs/dixelkit/internal/core/transfer"
)

func TestFactory_SupportedKinds(t *testing.T) {
	f := NewFactory(Env{})

	kinds := f.SupportedKinds()

	assert.ElementsMatch(t, domain.AllStoreKinds(), kinds)
	assert.NotNil(t, f.Matrix())
}

func TestFactory_CreateEachKind(t *testing.T) {
	dir := t.TempDir()
	f := NewFactory(Env{CacheDir: t.TempDir()})

	tests := []struct {
		name string
		cfg  domain.ServiceConfig
		want any
	}{
		{"file", domain.ServiceConfig{Type: domain.KindFile, Path: dir}, &file.Store{}},
		{"archive", domain.ServiceConfig{Type: domain.KindArchive, Host: "orthanc"}, &orthanc.Archive{}},
		{"proxy", domain.ServiceConfig{Type: domain.KindProxy, Host: "orthanc", RemoteAET: "PACS"}, &orthanc.Proxy{}},
		{"montage", domain.ServiceConfig{Type: domain.KindSearchIndex, Host: "montage"}, &montage.SearchIndex{}},
		{"logindex", domain.ServiceConfig{Type: domain.KindLogIndex, Path: filepath.Join(dir, "log.db")}, &sqlite.Store{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := f.Create(tt.cfg)
			require.NoError(t, err)
			assert.IsType(t, tt.want, store)
			assert.Equal(t, tt.cfg.Type, store.Kind())
			if c, ok := store.(interface{ Close() error }); ok {
				assert.NoError(t, c.Close())
			}
		})
	}
}

func TestFactory_CreateRejectsInvalidConfig(t *testing.T) {
	f := NewFactory(Env{})

	_, err := f.Create(domain.ServiceConfig{Name: "pacs", Type: domain.KindProxy, Host: "orthanc"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.Create(domain.ServiceConfig{Type: "ftp"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFactory_CreateMissingFileRoot(t *testing.T) {
	f := NewFactory(Env{})

	_, err := f.Create(domain.ServiceConfig{Name: "disk", Type: domain.KindFile, Path: filepath.Join(t.TempDir(), "absent")})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), `"disk"`)
}

func TestFactory_RegisterOverridesBuilder(t *testing.T) {
	f := NewFactory(Env{})
	var got domain.ServiceConfig
	f.Register(domain.KindArchive, func(cfg domain.ServiceConfig, _ Env) (driven.Store, error) {
		got = cfg
		return nil, assert.AnError
	})

	_, err := f.Create(domain.ServiceConfig{Name: "a", Type: domain.KindArchive, Host: "h"})

	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "h", got.Host)
}

func TestFactory_CachePolicyOverride(t *testing.T) {
	f := NewFactory(Env{CachePolicy: "clear"})
	var got string
	f.Register(domain.KindArchive, func(cfg domain.ServiceConfig, _ Env) (driven.Store, error) {
		got = cfg.CachePolicy
		return nil, assert.AnError
	})

	_, _ = f.Create(domain.ServiceConfig{Type: domain.KindArchive, Host: "h", CachePolicy: "use"})

	assert.Equal(t, "clear", got)
}

func TestDefaultMatrix_Pairs(t *testing.T) {
	m := DefaultMatrix()

	assert.ElementsMatch(t, []transfer.Pair{
		{From: domain.KindFile, To: domain.KindArchive},
		{From: domain.KindFile, To: domain.KindLogIndex},
		{From: domain.KindArchive, To: domain.KindArchive},
		{From: domain.KindArchive, To: domain.KindProxy},
		{From: domain.KindArchive, To: domain.KindLogIndex},
		{From: domain.KindArchive, To: domain.KindFile},
	}, m.Pairs())

	_, ok := m.Lookup(domain.KindSearchIndex, domain.KindArchive)
	assert.False(t, ok)
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		host     string
		port     int
		wantURL  string
		wantHost string
		wantPort int
	}{
		{"orthanc", 8042, "", "orthanc", 8042},
		{"orthanc:9000", 0, "", "orthanc", 9000},
		{"https://pacs.example.org/", 0, "https://pacs.example.org", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			u, h, p := splitEndpoint(tt.host, tt.port)
			assert.Equal(t, tt.wantURL, u)
			assert.Equal(t, tt.wantHost, h)
			assert.Equal(t, tt.wantPort, p)
		})
	}
}

func TestArchiveConfig_URLFromHost(t *testing.T) {
	oc, err := archiveConfig(domain.ServiceConfig{Host: "http://archive:8042", PeerName: "ARCHIVE"}, Env{})
	require.NoError(t, err)

	assert.Equal(t, "http://archive:8042", oc.BaseURL())
	assert.Equal(t, "ARCHIVE", oc.PeerName)
	assert.Equal(t, domain.CacheNone, oc.CachePolicy)
}
