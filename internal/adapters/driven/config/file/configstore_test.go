package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
)

const tomlConfig = `
cache_dir = "/var/cache/dixel"
verbose = true
timeout = "10s"

[services.cirr1]
type = "orthanc"
host = "cirr1"
port = 8042
user = "orthanc"
password = "passw0rd"
peer_name = "cirr1"
cache_policy = "use"

[services.deathstar]
type = "proxy"
host = "http://deathstar:8042"
remote_aet = "gepacs"

[services.montage]
type = "montage"
host = "montage"
index = "rad"
rate_limit = 2.5
`

const yamlSecrets = `
services:
  splunk:
    type: logindex
    path: /data/logindex.db
    index: dicom_series
  montage:
    type: montage
    host: montage
    port: 80
    user: m_user
    password: passw0rd
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestNewSettingsStore_DefaultPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot determine home directory")
	}

	store, err := NewSettingsStore("")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".dixelkit", "config.toml"), store.Path())
}

func TestSettingsStore_LoadMissingFileUsesDefaults(t *testing.T) {
	store, err := NewSettingsStore(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)

	settings, err := store.Load()

	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), settings)
}

func TestSettingsStore_LoadTOML(t *testing.T) {
	store, err := NewSettingsStore(writeConfig(t, "config.toml", tomlConfig))
	require.NoError(t, err)

	settings, err := store.Load()

	require.NoError(t, err)
	assert.Equal(t, "/var/cache/dixel", settings.CacheDir)
	assert.True(t, settings.Verbose)
	timeout, err := settings.RequestTimeout()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, timeout)
	assert.Equal(t, []string{"cirr1", "deathstar", "montage"}, settings.ServiceNames())

	cirr, err := settings.Service("cirr1")
	require.NoError(t, err)
	assert.Equal(t, domain.KindArchive, cirr.Type)
	assert.Equal(t, 8042, cirr.Port)
	assert.Equal(t, "passw0rd", cirr.Password)
	assert.Equal(t, "use", cirr.CachePolicy)

	proxy, err := settings.Service("deathstar")
	require.NoError(t, err)
	assert.Equal(t, domain.KindProxy, proxy.Type)
	assert.Equal(t, "gepacs", proxy.RemoteAET)

	montage, err := settings.Service("montage")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, montage.RateLimit, 1e-9)
}

func TestSettingsStore_LoadYAMLSecrets(t *testing.T) {
	store, err := NewSettingsStore(writeConfig(t, "secrets.yml", yamlSecrets))
	require.NoError(t, err)

	settings, err := store.Load()

	require.NoError(t, err)
	splunk, err := settings.Service("splunk")
	require.NoError(t, err)
	assert.Equal(t, domain.KindLogIndex, splunk.Type)
	assert.Equal(t, "dicom_series", splunk.Index)

	montage, err := settings.Service("montage")
	require.NoError(t, err)
	assert.Equal(t, "m_user", montage.User)
	assert.Equal(t, 80, montage.Port)
	assert.Equal(t, domain.DefaultTimeout.String(), settings.Timeout)
}

func TestSettingsStore_LoadRejectsInvalidService(t *testing.T) {
	path := writeConfig(t, "config.toml", "[services.pacs]\ntype = \"proxy\"\nhost = \"orthanc\"\n")
	store, err := NewSettingsStore(path)
	require.NoError(t, err)

	_, err = store.Load()

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), path)
}

func TestSettingsStore_LoadRejectsMalformedFile(t *testing.T) {
	store, err := NewSettingsStore(writeConfig(t, "config.toml", "services = [[["))
	require.NoError(t, err)

	_, err = store.Load()

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSettingsStore_SaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.toml", "secrets.yaml"} {
		t.Run(name, func(t *testing.T) {
			store, err := NewSettingsStore(filepath.Join(t.TempDir(), "nested", name))
			require.NoError(t, err)
			want := domain.DefaultSettings()
			want.CacheDir = "/tmp/cache"
			want.Services["disk"] = domain.ServiceConfig{Type: domain.KindFile, Path: "/data/dicom"}

			require.NoError(t, store.Save(want))
			got, err := store.Load()

			require.NoError(t, err)
			assert.Equal(t, want, got)

			info, err := os.Stat(store.Path())
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot determine home directory")
	}

	got, err := ExpandHome("~/.dixelkit/cache")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".dixelkit", "cache"), got)

	got, err = ExpandHome("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}
