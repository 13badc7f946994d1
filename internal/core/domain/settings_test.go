package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	timeout, err := s.RequestTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)
	assert.NotNil(t, s.Services)
	assert.NoError(t, s.Validate())
}

func TestSettings_RequestTimeout(t *testing.T) {
	timeout, err := Settings{Timeout: "5s"}.RequestTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, timeout)

	timeout, err = Settings{}.RequestTimeout()
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, timeout)

	_, err = Settings{Timeout: "soon"}.RequestTimeout()
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Settings{Timeout: "-1s"}.RequestTimeout()
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSettings_Service(t *testing.T) {
	s := Settings{Services: map[string]ServiceConfig{
		"pacs": {Type: KindProxy, Host: "orthanc", RemoteAET: "PACS"},
		"disk": {Type: KindFile, Path: "/data"},
	}}

	cfg, err := s.Service("pacs")
	require.NoError(t, err)
	assert.Equal(t, "pacs", cfg.Name)
	assert.Equal(t, []string{"disk", "pacs"}, s.ServiceNames())

	_, err = s.Service("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServiceConfig
		wantErr bool
	}{
		{"file with path", ServiceConfig{Type: KindFile, Path: "/data"}, false},
		{"file without path", ServiceConfig{Type: KindFile}, true},
		{"archive", ServiceConfig{Type: KindArchive, Host: "orthanc"}, false},
		{"archive without host", ServiceConfig{Type: KindArchive}, true},
		{"proxy without aet", ServiceConfig{Type: KindProxy, Host: "orthanc"}, true},
		{"proxy", ServiceConfig{Type: KindProxy, Host: "orthanc", RemoteAET: "PACS"}, false},
		{"montage", ServiceConfig{Type: KindSearchIndex, Host: "montage"}, false},
		{"log index defaults", ServiceConfig{Type: KindLogIndex}, false},
		{"unknown type", ServiceConfig{Type: "ftp"}, true},
		{"bad cache policy", ServiceConfig{Type: KindLogIndex, CachePolicy: "sometimes"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSettings_ValidateReportsService(t *testing.T) {
	s := Settings{Services: map[string]ServiceConfig{"bad": {Type: KindArchive}}}

	err := s.Validate()

	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), `"bad"`)
}
