package driven

import "github.com/custodia-labs/dixelkit/internal/core/domain"

// SettingsStore persists application settings.
// Implementations handle the file encoding (e.g., TOML or YAML).
type SettingsStore interface {
	// Load reads and validates settings. A missing file yields defaults.
	Load() (domain.Settings, error)

	// Save persists settings, replacing the stored file.
	Save(settings domain.Settings) error

	// Path returns the settings file path.
	Path() string
}
