package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	configfile "github.com/custodia-labs/dixelkit/internal/adapters/driven/config/file"
	"github.com/custodia-labs/dixelkit/internal/core/domain"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the configuration and its services",
	Long: `Prints the loaded configuration file, global options and every configured
service. Passwords are masked.`,
	RunE: runSettingsShow,
}

var settingsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	RunE:  runSettingsCheck,
}

func init() {
	settingsCmd.AddCommand(settingsCheckCmd)
	rootCmd.AddCommand(settingsCmd)
}

func loadSettings() (domain.Settings, string, error) {
	store, err := configfile.NewSettingsStore(configPath)
	if err != nil {
		return domain.Settings{}, "", err
	}
	settings, err := store.Load()
	return settings, store.Path(), err
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	settings, path, err := loadSettings()
	if err != nil {
		return err
	}

	cmd.Printf("Config: %s\n", path)
	cmd.Printf("  Timeout: %s\n", settings.Timeout)
	cmd.Printf("  Cache dir: %s\n", orDefault(settings.CacheDir, "(default)"))
	cmd.Printf("  Log file: %s\n", orDefault(settings.LogFile, "(none)"))
	cmd.Println()

	names := settings.ServiceNames()
	if len(names) == 0 {
		cmd.Println("No services configured.")
		return nil
	}
	for _, name := range names {
		cfg, _ := settings.Service(name)
		cmd.Printf("[%s] %s\n", name, cfg.Type)
		cmd.Printf("  Location: %s\n", location(cfg))
		if cfg.User != "" {
			cmd.Printf("  User: %s\n", cfg.User)
			cmd.Printf("  Password: %s\n", maskSecret(cfg.Password))
		}
		if cfg.Index != "" {
			cmd.Printf("  Index: %s\n", cfg.Index)
		}
		if cfg.CachePolicy != "" {
			cmd.Printf("  Cache: %s\n", cfg.CachePolicy)
		}
	}
	return nil
}

func runSettingsCheck(cmd *cobra.Command, _ []string) error {
	settings, path, err := loadSettings()
	if err != nil {
		return err
	}
	cmd.Printf("%s is valid (%d services).\n", path, len(settings.Services))
	return nil
}

func location(cfg domain.ServiceConfig) string {
	switch {
	case cfg.Path != "":
		return cfg.Path
	case cfg.RemoteAET != "":
		return fmt.Sprintf("%s:%d -> %s", cfg.Host, cfg.Port, cfg.RemoteAET)
	case cfg.Port != 0:
		return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	default:
		return orDefault(cfg.Host, "(default)")
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// maskSecret hides all but the ends of long secrets.
func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:2] + "..." + secret[len(secret)-2:]
}
