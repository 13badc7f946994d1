// Package cli implements the dixel command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	configfile "github.com/custodia-labs/dixelkit/internal/adapters/driven/config/file"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage"
	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driving"
	"github.com/custodia-labs/dixelkit/internal/core/services"
	"github.com/custodia-labs/dixelkit/internal/datewindow"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// Global flags.
var (
	configPath  string
	logFile     string
	verbose     bool
	cachePolicy string
)

// StoreOpener resolves a configured service name to a store.
type StoreOpener func(name string) (driven.Store, error)

// Services the commands run against. Set by initApp, or by tests.
var (
	appLog           *logger.Logger
	openStore        StoreOpener
	inventoryService driving.InventoryService
	worklistService  driving.WorklistService
	closers          []io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "dixel",
	Short: "Inventory and synchronise medical imaging stores",
	Long: `dixel inventories DICOM studies across file directories, Orthanc
archives, PACS proxies, Montage report indices and SQLite log indices, copies
them between stores and reconciles CSV worklists against them.`,
	SilenceUsage:       true,
	PersistentPreRunE:  initApp,
	PersistentPostRunE: closeApp,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (.toml, or .yml secrets); default ~/.dixelkit/config.toml")
	flags.BoolVarP(&verbose, "verbose", "v", false, "print debug output")
	flags.StringVar(&logFile, "log-file", "", "also write log lines to a rotating file")
	flags.StringVar(&cachePolicy, "cache", "", "override every store's cache policy: none, use or clear")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// initApp loads settings and wires the services, unless already wired.
func initApp(cmd *cobra.Command, _ []string) error {
	if openStore != nil {
		return nil
	}

	store, err := configfile.NewSettingsStore(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	settings, err := store.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if verbose {
		settings.Verbose = true
	}
	if logFile != "" {
		settings.LogFile = logFile
	}
	if _, err := domain.ParseCachePolicy(cachePolicy, domain.CacheNone); err != nil {
		return err
	}
	timeout, err := settings.RequestTimeout()
	if err != nil {
		return err
	}

	appLog = logger.New(logger.Options{
		Verbose: settings.Verbose,
		Output:  cmd.ErrOrStderr(),
		LogFile: settings.LogFile,
	})
	closers = append(closers, appLog)

	factory := storage.NewFactory(storage.Env{
		Log:         appLog,
		CacheDir:    settings.CacheDir,
		Timeout:     timeout,
		CachePolicy: cachePolicy,
	})
	openStore = func(name string) (driven.Store, error) {
		cfg, err := settings.Service(name)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w (configured: %s)", name, err,
				strings.Join(settings.ServiceNames(), ", "))
		}
		s, err := factory.Create(cfg)
		if err != nil {
			return nil, err
		}
		if c, ok := s.(io.Closer); ok {
			closers = append(closers, c)
		}
		return s, nil
	}
	inventoryService = services.NewInventoryService(appLog)
	worklistService = services.NewWorklistService(datewindow.NewParser(nil), appLog)
	return nil
}

// closeApp releases stores and the log file opened by initApp.
func closeApp(_ *cobra.Command, _ []string) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i].Close())
	}
	closers = nil
	return errors.Join(errs...)
}

func logf() *logger.Logger {
	if appLog == nil {
		return logger.Discard()
	}
	return appLog
}

// printReport writes the final tally and returns the report's error, if any.
func printReport(cmd *cobra.Command, r *domain.Report) error {
	if r == nil {
		return nil
	}
	cmd.Println(r.Summary())
	for _, e := range r.Errors {
		cmd.PrintErrf("  %s\n", e.Error())
	}
	if r.Failed > 0 {
		return fmt.Errorf("%s: %d of %d failed", r.Op, r.Failed, r.Total)
	}
	return nil
}

// parseParams turns repeated key=value flags into query values.
func parseParams(pairs []string) (url.Values, error) {
	params := url.Values{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: parameter %q is not key=value", domain.ErrInvalidInput, p)
		}
		params.Add(k, v)
	}
	return params, nil
}
