package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
)

// Optional store capabilities the commands check for.
type (
	statistician interface {
		Statistics(ctx context.Context) (map[string]any, error)
	}
	indexLister interface {
		Indices(ctx context.Context) (any, error)
	}
	purger interface {
		DeleteInventory(ctx context.Context) (*domain.Report, error)
	}
	watcher interface {
		Watch(ctx context.Context) (<-chan string, error)
	}
)

var inventoryJSON bool

var inventoryCmd = &cobra.Command{
	Use:   "inventory <store>",
	Short: "List every dixel a store holds",
	Args:  cobra.ExactArgs(1),
	RunE:  runInventory,
}

var statsCmd = &cobra.Command{
	Use:   "stats <store>",
	Short: "Show store statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var purgeCmd = &cobra.Command{
	Use:   "purge <store>",
	Short: "Delete every instance from an archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runPurge,
}

var watchCmd = &cobra.Command{
	Use:   "watch <store>",
	Short: "Print files as they change in a file store",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	inventoryCmd.Flags().BoolVar(&inventoryJSON, "json", false, "print the inventory as JSON")
	rootCmd.AddCommand(inventoryCmd, statsCmd, purgeCmd, watchCmd)
}

func runInventory(cmd *cobra.Command, args []string) error {
	store, err := openStore(args[0])
	if err != nil {
		return err
	}
	dixels, err := inventoryService.ViewInventory(cmd.Context(), store)
	if err != nil {
		return err
	}

	if inventoryJSON {
		data, err := json.MarshalIndent(dixels, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}
	for _, d := range dixels {
		cmd.Printf("%s\t%s\n", d.ID, d.Level)
	}
	cmd.Printf("%d dixels\n", len(dixels))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	store, err := openStore(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	switch s := store.(type) {
	case statistician:
		stats, err := s.Statistics(ctx)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cmd.Printf("%s: %v\n", k, stats[k])
		}
	case indexLister:
		indices, err := s.Indices(ctx)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(indices, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
	default:
		inv, err := store.Inventory(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("%s: %d dixels\n", store.Kind(), inv.Len())
	}
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	store, err := openStore(args[0])
	if err != nil {
		return err
	}
	p, ok := store.(purger)
	if !ok {
		return fmt.Errorf("%w: %s stores cannot be purged", domain.ErrUnsupportedOperation, store.Kind())
	}
	report, err := p.DeleteInventory(cmd.Context())
	if err != nil {
		return err
	}
	return printReport(cmd, report)
}

func runWatch(cmd *cobra.Command, args []string) error {
	store, err := openStore(args[0])
	if err != nil {
		return err
	}
	w, ok := store.(watcher)
	if !ok {
		return fmt.Errorf("%w: %s stores cannot be watched", domain.ErrUnsupportedOperation, store.Kind())
	}

	ctx := cmd.Context()
	changes, err := w.Watch(ctx)
	if err != nil {
		return err
	}
	logf().Info("Watching %s", args[0])
	for path := range changes {
		cmd.Println(path)
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
