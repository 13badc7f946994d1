package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/dixelkit/internal/adapters/driven/csvfile"
)

var (
	copyLazy        bool
	copyWorklist    string
	copySecondaryID string

	updateWorklist    string
	updateOut         string
	updateSecondaryID string
)

var copyCmd = &cobra.Command{
	Use:   "copy <src> <dest>",
	Short: "Copy dixels from one store to another",
	Long: `Copies the source store's inventory, or the dixels listed in a worklist
CSV, into the destination store. With --lazy, dixels already present in the
destination are skipped.`,
	Args: cobra.ExactArgs(2),
	RunE: runCopy,
}

var updateCmd = &cobra.Command{
	Use:   "update <store>",
	Short: "Refresh worklist dixels from a store",
	Long: `Loads a worklist CSV as study-level dixels, refreshes each one through
the store and writes the dixels the store had data for.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

func init() {
	copyCmd.Flags().BoolVar(&copyLazy, "lazy", false, "skip dixels already in the destination")
	copyCmd.Flags().StringVar(&copyWorklist, "worklist", "", "copy only the dixels listed in this CSV")
	copyCmd.Flags().StringVar(&copySecondaryID, "secondary-id", "", "column joined with PatientID when a row has no OID or AccessionNumber")

	updateCmd.Flags().StringVar(&updateWorklist, "worklist", "", "worklist CSV to refresh")
	updateCmd.Flags().StringVar(&updateOut, "out", "", "output CSV")
	updateCmd.Flags().StringVar(&updateSecondaryID, "secondary-id", "", "column joined with PatientID when a row has no OID or AccessionNumber")
	_ = updateCmd.MarkFlagRequired("worklist")
	_ = updateCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(copyCmd, updateCmd)
}

func runCopy(cmd *cobra.Command, args []string) error {
	src, err := openStore(args[0])
	if err != nil {
		return err
	}
	dest, err := openStore(args[1])
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if copyWorklist == "" {
		report, err := inventoryService.CopyInventory(ctx, src, dest, copyLazy)
		if err != nil {
			return err
		}
		return printReport(cmd, report)
	}

	dixels, err := csvfile.LoadDixels(copyWorklist, copySecondaryID)
	if err != nil {
		return err
	}
	report, err := inventoryService.CopyWorklist(ctx, src, dest, dixels, copyLazy)
	if err != nil {
		return err
	}
	return printReport(cmd, report)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	store, err := openStore(args[0])
	if err != nil {
		return err
	}
	dixels, err := csvfile.LoadDixels(updateWorklist, updateSecondaryID)
	if err != nil {
		return err
	}

	updated, report := inventoryService.UpdateWorklist(cmd.Context(), store, dixels)
	for _, d := range updated {
		for k, v := range d.Tags {
			if _, ok := d.Meta[k]; !ok {
				d.SetMeta(k, v)
			}
		}
	}
	if err := csvfile.SaveDixels(updateOut, updated); err != nil {
		return err
	}
	return printReport(cmd, report)
}
