package cli

import (
	"context"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/dixelkit/internal/adapters/driven/csvfile"
	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driving"
	"github.com/custodia-labs/dixelkit/internal/core/services"
)

// worklistMaker is a search index that can seed a worklist.
type worklistMaker interface {
	MakeWorklist(ctx context.Context, params url.Values) (domain.Set, error)
}

var (
	wlSource   string
	wlDest     string
	wlOut      string
	wlDelta    string
	wlIndex    string
	wlDesc     string
	wlRetrieve bool
	wlParams   []string
	wlQuery    map[string]string
)

var worklistCmd = &cobra.Command{
	Use:   "worklist",
	Short: "Reconcile CSV worklists against stores",
	Long: `Worklist commands enrich CSV rows with accession numbers, report text
and archive ids found in search indices, log indices and PACS proxies, then
copy the rows that resolved to an archive id.`,
}

var worklistUpdateCmd = &cobra.Command{
	Use:   "update <csv>",
	Short: "Enrich worklist rows from a store",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorklistUpdate,
}

var worklistCopyCmd = &cobra.Command{
	Use:   "copy <csv>",
	Short: "Copy every worklist row with an OID",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorklistCopy,
}

var worklistFindCmd = &cobra.Command{
	Use:   "find <out-csv>",
	Short: "Write a worklist of studies matching a report search",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorklistFind,
}

func init() {
	uf := worklistUpdateCmd.Flags()
	uf.StringVar(&wlSource, "source", "", "store to query")
	uf.StringVar(&wlOut, "out", "", "output CSV (default: overwrite the input)")
	uf.StringVar(&wlDelta, "delta", services.DefaultDelta, "search window half-width around ReferenceTime, e.g. -1d")
	uf.StringVar(&wlIndex, "index", "", "search or log index name")
	uf.StringVar(&wlDesc, "desc", "", "series description glob for log index searches")
	uf.BoolVar(&wlRetrieve, "retrieve", false, "pull proxy matches into the local archive")
	uf.StringArrayVar(&wlParams, "param", nil, "extra search parameter key=value (repeatable)")
	uf.StringToStringVar(&wlQuery, "query", nil, "proxy query overrides, e.g. ModalitiesInStudy=CT")
	_ = worklistUpdateCmd.MarkFlagRequired("source")

	cf := worklistCopyCmd.Flags()
	cf.StringVar(&wlSource, "source", "", "store to copy from")
	cf.StringVar(&wlDest, "dest", "", "store to copy to")
	_ = worklistCopyCmd.MarkFlagRequired("source")
	_ = worklistCopyCmd.MarkFlagRequired("dest")

	ff := worklistFindCmd.Flags()
	ff.StringVar(&wlSource, "source", "", "search index to query")
	ff.StringArrayVar(&wlParams, "param", nil, "search parameter key=value (repeatable)")
	_ = worklistFindCmd.MarkFlagRequired("source")

	worklistCmd.AddCommand(worklistUpdateCmd, worklistCopyCmd, worklistFindCmd)
	rootCmd.AddCommand(worklistCmd)
}

func runWorklistUpdate(cmd *cobra.Command, args []string) error {
	params, err := parseParams(wlParams)
	if err != nil {
		return err
	}
	source, err := openStore(wlSource)
	if err != nil {
		return err
	}
	wl, err := csvfile.Load(args[0])
	if err != nil {
		return err
	}

	report, err := worklistService.Update(cmd.Context(), wl, source, driving.WorklistOptions{
		Delta:       wlDelta,
		Index:       wlIndex,
		Description: wlDesc,
		Params:      params,
		Retrieve:    wlRetrieve,
		Query:       wlQuery,
	})
	if err != nil {
		return err
	}

	out := wlOut
	if out == "" {
		out = args[0]
	}
	if err := csvfile.Save(out, wl); err != nil {
		return err
	}
	return printReport(cmd, report)
}

func runWorklistCopy(cmd *cobra.Command, args []string) error {
	src, err := openStore(wlSource)
	if err != nil {
		return err
	}
	dest, err := openStore(wlDest)
	if err != nil {
		return err
	}
	wl, err := csvfile.Load(args[0])
	if err != nil {
		return err
	}

	report, err := worklistService.Copy(cmd.Context(), wl, src, dest)
	if err != nil {
		return err
	}
	return printReport(cmd, report)
}

func runWorklistFind(cmd *cobra.Command, args []string) error {
	params, err := parseParams(wlParams)
	if err != nil {
		return err
	}
	source, err := openStore(wlSource)
	if err != nil {
		return err
	}
	maker, ok := source.(worklistMaker)
	if !ok {
		return fmt.Errorf("%w: %s stores cannot search reports", domain.ErrUnsupportedOperation, source.Kind())
	}

	set, err := maker.MakeWorklist(cmd.Context(), params)
	if err != nil {
		return err
	}
	for _, d := range set {
		for k, v := range d.Tags {
			d.SetMeta(k, v)
		}
	}
	if err := csvfile.SaveDixels(args[0], set); err != nil {
		return err
	}
	cmd.Printf("Wrote %d studies to %s\n", set.Len(), args[0])
	return nil
}
