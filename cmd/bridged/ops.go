package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one watchdog pass: release stale claims and redrive pending requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.cleanup()

		report, err := a.engine.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var (
	listAll      bool
	listLimit    int
	resolveApply bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Inspect and resolve dispatches the store did not record",
}

var reconcileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reconcile entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.cleanup()

		entries, err := a.engine.Reconciler().Store().ListReconcile(cmd.Context(), reconcile.ListOpts{
			Limit:    listLimit,
			OpenOnly: !listAll,
		})
		if err != nil {
			return err
		}
		return printEntries(cmd.OutOrStdout(), entries)
	},
}

var reconcileResolveCmd = &cobra.Command{
	Use:   "resolve ENTRY_ID",
	Short: "Close a reconcile entry, optionally writing the processing status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entryID, err := id.ParseReconcileID(args[0])
		if err != nil {
			return fmt.Errorf("invalid entry id: %w", err)
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.cleanup()

		entry, err := a.engine.Reconciler().Resolve(cmd.Context(), entryID, resolveApply)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), entry)
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	reconcileListCmd.Flags().BoolVar(&listAll, "all", false, "include resolved entries")
	reconcileListCmd.Flags().IntVar(&listLimit, "limit", 100, "maximum entries to list")
	reconcileResolveCmd.Flags().BoolVar(&resolveApply, "apply", false, "mark the request processing with the recorded run id")
	reconcileCmd.AddCommand(reconcileListCmd, reconcileResolveCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEntries(w io.Writer, entries []*reconcile.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREQUEST\tRUN\tATTEMPTS\tCREATED\tRESOLUTION")
	for _, e := range entries {
		resolution := "-"
		if !e.Open() {
			resolution = e.Resolution
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.RequestID, e.RunID, e.Attempts, e.CreatedAt.Format("2006-01-02 15:04:05"), resolution)
	}
	return tw.Flush()
}
