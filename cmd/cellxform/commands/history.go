package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cellxform/cellxform/pkg/engine"
	"github.com/cellxform/cellxform/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		status string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs",
		Long: `List recorded transformation runs, newest first.

With a run ID the run and its events are shown instead.`,
		Example: `  # Last 20 runs
  cellxform history

  # Failed runs only
  cellxform history --status failed

  # One run with its events
  cellxform history 0b7c9d2e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			store, err := a.openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				evs, err := store.GetEvents(ctx, run.ID, nil, -1, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeOutput(a.out, "json", map[string]interface{}{"run": run, "events": evs})
				}
				return printRun(a.out, run, evs)
			}

			var filter *engine.RunStatus
			if status != "" {
				st := engine.RunStatus(status)
				if err := st.Validate(); err != nil {
					return err
				}
				filter = &st
			}

			runs, err := store.ListRuns(ctx, filter, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeOutput(a.out, "json", runs)
			}
			return printRuns(a.out, runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (running, succeeded, failed, denied)")
	cmd.Flags().StringVar(&dbPath, "db", "", "run history database (overrides settings)")

	return cmd
}

func printRuns(w io.Writer, runs []*stores.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODEL\tPROTOCOL\tSTATUS\tSTARTED\tDURATION")
	for _, run := range runs {
		duration := "-"
		if run.CompletedAt != nil {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.Model, run.ProtocolPath, run.Status,
			run.StartedAt.Local().Format(time.DateTime), duration)
	}
	return tw.Flush()
}

func printRun(w io.Writer, run *stores.Run, evs []*stores.RunEvent) error {
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Model:    %s (%s)\n", run.Model, run.ModelPath)
	fmt.Fprintf(w, "Protocol: %s\n", run.ProtocolPath)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	if run.Stage != nil {
		fmt.Fprintf(w, "Stage:    %s\n", *run.Stage)
	}
	if run.Error != nil {
		fmt.Fprintf(w, "Error:    %s\n", *run.Error)
	}

	if len(evs) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tNAME\tMESSAGE")
	for _, ev := range evs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			ev.Timestamp.Local().Format("15:04:05.000"), ev.Type, ev.Name, ev.Message)
	}
	return tw.Flush()
}
