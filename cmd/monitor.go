package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-ingest/internal/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check ingestion health against alert thresholds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "maintenance")
		if err != nil {
			return err
		}
		defer env.Close()

		send, _ := cmd.Flags().GetBool("send")
		asJSON, _ := cmd.Flags().GetBool("json")

		report, err := env.Monitor.Check(ctx, send)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, report)
		}
		formatReport(os.Stdout, report)
		return nil
	},
}

func init() {
	monitorCmd.Flags().Bool("send", false, "deliver alerts to the configured webhook")
	monitorCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(monitorCmd)
}

func formatReport(out io.Writer, r *monitoring.Report) {
	s := r.Snapshot
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Window:\tlast %dh\n", s.LookbackHours)
	fmt.Fprintf(w, "Runs:\t%d (%d complete, %d failed, %d in flight)\n", s.RunsTotal, s.RunsComplete, s.RunsFailed, s.RunsInFlight)
	fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.RunFailRate*100)
	fmt.Fprintf(w, "Cost:\t$%.4f\n", s.CostUSD)
	fmt.Fprintf(w, "Items queued:\t%d\n", s.ItemsQueued)
	fmt.Fprintf(w, "Review backlog:\t%d across %d tenant(s)\n", s.ReviewBacklog, len(s.Tenants))
	if s.OldestPendingAt != nil {
		fmt.Fprintf(w, "Oldest pending:\t%s\n", s.OldestPendingAt.Format(time.RFC3339))
	}
	w.Flush() //nolint:errcheck

	if len(r.Alerts) == 0 {
		fmt.Fprintln(out, "\nNo alerts.")
		return
	}
	fmt.Fprintf(out, "\nAlerts (%d, %d sent):\n", len(r.Alerts), r.Sent)
	for _, a := range r.Alerts {
		fmt.Fprintf(out, "  [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}
