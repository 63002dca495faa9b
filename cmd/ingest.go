package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]...",
	Short: "Ingest documents into a tenant's review queue",
	Args: func(cmd *cobra.Command, args []string) error {
		urls, _ := cmd.Flags().GetStringArray("url")
		if len(args) == 0 && len(urls) == 0 {
			return eris.New("ingest: at least one file or --url is required")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		tenant, _ := cmd.Flags().GetString("tenant")
		asJSON, _ := cmd.Flags().GetBool("json")
		urls, _ := cmd.Flags().GetStringArray("url")

		files, err := readIngestFiles(args)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		if len(urls) > 0 {
			fetched, err := env.Fetcher.FetchAll(ctx, urls)
			if err != nil {
				return eris.Wrap(err, "ingest: fetch")
			}
			files = append(files, fetched...)
		}

		res, err := env.Pipeline.Ingest(ctx, tenant, files)
		if res != nil {
			if asJSON {
				if encErr := printJSON(os.Stdout, res); encErr != nil {
					return eris.Wrap(encErr, "ingest: encode result")
				}
			} else {
				formatIngestResult(os.Stdout, res)
			}
		}
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		zap.L().Info("ingest finished",
			zap.String("tenant_id", tenant),
			zap.Int("files", len(files)),
			zap.Int("queued", res.QueuedCount),
		)
		return nil
	},
}

func readIngestFiles(paths []string) ([]model.IngestFile, error) {
	files := make([]model.IngestFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read %s", p)
		}
		files = append(files, model.IngestFile{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}

// formatIngestResult writes a human-readable ingestion summary to w.
func formatIngestResult(out io.Writer, res *model.IngestResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Tenant:\t%s\n", res.TenantID)
	_, _ = fmt.Fprintf(w, "Runs:\t%d\n", len(res.RunIDs))
	_, _ = fmt.Fprintf(w, "Queued:\t%d\n", res.QueuedCount)
	_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", res.SkippedCount)
	_, _ = fmt.Fprintf(w, "Chunks:\t%d (%d failed, %d not processed)\n", res.ChunksTotal, res.ChunksPartial, res.ChunksSkipped)
	_, _ = fmt.Fprintf(w, "Duplicates removed:\t%d\n", res.DuplicatesRemoved)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", res.CostUSD)

	tiers := make([]string, 0, len(res.TierBreakdown))
	for tier := range res.TierBreakdown {
		tiers = append(tiers, string(tier))
	}
	slices.Sort(tiers)
	for _, tier := range tiers {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", tier, res.TierBreakdown[model.ReviewTier(tier)])
	}
	_ = w.Flush()

	for _, warn := range res.Warnings {
		_, _ = fmt.Fprintf(out, "warning: %s\n", warn)
	}
}

func init() {
	ingestCmd.Flags().String("tenant", "", "tenant id (required)")
	ingestCmd.Flags().Bool("json", false, "print the result as JSON")
	ingestCmd.Flags().StringArray("url", nil, "download and ingest a document by URL (repeatable)")
	_ = ingestCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(ingestCmd)
}
