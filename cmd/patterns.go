package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-ingest/internal/model"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect learned correction patterns",
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's learned patterns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "review")
		if err != nil {
			return err
		}
		defer env.Close()

		tenant, _ := cmd.Flags().GetString("tenant")
		all, _ := cmd.Flags().GetBool("all")
		asJSON, _ := cmd.Flags().GetBool("json")

		patterns, err := env.Learning.ListPatterns(ctx, tenant, all)
		if err != nil {
			return eris.Wrap(err, "patterns list")
		}
		if asJSON {
			return printJSON(os.Stdout, patterns)
		}
		if len(patterns) == 0 {
			fmt.Fprintln(os.Stderr, "No patterns found.")
			return nil
		}
		formatPatterns(os.Stdout, patterns)
		return nil
	},
}

func init() {
	patternsListCmd.Flags().String("tenant", "", "tenant id (required)")
	patternsListCmd.Flags().Bool("all", false, "include patterns below the confidence floor")
	patternsListCmd.Flags().Bool("json", false, "print patterns as JSON")
	_ = patternsListCmd.MarkFlagRequired("tenant")

	patternsCmd.AddCommand(patternsListCmd)
	rootCmd.AddCommand(patternsCmd)
}

// formatPatterns writes a tabular list of patterns to w.
func formatPatterns(out io.Writer, patterns []model.LearnedPattern) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFIELD\tADJUSTMENT\tCONFIDENCE\tSUPPORT\tCONTEXT")
	for _, p := range patterns {
		adj := string(p.Adjustment.Kind)
		switch {
		case p.Adjustment.Value != "":
			adj = fmt.Sprintf("%s=%s", p.Adjustment.Field, p.Adjustment.Value)
		case p.Adjustment.ConfidenceDelta != 0:
			adj = fmt.Sprintf("%s %+.2f", p.Adjustment.Kind, p.Adjustment.ConfidenceDelta)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%s\n",
			truncateID(p.ID),
			p.Field,
			adj,
			p.Confidence,
			p.SupportCount,
			p.Signature,
		)
	}
	_ = w.Flush()
}
