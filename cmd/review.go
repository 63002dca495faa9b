package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the review queue",
	Long:  "Commands for listing, approving, rejecting and editing review queue entries.",
}

// -- review list --

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review queue entries for a tenant",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "review")
		if err != nil {
			return err
		}
		defer env.Close()

		tenant, _ := cmd.Flags().GetString("tenant")
		tier, _ := cmd.Flags().GetString("tier")
		status, _ := cmd.Flags().GetString("status")
		expired, _ := cmd.Flags().GetBool("include-expired")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		entries, err := env.Queue.List(ctx, tenant, review.Filter{
			Tier:           model.ReviewTier(tier),
			Status:         model.ReviewStatus(status),
			IncludeExpired: expired,
			Offset:         offset,
		}, limit)
		if err != nil {
			return eris.Wrap(err, "review list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No entries found.")
			return nil
		}

		formatEntries(os.Stdout, entries)
		return nil
	},
}

// -- review show --

var reviewShowCmd = &cobra.Command{
	Use:   "show <entry-id>",
	Short: "Show one entry with its item and edit history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "review")
		if err != nil {
			return err
		}
		defer env.Close()

		e, err := env.Queue.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "review show")
		}
		return printJSON(os.Stdout, e)
	},
}

// -- review start --

var reviewStartCmd = &cobra.Command{
	Use:   "start <entry-id>",
	Short: "Claim a pending entry for review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "review")
		if err != nil {
			return err
		}
		defer env.Close()

		e, err := env.Queue.StartReview(ctx, args[0], reviewerFlag(cmd))
		if err != nil {
			return eris.Wrap(err, "review start")
		}
		fmt.Fprintf(os.Stdout, "%s %s\n", e.ID, e.Status)
		return nil
	},
}

// -- review approve --

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <entry-id>",
	Short: "Approve an entry as extracted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "review")
		if err != nil {
			return err
		}
		defer env.Close()

		notes, _ := cmd.Flags().GetString("notes")
		e, err := env.Queue.Approve(ctx, args[0], reviewerFlag(cmd), notes)
		if err != nil {
			return eris.Wrap(err, "review approve")
		}
		fmt.Fprintf(os.Stdout, "%s %s\n", e.ID, e.Status)
		return nil
	},
}

// -- review reject --

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <entry-id>",
	Short: "Reject an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "review")
		if err != nil {
			return err
		}
		defer env.Close()

		notes, _ := cmd.Flags().GetString("notes")
		e, err := env.Queue.Reject(ctx, args[0], reviewerFlag(cmd), notes)
		if err != nil {
			return eris.Wrap(err, "review reject")
		}
		fmt.Fprintf(os.Stdout, "%s %s\n", e.ID, e.Status)
		return nil
	},
}

// -- review edit --

var reviewEditCmd = &cobra.Command{
	Use:   "edit <entry-id>",
	Short: "Correct fields and approve an entry",
	Long:  "Applies --set field=value pairs (name, description, type, category, vendor, budget, owner, status, priority), rescores the item and approves it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pairs, _ := cmd.Flags().GetStringArray("set")
		if len(pairs) == 0 {
			return eris.New("review edit: at least one --set field=value is required")
		}
		edit, err := review.ParseEdit(pairs)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "review")
		if err != nil {
			return err
		}
		defer env.Close()

		notes, _ := cmd.Flags().GetString("notes")
		e, err := env.Queue.EditAndApprove(ctx, args[0], reviewerFlag(cmd), edit, notes)
		if err != nil {
			return eris.Wrap(err, "review edit")
		}
		fmt.Fprintf(os.Stdout, "%s %s confidence=%.2f tier=%s\n", e.ID, e.Status, e.Confidence, e.Tier)
		return nil
	},
}

// -- review bulk-approve --

var reviewBulkApproveCmd = &cobra.Command{
	Use:   "bulk-approve <entry-id>...",
	Short: "Approve several entries, skipping any already decided",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "review")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Queue.BulkApprove(ctx, args, reviewerFlag(cmd))
		fmt.Fprintf(os.Stdout, "approved %d of %d\n", n, len(args))
		if err != nil {
			return eris.Wrap(err, "review bulk-approve")
		}
		return nil
	},
}

// -- review summary --

var reviewSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize a tenant's open entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "review")
		if err != nil {
			return err
		}
		defer env.Close()

		tenant, _ := cmd.Flags().GetString("tenant")
		s, err := env.Queue.Summary(ctx, tenant)
		if err != nil {
			return eris.Wrap(err, "review summary")
		}
		formatSummary(os.Stdout, s)
		return nil
	},
}

// -- review stats --

var reviewStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show a tenant's review counters for one day",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "review")
		if err != nil {
			return err
		}
		defer env.Close()

		tenant, _ := cmd.Flags().GetString("tenant")
		day, _ := cmd.Flags().GetString("day")
		st, err := env.Queue.DailyStats(ctx, tenant, day)
		if err != nil {
			return eris.Wrap(err, "review stats")
		}
		return printJSON(os.Stdout, st)
	},
}

func reviewerFlag(cmd *cobra.Command) string {
	r, _ := cmd.Flags().GetString("reviewer")
	if r == "" {
		r = os.Getenv("USER")
	}
	return r
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	for _, c := range []*cobra.Command{reviewListCmd, reviewSummaryCmd, reviewStatsCmd} {
		c.Flags().String("tenant", "", "tenant id (required)")
		_ = c.MarkFlagRequired("tenant")
	}
	reviewListCmd.Flags().String("tier", "", "filter by tier (auto_accept, quick_review, manual_review, full_edit)")
	reviewListCmd.Flags().String("status", "", "filter by status (pending, in_review, approved, rejected, edited)")
	reviewListCmd.Flags().Bool("include-expired", false, "include pending entries past their expiry")
	reviewListCmd.Flags().Int("limit", 0, "max entries (default from config)")
	reviewListCmd.Flags().Int("offset", 0, "entries to skip")

	reviewStatsCmd.Flags().String("day", "", "UTC day as YYYY-MM-DD (default today)")

	for _, c := range []*cobra.Command{reviewStartCmd, reviewApproveCmd, reviewRejectCmd, reviewEditCmd, reviewBulkApproveCmd} {
		c.Flags().String("reviewer", "", "reviewer name (default $USER)")
	}
	for _, c := range []*cobra.Command{reviewApproveCmd, reviewRejectCmd, reviewEditCmd} {
		c.Flags().String("notes", "", "review notes")
	}
	reviewEditCmd.Flags().StringArray("set", nil, "field=value to change (repeatable)")

	reviewCmd.AddCommand(reviewListCmd, reviewShowCmd, reviewStartCmd, reviewApproveCmd,
		reviewRejectCmd, reviewEditCmd, reviewBulkApproveCmd, reviewSummaryCmd, reviewStatsCmd)
	rootCmd.AddCommand(reviewCmd)
}

// formatEntries writes a tabular list of review entries to w.
func formatEntries(out io.Writer, entries []model.ReviewQueueEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tTIER\tPRIORITY\tCONFIDENCE\tSTATUS\tCREATED")
	for _, e := range entries {
		category := e.Item.Category
		if category == "" {
			category = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.2f\t%s\t%s\n",
			truncateID(e.ID),
			truncate(e.Item.Name, 40),
			category,
			e.Tier,
			e.Priority,
			e.Confidence,
			e.Status,
			e.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatSummary writes a queue summary to w.
func formatSummary(out io.Writer, s *model.QueueSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Tenant:\t%s\n", s.TenantID)
	_, _ = fmt.Fprintf(w, "Open entries:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Avg confidence:\t%.2f\n", s.AvgConfidence)
	if s.OldestPendingAt != nil {
		_, _ = fmt.Fprintf(w, "Oldest pending:\t%s\n", s.OldestPendingAt.Format("2006-01-02 15:04"))
	}
	for _, tier := range []model.ReviewTier{model.TierAutoAccept, model.TierQuickReview, model.TierManualReview, model.TierFullEdit} {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", tier, s.CountsByTier[tier])
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
