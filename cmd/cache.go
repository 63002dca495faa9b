package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-ingest/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the extraction cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired persistent cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mt := cache.New(st, time.Duration(cfg.Ingest.L1TTLSecs)*time.Second, time.Duration(cfg.Ingest.L2TTLHours)*time.Hour)
		n, err := mt.Prune(ctx)
		if err != nil {
			return eris.Wrap(err, "cache prune")
		}
		fmt.Fprintf(os.Stdout, "removed %d expired entries\n", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
