package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired cache entries and budget counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx, false)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := st.DeleteExpired(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		zap.L().Info("prune complete",
			zap.Int64("cache_rows", res.CacheRows),
			zap.Int64("counter_rows", res.CounterRows),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
