package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/monitoring"
)

var (
	statsHours int
	statsAlert bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent extraction telemetry",
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

		counters, closeCounters, err := initCounters(ctx, st)
		if err != nil {
			return err
		}
		defer closeCounters()

		snap, err := monitoring.NewCollector(st, counters).Collect(ctx, statsHours)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return err
		}

		if statsAlert {
			alerter := monitoring.NewAlerter(cfg.Monitoring)
			alerts := alerter.Evaluate(snap)
			sent := alerter.SendAlerts(ctx, alerts)
			zap.L().Info("alerts evaluated", zap.Int("fired", len(alerts)), zap.Int("sent", sent))
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsHours, "hours", 24, "lookback window in hours")
	statsCmd.Flags().BoolVar(&statsAlert, "alert", false, "evaluate thresholds and send webhook alerts")
	rootCmd.AddCommand(statsCmd)
}
