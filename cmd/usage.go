package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/model"
)

var usageCmd = &cobra.Command{
	Use:   "usage <user_id>",
	Short: "Show a user's quota, rate and vision minute usage",
	Args:  cobra.ExactArgs(1),
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

		tier, err := st.GetUserTier(ctx, args[0])
		if err != nil {
			return err
		}
		usage, err := budget.NewController(counters, buildLimits(cfg.Budget)).Usage(ctx, args[0], tier)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(usage)
	},
}

var tierCmd = &cobra.Command{
	Use:   "tier <user_id> <free|plus|premium>",
	Short: "Set a user's subscription tier",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tier, err := parseTier(args[1])
		if err != nil {
			return err
		}
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx, false)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.SetUserTier(ctx, args[0], tier); err != nil {
			return err
		}
		zap.L().Info("tier updated", zap.String("user_id", args[0]), zap.String("tier", string(tier)))
		return nil
	},
}

func parseTier(s string) (model.Tier, error) {
	switch t := model.Tier(s); t {
	case model.TierFree, model.TierPlus, model.TierPremium:
		return t, nil
	}
	return "", eris.Errorf("unknown tier %q (want free, plus or premium)", s)
}

func init() {
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(tierCmd)
}
