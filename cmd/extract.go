package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/pipeline"
)

var (
	extractUser        string
	extractHousehold   string
	extractBypassCache bool
	extractTitle       string
	extractDescription string
)

var extractCmd = &cobra.Command{
	Use:   "extract <url>",
	Short: "Extract a Cook Card from one recipe link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "extract", false)
		if err != nil {
			return err
		}
		defer env.Close()

		req := pipeline.Request{
			RequestID:   uuid.NewString(),
			URL:         args[0],
			UserID:      extractUser,
			HouseholdID: extractHousehold,
			BypassCache: extractBypassCache,
			Title:       extractTitle,
			Description: extractDescription,
		}

		resp, err := env.Pipeline.Extract(ctx, req)
		var quotaErr *budget.QuotaError
		if err != nil && !errors.As(err, &quotaErr) {
			return err
		}
		if quotaErr != nil {
			zap.L().Warn("monthly quota reached, returning link-only card",
				zap.String("user_id", req.UserID),
				zap.Int64("used", quotaErr.Used),
				zap.Int64("limit", quotaErr.Limit),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		return nil
	},
}

func init() {
	f := extractCmd.Flags()
	f.StringVar(&extractUser, "user", "cli", "user id charged for the extraction")
	f.StringVar(&extractHousehold, "household", "", "household id for the shared hourly limit")
	f.BoolVar(&extractBypassCache, "bypass-cache", false, "skip the cache read (the result is still cached)")
	f.StringVar(&extractTitle, "title", "", "title hint from the share payload")
	f.StringVar(&extractDescription, "description", "", "description hint from the share payload")
	rootCmd.AddCommand(extractCmd)
}
