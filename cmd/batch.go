package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/internal/pipeline"
)

var (
	batchFile        string
	batchUser        string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Extract Cook Cards for a file of recipe links",
	Long:  "Reads one link per line, optionally followed by a user id and a household id (comma separated). Lines starting with # are ignored.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f, err := os.Open(batchFile)
		if err != nil {
			return eris.Wrapf(err, "open batch file %s", batchFile)
		}
		reqs, err := parseBatchFile(f, batchUser)
		_ = f.Close()
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			zap.L().Info("batch file has no links")
			return nil
		}

		env, err := initPipeline(ctx, "extract", true)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}

		start := time.Now()
		results, err := env.Pipeline.RunBatch(ctx, reqs, concurrency)
		if err != nil {
			return eris.Wrap(err, "batch cancelled")
		}

		sum := summarizeBatch(results)
		zap.L().Info("batch complete",
			zap.Int("total", len(results)),
			zap.Stringer("summary", sum),
			zap.Duration("elapsed", time.Since(start)),
		)
		fmt.Println(sum)
		return nil
	},
}

func init() {
	f := batchCmd.Flags()
	f.StringVar(&batchFile, "file", "", "file of links to extract")
	f.StringVar(&batchUser, "user", "batch", "user id for lines that do not name one")
	f.IntVar(&batchConcurrency, "concurrency", 0, "parallel extractions (default from config)")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}

// parseBatchFile reads url[,user_id[,household_id]] lines.
func parseBatchFile(r io.Reader, defaultUser string) ([]pipeline.Request, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var reqs []pipeline.Request
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read batch file")
		}
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		req := pipeline.Request{
			RequestID: uuid.NewString(),
			URL:       strings.TrimSpace(rec[0]),
			UserID:    defaultUser,
		}
		if len(rec) > 1 && strings.TrimSpace(rec[1]) != "" {
			req.UserID = strings.TrimSpace(rec[1])
		}
		if len(rec) > 2 {
			req.HouseholdID = strings.TrimSpace(rec[2])
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

type batchSummary struct {
	Success  int
	Degraded int
	Cached   int
	Quota    int
	Failed   int
	CostUSD  float64
}

func summarizeBatch(results []pipeline.BatchResult) batchSummary {
	var s batchSummary
	for _, r := range results {
		if r.Response == nil {
			s.Failed++
			zap.L().Warn("batch item failed", zap.String("url", r.Request.URL), zap.Error(r.Err))
			continue
		}
		s.CostUSD += r.Response.CostUSD
		switch r.Response.Outcome {
		case model.OutcomeSuccess:
			s.Success++
		case model.OutcomeDegraded:
			s.Degraded++
		case model.OutcomeCached:
			s.Cached++
		case model.OutcomeQuota:
			s.Quota++
		default:
			s.Failed++
		}
	}
	return s
}

func (s batchSummary) String() string {
	return fmt.Sprintf("success=%d degraded=%d cached=%d quota=%d failed=%d cost=$%.4f",
		s.Success, s.Degraded, s.Cached, s.Quota, s.Failed, s.CostUSD)
}
