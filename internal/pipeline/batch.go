package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchResult pairs a request with its outcome.
type BatchResult struct {
	Request  Request
	Response *Response
	Err      error
}

// RunBatch extracts every request with at most concurrency in flight.
// Per-request failures are reported in the results, never as the returned
// error; only cancellation of ctx stops the batch early.
func (p *Pipeline) RunBatch(ctx context.Context, reqs []Request, concurrency int) ([]BatchResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		results[i].Request = req
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		if err := gCtx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			resp, err := p.Extract(gCtx, req)
			results[i].Response, results[i].Err = resp, err
			if err != nil {
				zap.L().Debug("pipeline: batch item failed", zap.String("url", req.URL), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}
