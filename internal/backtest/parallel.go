package backtest

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"trading-simv1/internal/model"
	"trading-simv1/internal/strategy"
)

// Job is one independent run.
type Job struct {
	Name    string
	Config  strategy.Config
	Candles []model.Candle
	Options []Option
}

// JobResult pairs a job with its outcome.
type JobResult struct {
	Name    string
	Result  *Result
	Err     error
	Elapsed time.Duration
}

// RunMany runs jobs on at most workers goroutines, each job on its own
// Engine, and returns the outcomes in job order. A failing job does not stop
// the others; cancelling ctx skips jobs that have not started.
func RunMany(ctx context.Context, jobs []Job, workers int) []JobResult {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]JobResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, job := range jobs {
		out[i].Name = job.Name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			eng, err := New(job.Config, job.Options...)
			if err != nil {
				out[i].Err = err
				return nil
			}
			start := time.Now()
			out[i].Result, out[i].Err = eng.Run(job.Candles)
			out[i].Elapsed = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
