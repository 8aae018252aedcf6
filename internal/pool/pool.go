// Package pool evaluates many parameter vectors across independent
// LikelihoodPipeline instances, one per worker. Workers share nothing but
// the input points and the result slice, each writing only its own slots.
package pool

import (
	"context"
	stderrors "errors"
	"fmt"

	"cosmopipe/internal"
	"cosmopipe/internal/errors"
	"cosmopipe/internal/pipeline"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Factory builds the pipeline owned by worker rank
type Factory func(rank int) (*pipeline.LikelihoodPipeline, error)

// Evaluation is the likelihood of one input point
type Evaluation struct {
	Index  int
	Point  []float64
	Like   float64
	Extra  []float64
	Status pipeline.RunStatus
	Worker int
}

// Pool owns one pipeline per worker
type Pool struct {
	pipelines []*pipeline.LikelihoodPipeline
	logger    *internal.Logger
	closed    bool
}

// New builds workers pipelines, at most setupLimit at a time. Setup of a
// pipeline may load large data files, hence the separate limit; zero
// means no limit.
func New(ctx context.Context, factory Factory, workers, setupLimit int, logger *internal.Logger) (*Pool, error) {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if workers < 1 {
		return nil, errors.ConfigInvalidf("pool needs at least one worker, got %d", workers)
	}
	if setupLimit < 1 || setupLimit > workers {
		setupLimit = workers
	}

	p := &Pool{pipelines: make([]*pipeline.LikelihoodPipeline, workers), logger: logger}
	sem := semaphore.NewWeighted(int64(setupLimit))
	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < workers; rank++ {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			lp, err := factory(rank)
			if err != nil {
				return errors.Wrapf(err, "worker %d setup failed", rank)
			}
			p.pipelines[rank] = lp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.Close()
		return nil, err
	}
	logger.Info("Pool ready with %d workers", workers)
	return p, nil
}

// Size is the number of workers
func (p *Pool) Size() int {
	return len(p.pipelines)
}

// Pipeline returns the pipeline of worker rank
func (p *Pool) Pipeline(rank int) *pipeline.LikelihoodPipeline {
	return p.pipelines[rank]
}

// Evaluate computes the likelihood of every point. Results are in input
// order whichever worker produced them. A failed evaluation is a result,
// not an error; only cancellation stops the pool early.
func (p *Pool) Evaluate(ctx context.Context, points [][]float64) ([]Evaluation, error) {
	if p.closed {
		return nil, errors.InternalError("pool is closed")
	}
	out := make([]Evaluation, len(points))
	jobs := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range points {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for rank, lp := range p.pipelines {
		g.Go(func() error {
			for i := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				res := lp.Likelihood(points[i])
				out[i] = Evaluation{
					Index:  i,
					Point:  append([]float64(nil), points[i]...),
					Like:   res.Like,
					Extra:  res.Extra,
					Status: res.Status,
					Worker: rank,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pool evaluation stopped: %w", err)
	}
	return out, nil
}

// Close cleans up every worker's pipeline. Later calls do nothing.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for _, lp := range p.pipelines {
		if lp == nil {
			continue
		}
		if err := lp.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
