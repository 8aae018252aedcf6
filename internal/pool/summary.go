package pool

import (
	"math"

	"cosmopipe/internal/pipeline"

	"github.com/montanaflynn/stats"
)

// Summary describes a batch of evaluations. The likelihood statistics are
// over the successful evaluations only and are zero when there are none.
type Summary struct {
	N         int
	Succeeded int
	Rejected  int
	Failed    int

	Best    int
	MaxLike float64
	Mean    float64
	StdDev  float64
	Median  float64
	Lower68 float64
	Upper68 float64
}

// Summarize counts outcomes and computes likelihood statistics
func Summarize(evals []Evaluation) (Summary, error) {
	s := Summary{N: len(evals), Best: -1, MaxLike: math.Inf(-1)}
	likes := make(stats.Float64Data, 0, len(evals))
	for _, e := range evals {
		switch e.Status {
		case pipeline.StatusSucceeded:
			s.Succeeded++
		case pipeline.StatusRejected:
			s.Rejected++
			continue
		default:
			s.Failed++
			continue
		}
		if math.IsInf(e.Like, 0) || math.IsNaN(e.Like) {
			continue
		}
		likes = append(likes, e.Like)
		if e.Like > s.MaxLike {
			s.MaxLike, s.Best = e.Like, e.Index
		}
	}
	if len(likes) == 0 {
		return s, nil
	}

	var err error
	if s.Mean, err = likes.Mean(); err != nil {
		return s, err
	}
	if s.Median, err = likes.Median(); err != nil {
		return s, err
	}
	if s.Lower68, err = likes.Percentile(16); err != nil {
		return s, err
	}
	if s.Upper68, err = likes.Percentile(84); err != nil {
		return s, err
	}
	if len(likes) > 1 {
		if s.StdDev, err = likes.StandardDeviationSample(); err != nil {
			return s, err
		}
	}
	return s, nil
}
