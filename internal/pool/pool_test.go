package pool

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"testing"

	"cosmopipe/domain/datablock"
	"cosmopipe/domain/parameter"
	"cosmopipe/internal"
	"cosmopipe/internal/config"
	"cosmopipe/internal/modules"
	"cosmopipe/internal/pipeline"
	"cosmopipe/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parabola writes -x^2/2 and counts its cleanups
type parabola struct {
	cleaned *atomic.Int32
}

func (parabola) Setup(*datablock.Block) (ports.ModuleState, error) { return nil, nil }

func (parabola) Execute(b *datablock.Block, _ ports.ModuleState) int {
	x, err := b.Double("params", "x")
	if err != nil {
		return 1
	}
	if x > 5 {
		return 1
	}
	_ = b.Set("likelihoods", "p_like", -0.5*x*x)
	_ = b.Set("derived", "x2", x*x)
	return 0
}

func (p parabola) Cleanup(ports.ModuleState) error {
	p.cleaned.Add(1)
	return nil
}

func factory(t *testing.T, cleaned *atomic.Int32) Factory {
	t.Helper()
	opts, err := config.Parse([]byte("pipeline:\n  likelihoods: p\n  extra_output: derived/x2\n"))
	require.NoError(t, err)
	return func(rank int) (*pipeline.LikelihoodPipeline, error) {
		return pipeline.NewLikelihoodPipeline(opts, nil, internal.Discard, pipeline.Settings{
			ID:         fmt.Sprint(rank),
			Parameters: []*parameter.Parameter{parameter.NewVaried("params", "x", -10, 0, 10, nil)},
			Modules:    []*modules.Instance{modules.NewInstance("parabola", "parabola", parabola{cleaned: cleaned})},
			Seed:       uint64(rank + 1),
		})
	}
}

func TestPool_EvaluatesInInputOrder(t *testing.T) {
	var cleaned atomic.Int32
	p, err := New(context.Background(), factory(t, &cleaned), 4, 2, internal.Discard)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Size())

	points := make([][]float64, 50)
	for i := range points {
		points[i] = []float64{float64(i%7) - 3}
	}
	evals, err := p.Evaluate(context.Background(), points)
	require.NoError(t, err)
	require.Len(t, evals, len(points))
	for i, e := range evals {
		x := points[i][0]
		assert.Equal(t, i, e.Index)
		assert.Equal(t, pipeline.StatusSucceeded, e.Status)
		assert.InDelta(t, -0.5*x*x, e.Like, 1e-12)
		assert.InDelta(t, x*x, e.Extra[0], 1e-12)
		assert.GreaterOrEqual(t, e.Worker, 0)
		assert.Less(t, e.Worker, 4)
	}

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, int32(4), cleaned.Load())

	_, err = p.Evaluate(context.Background(), points)
	assert.Error(t, err)
}

func TestPool_FailuresAreResults(t *testing.T) {
	var cleaned atomic.Int32
	p, err := New(context.Background(), factory(t, &cleaned), 2, 0, internal.Discard)
	require.NoError(t, err)
	defer p.Close()

	evals, err := p.Evaluate(context.Background(), [][]float64{{0}, {7}, {20}, {1}})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSucceeded, evals[0].Status)
	assert.Equal(t, pipeline.StatusFailed, evals[1].Status)
	assert.Equal(t, pipeline.StatusRejected, evals[2].Status)
	assert.True(t, math.IsInf(evals[2].Like, -1))
	assert.True(t, math.IsNaN(evals[1].Extra[0]))

	s, err := Summarize(evals)
	require.NoError(t, err)
	assert.Equal(t, 4, s.N)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Rejected)
	assert.Equal(t, 0, s.Best)
	assert.Equal(t, 0.0, s.MaxLike)
	assert.InDelta(t, -0.25, s.Mean, 1e-12)
}

func TestPool_SetupErrorStopsConstruction(t *testing.T) {
	var cleaned atomic.Int32
	good := factory(t, &cleaned)
	bad := func(rank int) (*pipeline.LikelihoodPipeline, error) {
		if rank == 1 {
			return nil, fmt.Errorf("no data file")
		}
		return good(rank)
	}
	_, err := New(context.Background(), bad, 3, 1, internal.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker 1")

	_, err = New(context.Background(), good, 0, 0, internal.Discard)
	assert.Error(t, err)
}

func TestPool_CancelledContext(t *testing.T) {
	var cleaned atomic.Int32
	p, err := New(context.Background(), factory(t, &cleaned), 2, 0, internal.Discard)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Evaluate(ctx, [][]float64{{0}, {1}, {2}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarize_Empty(t *testing.T) {
	s, err := Summarize(nil)
	require.NoError(t, err)
	assert.Equal(t, -1, s.Best)
	assert.Zero(t, s.Mean)
}
