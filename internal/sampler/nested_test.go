package sampler

import (
	"context"
	"math"
	"testing"

	"cosmopipe/domain/datablock"
	"cosmopipe/domain/parameter"
	"cosmopipe/internal"
	"cosmopipe/internal/config"
	"cosmopipe/internal/errors"
	"cosmopipe/internal/modules"
	"cosmopipe/internal/pipeline"
	"cosmopipe/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peak writes a likelihood centred on x=0.5 and the derived sum x+y
type peak struct{}

func (peak) Setup(*datablock.Block) (ports.ModuleState, error) { return nil, nil }

func (peak) Execute(b *datablock.Block, _ ports.ModuleState) int {
	x, err := b.Double("params", "x")
	if err != nil {
		return 1
	}
	y, err := b.Double("params", "y")
	if err != nil {
		return 1
	}
	_ = b.Set("likelihoods", "peak_like", -0.5*math.Pow((x-0.5)/0.1, 2))
	_ = b.Set("derived", "sum", x+y)
	return 0
}

func (peak) Cleanup(ports.ModuleState) error { return nil }

const samplerConfig = `
pipeline:
  likelihoods: peak
  extra_output: derived/sum
nested:
  live_points: 20
`

func newBridge(t *testing.T, text string, engine ports.NestedEngine, sink ports.OutputSink) *Nested {
	t.Helper()
	opts, err := config.Parse([]byte(text))
	require.NoError(t, err)
	lp, err := pipeline.NewLikelihoodPipeline(opts, nil, internal.Discard, pipeline.Settings{
		Parameters: []*parameter.Parameter{
			parameter.NewVaried("params", "x", 0, 0.5, 1, nil),
			parameter.NewVaried("params", "y", -1, 0, 1, nil),
		},
		Modules: []*modules.Instance{modules.NewInstance("peak", "peak", peak{})},
		Seed:    1,
	})
	require.NoError(t, err)
	return NewNested(lp, opts, engine, sink, internal.Discard)
}

// scriptedEngine runs a test-supplied body in place of a sampling loop
type scriptedEngine struct {
	settings ports.EngineSettings
	body     func(ctx context.Context, cb ports.EngineCallbacks) error
}

func (e *scriptedEngine) Name() string { return "scripted" }

func (e *scriptedEngine) Run(ctx context.Context, s ports.EngineSettings, cb ports.EngineCallbacks) error {
	e.settings = s
	if e.body == nil {
		return nil
	}
	return e.body(ctx, cb)
}

type recordingSink struct {
	columns []string
	meta    map[string]interface{}
	rows    [][]float64
	finals  map[string]interface{}
	flushes int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{meta: map[string]interface{}{}, finals: map[string]interface{}{}}
}

func (r *recordingSink) AddColumn(name, _ string) error {
	r.columns = append(r.columns, name)
	return nil
}

func (r *recordingSink) Metadata(key string, value interface{}) error {
	r.meta[key] = value
	return nil
}

func (r *recordingSink) Parameters(params, extra []float64, out ...float64) error {
	row := append(append(append([]float64(nil), params...), extra...), out...)
	r.rows = append(r.rows, row)
	return nil
}

func (r *recordingSink) Final(key string, value interface{}) error {
	r.finals[key] = value
	return nil
}

func (r *recordingSink) Flush() error { r.flushes++; return nil }
func (r *recordingSink) Close() error { return nil }

type observations struct{ snaps []Snapshot }

func (o *observations) Observe(s Snapshot) { o.snaps = append(o.snaps, s) }

func TestReadConfig_Defaults(t *testing.T) {
	opts, err := config.Parse([]byte("nested:\n  live_points: 20\n"))
	require.NoError(t, err)
	c, err := ReadConfig(opts, DefaultSection, 3)
	require.NoError(t, err)

	assert.Equal(t, 20, c.LivePoints)
	assert.Equal(t, 15, c.NumRepeats)
	assert.Equal(t, 200, c.NPrior)
	assert.Equal(t, 1, c.Feedback)
	assert.Equal(t, -1, c.MaxIterations)
	assert.Equal(t, -1, c.RandomSeed)
	assert.False(t, c.Resume)
	assert.True(t, c.DoClustering)
	assert.Equal(t, "", c.OutfileRoot)
	assert.Equal(t, DefaultEngine, c.Engine)
	assert.InDelta(t, math.Exp(-1), c.CompressionFactor, 1e-15)
	assert.Equal(t, 0.1, c.Tolerance)
	assert.Equal(t, -1e6, c.LogZero)

	s := c.EngineSettings(3, 1)
	assert.Equal(t, 3, s.NDims)
	assert.Equal(t, 1, s.NDerived)
	assert.Equal(t, 200, s.NPrior)
}

func TestReadConfig_Overrides(t *testing.T) {
	opts, err := config.Parse([]byte(`
nested:
  live_points: 50
  num_repeats: 7
  nprior: 11
  resume: T
  polychord_outfile_root: chains/run
  tolerance: 0.01
  log_zero: -1e30
  max_iterations: 1000
  random_seed: 42
`))
	require.NoError(t, err)
	c, err := ReadConfig(opts, DefaultSection, 2)
	require.NoError(t, err)
	assert.Equal(t, 7, c.NumRepeats)
	assert.Equal(t, 11, c.NPrior)
	assert.True(t, c.Resume)
	assert.Equal(t, "chains/run", c.OutfileRoot)
	assert.Equal(t, 0.01, c.Tolerance)
	assert.Equal(t, -1e30, c.LogZero)
	assert.Equal(t, 1000, c.MaxIterations)
	assert.Equal(t, 42, c.RandomSeed)
}

func TestReadConfig_LivePointsRequired(t *testing.T) {
	opts, err := config.Parse([]byte("nested:\n  tolerance: 0.5\n"))
	require.NoError(t, err)
	_, err = ReadConfig(opts, DefaultSection, 2)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))
	assert.Contains(t, err.Error(), "live_points")
}

func TestNested_MissingEngineIsForeignBoundary(t *testing.T) {
	s := newBridge(t, samplerConfig, nil, nil)
	err := s.Config()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeForeignBoundary))
	assert.False(t, s.IsConverged())
}

func TestNested_CallbacksMarshalValues(t *testing.T) {
	s := newBridge(t, samplerConfig, &scriptedEngine{}, nil)
	require.NoError(t, s.Config())
	cb := s.Callbacks()

	physical := make([]float64, 2)
	cb.Prior([]float64{0.5, 0.75}, physical)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, physical, 1e-12)

	derived := make([]float64, 1)
	like := cb.LogLike([]float64{0.5, 0.25}, derived)
	assert.InDelta(t, 0, like, 1e-12)
	assert.InDelta(t, 0.75, derived[0], 1e-12)

	like = cb.LogLike([]float64{2, 0}, derived)
	assert.Equal(t, -1e6, like)
	assert.True(t, math.IsNaN(derived[0]))

	// short buffers are rejected without touching memory past the end
	cb.Prior([]float64{0.5}, physical)
	assert.Equal(t, -1e6, cb.LogLike([]float64{0.5}, derived))
}

func TestNested_ExecuteWritesDeadPointsOnce(t *testing.T) {
	// npars = 2 parameters + 1 derived + birth + death
	dead := []float64{
		0.1, 0.2, 0.3, -1e6, -8.0,
		0.4, -0.2, 0.2, -9.0, -0.5,
		0.5, 0.0, 0.5, -7.0, 0.0,
	}
	logw := []float64{math.Log(0.1), math.Log(0.3), math.Log(0.6)}
	engine := &scriptedEngine{body: func(ctx context.Context, cb ports.EngineCallbacks) error {
		cb.Dumper(2, 20, 5, nil, dead[:10], logw[:2], -3, 0.5)
		cb.Dumper(3, 20, 5, nil, dead, logw, -2.5, 0.2)
		return nil
	}}
	sink := newRecordingSink()
	obs := &observations{}
	s := newBridge(t, samplerConfig, engine, sink).WithObserver(obs)

	require.NoError(t, s.Execute(context.Background()))
	assert.True(t, s.IsConverged())

	assert.Equal(t, []string{"params--x", "params--y", "derived--sum", "post", "weight"}, sink.columns)
	assert.Equal(t, "scripted", sink.meta["engine"])
	assert.Equal(t, s.RunID.String(), sink.meta["run_id"])

	require.Len(t, sink.rows, 3)
	assert.InDeltaSlice(t, []float64{0.1, 0.2, 0.3, -8.0, 0.1}, sink.rows[0], 1e-12)
	assert.InDeltaSlice(t, []float64{0.4, -0.2, 0.2, -0.5, 0.3}, sink.rows[1], 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 0.0, 0.5, 0.0, 0.6}, sink.rows[2], 1e-12)

	assert.Equal(t, 3, sink.finals["nsample"])
	assert.Equal(t, -2.5, sink.finals["log_z"])
	assert.Equal(t, 0.2, sink.finals["log_z_error"])
	logZ, logZErr := s.LogZ()
	assert.Equal(t, -2.5, logZ)
	assert.Equal(t, 0.2, logZErr)

	assert.Equal(t, 20, engine.settings.LivePoints)
	assert.Equal(t, 10, engine.settings.NumRepeats)
	assert.Equal(t, 1, engine.settings.NDerived)

	require.NotEmpty(t, obs.snaps)
	last := obs.snaps[len(obs.snaps)-1]
	assert.True(t, last.Converged)
	assert.Equal(t, 3, last.NDead)
}

func TestNested_ConfigRunsOnce(t *testing.T) {
	sink := newRecordingSink()
	s := newBridge(t, samplerConfig, &scriptedEngine{}, sink)
	require.NoError(t, s.Config())
	require.NoError(t, s.Config())
	assert.Len(t, sink.columns, 5)
}

func TestNested_WrongPointLayoutFails(t *testing.T) {
	engine := &scriptedEngine{body: func(ctx context.Context, cb ports.EngineCallbacks) error {
		cb.Dumper(1, 20, 4, nil, []float64{0, 0, 0, 0}, []float64{0}, 0, 0)
		return nil
	}}
	sink := newRecordingSink()
	s := newBridge(t, samplerConfig, engine, sink)
	err := s.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeForeignBoundary))
	assert.False(t, s.IsConverged())
	assert.Empty(t, sink.rows)
}

func TestNested_InterruptStopsEvaluations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var likes []float64
	engine := &scriptedEngine{body: func(ctx context.Context, cb ports.EngineCallbacks) error {
		derived := make([]float64, 1)
		likes = append(likes, cb.LogLike([]float64{0.5, 0}, derived))
		cancel()
		likes = append(likes, cb.LogLike([]float64{0.5, 0}, derived))
		likes = append(likes, cb.LogLike([]float64{0.5, 0}, derived))
		return nil
	}}
	s := newBridge(t, samplerConfig, engine, nil)
	err := s.Sample(ctx)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.False(t, s.IsConverged())
	assert.Equal(t, []float64{0, -1e6, -1e6}, likes)
	assert.Equal(t, 1, s.Snapshot().Evaluations)
}

func TestNested_EngineErrorIsForeignBoundary(t *testing.T) {
	engine := &scriptedEngine{body: func(context.Context, ports.EngineCallbacks) error {
		return assert.AnError
	}}
	s := newBridge(t, samplerConfig, engine, nil)
	err := s.Sample(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeForeignBoundary))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNested_NoOutputStillTracksEvidence(t *testing.T) {
	engine := &scriptedEngine{body: func(ctx context.Context, cb ports.EngineCallbacks) error {
		cb.Dumper(1, 20, 5, nil, []float64{0.5, 0, 0.5, -1, 0}, []float64{0}, -1.25, 0.1)
		return nil
	}}
	s := newBridge(t, samplerConfig, engine, nil)
	require.NoError(t, s.Execute(context.Background()))
	logZ, _ := s.LogZ()
	assert.Equal(t, -1.25, logZ)
	assert.True(t, s.IsConverged())
}
