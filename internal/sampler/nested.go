// Package sampler bridges a LikelihoodPipeline to a nested sampling engine
// that owns its own control loop and calls back into the pipeline.
package sampler

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"sync/atomic"

	"cosmopipe/internal"
	"cosmopipe/internal/config"
	"cosmopipe/internal/errors"
	"cosmopipe/internal/pipeline"
	"cosmopipe/ports"

	"github.com/google/uuid"
)

// ErrInterrupted is returned by Sample when the run was stopped by a
// cancelled context rather than by the engine converging
var ErrInterrupted = stderrors.New("nested sampling interrupted")

// OutputColumns are the sampler's own columns after parameters and extras
var OutputColumns = []ports.Column{
	{Name: "post", Comment: "log-likelihood of the dead point"},
	{Name: "weight", Comment: "importance weight exp(logw)"},
}

// Snapshot is the state of a run as of the latest dump
type Snapshot struct {
	RunID       string  `json:"run_id"`
	Engine      string  `json:"engine"`
	NDead       int     `json:"ndead"`
	NLive       int     `json:"nlive"`
	LogZ        float64 `json:"log_z"`
	LogZErr     float64 `json:"log_z_error"`
	Evaluations int     `json:"evaluations"`
	Converged   bool    `json:"converged"`
}

// Observer receives a snapshot after every dump and once more at the end
type Observer interface {
	Observe(Snapshot)
}

// Nested adapts a LikelihoodPipeline to a ports.NestedEngine through the
// engine's three callbacks
type Nested struct {
	pipeline *pipeline.LikelihoodPipeline
	engine   ports.NestedEngine
	output   ports.OutputSink
	options  *config.Options
	logger   *internal.Logger
	observer Observer
	section  string

	Settings Config
	RunID    uuid.UUID

	ndim, nderived int
	callbacks      ports.EngineCallbacks
	configured     bool
	converged      bool

	ctx      context.Context
	shutdown atomic.Bool
	written  int
	logZ     float64
	logZErr  float64
	dumpErr  error
	snapshot Snapshot
}

// NewNested creates the bridge. output may be nil, in which case dumps are
// not written anywhere.
func NewNested(lp *pipeline.LikelihoodPipeline, options *config.Options, engine ports.NestedEngine, output ports.OutputSink, logger *internal.Logger) *Nested {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Nested{
		pipeline: lp,
		engine:   engine,
		output:   output,
		options:  options,
		logger:   logger,
		section:  DefaultSection,
		RunID:    uuid.New(),
	}
}

// WithSection reads options from a section other than DefaultSection
func (s *Nested) WithSection(section string) *Nested {
	s.section = section
	return s
}

// WithObserver reports progress to o
func (s *Nested) WithObserver(o Observer) *Nested {
	s.observer = o
	return s
}

// Config reads the options, checks the engine and binds the callbacks. It
// does its work once; later calls return nil.
func (s *Nested) Config() error {
	if s.configured {
		return nil
	}
	if s.engine == nil {
		return errors.ForeignBoundary(
			"nested sampling engine could not be loaded; it may not have been built for this platform, or a library it depends on is missing",
			nil)
	}

	s.ndim = s.pipeline.NDim()
	s.nderived = len(s.pipeline.ExtraSaves)
	settings, err := ReadConfig(s.options, s.section, s.ndim)
	if err != nil {
		return err
	}
	s.Settings = settings

	s.callbacks = ports.EngineCallbacks{
		Prior:   s.prior,
		LogLike: s.loglike,
		Dumper:  s.noDump,
	}
	if s.output != nil {
		s.callbacks.Dumper = s.dump
		if err := s.declareOutput(); err != nil {
			return err
		}
	}
	s.snapshot = Snapshot{RunID: s.RunID.String(), Engine: s.engine.Name()}
	s.configured = true
	return nil
}

func (s *Nested) declareOutput() error {
	for _, name := range s.pipeline.OutputNames() {
		if name == "LIKE" {
			continue
		}
		if err := s.output.AddColumn(name, ""); err != nil {
			return err
		}
	}
	for _, c := range OutputColumns {
		if err := s.output.AddColumn(c.Name, c.Comment); err != nil {
			return err
		}
	}
	meta := []struct {
		key   string
		value interface{}
	}{
		{"sampler", "nested"},
		{"engine", s.engine.Name()},
		{"run_id", s.RunID.String()},
		{"live_points", s.Settings.LivePoints},
		{"num_repeats", s.Settings.NumRepeats},
		{"tolerance", s.Settings.Tolerance},
	}
	for _, m := range meta {
		if err := s.output.Metadata(m.key, m.value); err != nil {
			return err
		}
	}
	return nil
}

// Callbacks returns the bound callbacks; Config must have succeeded
func (s *Nested) Callbacks() ports.EngineCallbacks {
	return s.callbacks
}

// Execute runs the engine and records the final evidence
func (s *Nested) Execute(ctx context.Context) error {
	s.logZ, s.logZErr = 0, 0
	err := s.Sample(ctx)
	if s.output != nil && s.configured {
		if ferr := s.output.Final("log_z", s.logZ); ferr != nil && err == nil {
			err = ferr
		}
		if ferr := s.output.Final("log_z_error", s.logZErr); ferr != nil && err == nil {
			err = ferr
		}
		if ferr := s.output.Flush(); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}

// Sample hands control to the engine until it returns. The run counts as
// converged only if the engine returned cleanly and was not interrupted.
func (s *Nested) Sample(ctx context.Context) error {
	if err := s.Config(); err != nil {
		return err
	}
	s.ctx = ctx
	s.shutdown.Store(false)
	defer func() { s.ctx = nil }()

	settings := s.Settings.EngineSettings(s.ndim, s.nderived)
	s.logger.Info("Running %s with %d live points on %d parameters", s.engine.Name(), settings.LivePoints, s.ndim)

	err := s.engine.Run(ctx, settings, s.callbacks)
	if s.shutdown.Load() {
		s.logger.Warn("Nested sampling stopped after an interrupt")
		return ErrInterrupted
	}
	if err != nil {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		return errors.Wrap(errors.WithCode(errors.CodeForeignBoundary, err), "nested sampling engine failed")
	}
	if s.dumpErr != nil {
		return s.dumpErr
	}
	s.converged = true
	s.snapshot.Converged = true
	s.notify()
	return nil
}

// IsConverged reports whether Sample has completed
func (s *Nested) IsConverged() bool {
	return s.converged
}

// LogZ is the latest evidence estimate and its error
func (s *Nested) LogZ() (float64, float64) {
	return s.logZ, s.logZErr
}

// Snapshot returns the latest progress snapshot
func (s *Nested) Snapshot() Snapshot {
	return s.snapshot
}

func (s *Nested) interrupted() bool {
	if s.shutdown.Load() {
		return true
	}
	if s.ctx != nil && s.ctx.Err() != nil {
		s.shutdown.Store(true)
		return true
	}
	return false
}

func (s *Nested) prior(cube, physical []float64) {
	if len(cube) < s.ndim || len(physical) < s.ndim {
		s.logger.Error("prior transform got %d cube and %d physical slots for %d parameters", len(cube), len(physical), s.ndim)
		return
	}
	s.pipeline.DenormalizeFromPriorInto(cube[:s.ndim], physical[:s.ndim])
}

func (s *Nested) loglike(physical, derived []float64) (like float64) {
	fill := func(v float64) {
		for i := range derived {
			derived[i] = v
		}
	}
	if s.interrupted() {
		fill(math.NaN())
		return s.Settings.LogZero
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("likelihood evaluation panicked: %v", r)
			fill(math.NaN())
			like = s.Settings.LogZero
		}
	}()
	if len(physical) < s.ndim {
		s.logger.Error("likelihood got %d parameters, expected %d", len(physical), s.ndim)
		fill(math.NaN())
		return s.Settings.LogZero
	}

	res := s.pipeline.Likelihood(physical[:s.ndim])
	copy(derived, res.Extra)
	s.snapshot.Evaluations++
	if math.IsInf(res.Like, -1) || math.IsNaN(res.Like) || res.Like < s.Settings.LogZero {
		return s.Settings.LogZero
	}
	return res.Like
}

func (s *Nested) noDump(ndead, nlive, npars int, live, dead, logWeights []float64, logZ, logZErr float64) {
	s.record(ndead, nlive, logZ, logZErr)
}

func (s *Nested) record(ndead, nlive int, logZ, logZErr float64) {
	s.logZ, s.logZErr = logZ, logZErr
	s.snapshot.NDead, s.snapshot.NLive = ndead, nlive
	s.snapshot.LogZ, s.snapshot.LogZErr = logZ, logZErr
	s.notify()
}

func (s *Nested) notify() {
	if s.observer != nil {
		s.observer.Observe(s.snapshot)
	}
}

// dump forwards the dead points not yet written. dead holds ndead points of
// npars values each: ndim parameters, nderived extras, birth and death
// log-likelihood.
func (s *Nested) dump(ndead, nlive, npars int, live, dead, logWeights []float64, logZ, logZErr float64) {
	s.record(ndead, nlive, logZ, logZErr)
	if s.dumpErr != nil {
		return
	}
	want := s.ndim + s.nderived + 2
	switch {
	case npars != want:
		s.dumpErr = errors.ForeignBoundary(fmt.Sprintf("engine dumped %d values per point, expected %d", npars, want), nil)
	case len(dead) < ndead*npars:
		s.dumpErr = errors.ForeignBoundary(fmt.Sprintf("engine dumped %d values for %d dead points", len(dead), ndead), nil)
	case len(logWeights) < ndead:
		s.dumpErr = errors.ForeignBoundary(fmt.Sprintf("engine dumped %d weights for %d dead points", len(logWeights), ndead), nil)
	}
	if s.dumpErr != nil {
		s.logger.Error("%v", s.dumpErr)
		return
	}

	if s.Settings.Feedback > 0 {
		s.logger.Info("Saving %d samples", ndead-s.written)
	}
	for i := s.written; i < ndead; i++ {
		row := dead[i*npars : (i+1)*npars]
		params := row[:s.ndim]
		extra := row[s.ndim : s.ndim+s.nderived]
		like := row[s.ndim+s.nderived+1]
		if err := s.output.Parameters(params, extra, like, math.Exp(logWeights[i])); err != nil {
			s.dumpErr = err
			s.logger.Error("failed to write sample %d: %v", i, err)
			return
		}
	}
	if ndead > s.written {
		s.written = ndead
	}
	if err := s.output.Final("nsample", ndead); err != nil {
		s.dumpErr = err
		return
	}
	if err := s.output.Flush(); err != nil {
		s.dumpErr = err
	}
}
