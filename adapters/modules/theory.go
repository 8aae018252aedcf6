// Package modules holds the built-in pipeline modules: a simple theory
// generator and Gaussian likelihoods fed from data files
package modules

import (
	"cosmopipe/domain/core"
	"cosmopipe/domain/datablock"
	"cosmopipe/internal"
	"cosmopipe/internal/errors"
	"cosmopipe/ports"

	"gonum.org/v1/gonum/floats"
)

// linearTheory samples y = slope*x + intercept on a grid
type linearTheory struct {
	logger *internal.Logger
}

type linearState struct {
	paramSection  string
	outputSection string
	x             []float64
}

// NewLinearTheory creates the linear_theory module. Options: x_min, x_max,
// n_points, params_section (cosmological_parameters), output_section
// (theory). Reads slope and intercept; writes x and y.
func NewLinearTheory(logger *internal.Logger) ports.Module {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &linearTheory{logger: logger}
}

func (m *linearTheory) Setup(options *datablock.Block) (ports.ModuleState, error) {
	opts := datablock.Options(options)
	lo, err := opts.Double("x_min", 0)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	hi, err := opts.Double("x_max", 1)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	n, err := opts.Int("n_points", 50)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if n < 2 || !(hi > lo) {
		return nil, errors.ConfigInvalidf("linear_theory needs n_points >= 2 and x_max > x_min, got %d points on [%v, %v]", n, lo, hi)
	}

	s := &linearState{x: floats.Span(make([]float64, n), lo, hi)}
	if s.paramSection, err = opts.String("params_section", core.SectionCosmologicalParameters); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if s.outputSection, err = opts.String("output_section", "theory"); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return s, nil
}

func (m *linearTheory) Execute(block *datablock.Block, state ports.ModuleState) int {
	s := state.(*linearState)
	slope, err := block.Double(s.paramSection, "slope")
	if err != nil {
		m.logger.Error("linear_theory: %v", err)
		return 1
	}
	intercept, err := block.Double(s.paramSection, "intercept")
	if err != nil {
		m.logger.Error("linear_theory: %v", err)
		return 1
	}
	y := make([]float64, len(s.x))
	for i, x := range s.x {
		y[i] = slope*x + intercept
	}
	if err := block.Set(s.outputSection, "x", s.x); err != nil {
		return 1
	}
	if err := block.Set(s.outputSection, "y", y); err != nil {
		return 1
	}
	return 0
}

func (m *linearTheory) Cleanup(ports.ModuleState) error {
	return nil
}
