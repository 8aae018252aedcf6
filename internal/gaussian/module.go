package gaussian

import (
	"cosmopipe/domain/datablock"
	"cosmopipe/internal"
	"cosmopipe/internal/errors"
	"cosmopipe/ports"
)

// HooksFactory creates the concrete hooks of a likelihood from its options
type HooksFactory func(opts datablock.SectionOptions) (interface{}, error)

// module adapts a Gaussian likelihood definition to the pipeline module contract
type module struct {
	spec    Spec
	factory HooksFactory
	logger  *internal.Logger
}

// AsModule turns a likelihood definition into a pipeline module. Evaluation
// errors are logged and reported as status 1.
func AsModule(spec Spec, factory HooksFactory, logger *internal.Logger) ports.Module {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &module{spec: spec, factory: factory, logger: logger}
}

// Factory is AsModule in registry form
func Factory(spec Spec, factory HooksFactory, logger *internal.Logger) ports.ModuleFactory {
	return func() ports.Module { return AsModule(spec, factory, logger) }
}

func (m *module) Setup(options *datablock.Block) (ports.ModuleState, error) {
	opts := datablock.Options(options)
	var hooks interface{}
	if m.factory != nil {
		var err error
		if hooks, err = m.factory(opts); err != nil {
			return nil, errors.Wrap(errors.WithCode(errors.CodeConfigInvalid, err), "failed to configure likelihood")
		}
	}
	return New(m.spec, hooks, opts, m.logger)
}

func (m *module) Execute(block *datablock.Block, state ports.ModuleState) int {
	like := state.(*Likelihood)
	if err := like.DoLikelihood(block); err != nil {
		m.logger.Error("Error getting likelihood %s: %v", like.LikeName(), err)
		return 1
	}
	return 0
}

func (m *module) Cleanup(state ports.ModuleState) error {
	if like, ok := state.(*Likelihood); ok {
		return like.Cleanup()
	}
	return nil
}
