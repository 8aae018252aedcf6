package modules

import (
	"cosmopipe/internal"
	"cosmopipe/internal/gaussian"
	"cosmopipe/internal/modules"
	"cosmopipe/ports"
)

// Names of the built-in implementations, used as the file option of a
// module section
const (
	LinearTheoryName       = "linear_theory"
	GaussianDatafileName   = "gaussian_datafile"
	SingleValueName        = "single_value"
	WindowedBandpowersName = "windowed_bandpowers"
)

// Default returns a registry holding every built-in module
func Default(logger *internal.Logger) *modules.Registry {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	reg := modules.NewRegistry()
	reg.Register(LinearTheoryName, func() ports.Module { return NewLinearTheory(logger) })
	reg.Register(GaussianDatafileName, gaussian.Factory(GaussianDatafile(), fileHooks(false, logger), logger))
	reg.Register(SingleValueName, gaussian.Factory(SingleValue(), nil, logger))
	reg.Register(WindowedBandpowersName, gaussian.Factory(WindowedBandpowers(), fileHooks(true, logger), logger))
	return reg
}
