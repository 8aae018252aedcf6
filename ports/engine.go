package ports

import "context"

// PriorTransformFunc maps a unit-hypercube point onto physical coordinates,
// writing into physical
type PriorTransformFunc func(cube, physical []float64)

// LogLikeFunc evaluates the log-likelihood at physical, writing derived
// values into derived
type LogLikeFunc func(physical, derived []float64) float64

// DumperFunc receives the engine's accumulated dead and live points.
// dead holds ndead points of npars consecutive values each: the physical
// parameters, the derived values, the birth and the death log-likelihood.
type DumperFunc func(ndead, nlive, npars int, live, dead, logWeights []float64, logZ, logZErr float64)

// EngineCallbacks are the three slots a nested sampling engine calls back into
type EngineCallbacks struct {
	Prior   PriorTransformFunc
	LogLike LogLikeFunc
	Dumper  DumperFunc
}

// EngineSettings is the flat configuration handed to the engine once per run
type EngineSettings struct {
	NDims             int
	NDerived          int
	LivePoints        int
	NumRepeats        int
	NPrior            int
	DoClustering      bool
	Feedback          int
	Tolerance         float64
	LogZero           float64
	MaxIterations     int
	CompressionFactor float64
	Resume            bool
	BaseDir           string
	FileRoot          string
	Seed              int
}

// NestedEngine is an externally implemented nested sampling loop. Run keeps
// control until the engine converges, hits its iteration cap, or ctx is done.
type NestedEngine interface {
	Name() string
	Run(ctx context.Context, settings EngineSettings, callbacks EngineCallbacks) error
}
