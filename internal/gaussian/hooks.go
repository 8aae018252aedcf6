// Package gaussian evaluates Gaussian likelihoods of a theory prediction
// against an observed data vector. A concrete likelihood declares a Spec
// and supplies the hooks it needs; the shared evaluation lives in Likelihood.
package gaussian

import (
	"cosmopipe/domain/datablock"

	"gonum.org/v1/gonum/mat"
)

// Variant selects how theory is projected onto the observations
type Variant int

const (
	// Standard interpolates theory onto the observed x values
	Standard Variant = iota
	// SingleValue compares one scalar theory value with a mean and sigma
	SingleValue
	// Windowed integrates theory against a window function per data point
	Windowed
)

func (v Variant) String() string {
	switch v {
	case SingleValue:
		return "single_value"
	case Windowed:
		return "windowed"
	default:
		return "standard"
	}
}

// DataBuilder loads the observed data vector. Required for Standard and
// Windowed; optional for SingleValue where it returns (mean, sigma) as
// one-element slices.
type DataBuilder interface {
	BuildData() (x, y []float64, err error)
}

// CovarianceBuilder loads a covariance that is the same for every run.
// Required unless the covariance is dynamic.
type CovarianceBuilder interface {
	BuildCovariance() (*mat.SymDense, error)
}

// InverseCovarianceBuilder replaces the direct inverse of a constant
// covariance, e.g. with a debiased estimate for simulation-based covariances
type InverseCovarianceBuilder interface {
	BuildInverseCovariance(cov *mat.SymDense) (*mat.SymDense, error)
}

// CovarianceExtractor reads a run-dependent covariance from the block.
// Required when the covariance is dynamic.
type CovarianceExtractor interface {
	ExtractCovariance(block *datablock.Block) (*mat.SymDense, error)
}

// InverseCovarianceExtractor replaces the direct inverse of a dynamic covariance
type InverseCovarianceExtractor interface {
	ExtractInverseCovariance(block *datablock.Block, cov *mat.SymDense) (*mat.SymDense, error)
}

// TheoryExtractor replaces the default read-and-project of theory points
type TheoryExtractor interface {
	ExtractTheoryPoints(block *datablock.Block) ([]float64, error)
}

// WindowBuilder supplies the window functions of a Windowed likelihood
type WindowBuilder interface {
	BuildWindows() ([]Window, error)
}

// Cleaner releases resources at pipeline teardown
type Cleaner interface {
	Cleanup() error
}

// Window is a window function sampled at X
type Window struct {
	X []float64
	Y []float64
}

// Spec declares where a likelihood reads its theory and what it is called.
// Each field may be overridden by the module's options of the same name.
type Spec struct {
	Variant  Variant
	XSection string
	XName    string
	YSection string
	YName    string
	LikeName string
	// Kind is the interpolation kind, cubic by default
	Kind string
	// DynamicCovariance recomputes the covariance from every run's block
	DynamicCovariance bool

	// Section and Name locate the theory value of a SingleValue likelihood
	Section string
	Name    string
	// Mean and Sigma are SingleValue defaults, used when neither BuildData
	// nor the options provide them
	Mean  *float64
	Sigma *float64
}

// Float is a helper for the optional Spec fields
func Float(v float64) *float64 {
	return &v
}
