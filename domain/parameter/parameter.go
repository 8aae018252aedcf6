// Package parameter describes the scalar model parameters a pipeline is run
// with: their bounds, priors and the maps between physical and unit
// coordinates.
package parameter

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Parameter is one scalar model parameter identified by (section, name). A
// parameter whose limits coincide is fixed at its start value; otherwise it
// is varied within the inclusive range [Limits[0], Limits[1]].
type Parameter struct {
	Section string
	Name    string
	Start   float64
	Limits  [2]float64
	Prior   Prior
}

// NewVaried creates a varied parameter with a prior truncated to its range.
// A nil prior means uniform over the range.
func NewVaried(section, name string, lo, start, hi float64, prior Prior) *Parameter {
	if prior == nil {
		prior = NewUniformPrior(lo, hi)
	} else {
		prior = prior.Truncate(lo, hi)
	}
	return &Parameter{Section: section, Name: name, Start: start, Limits: [2]float64{lo, hi}, Prior: prior}
}

// NewFixed creates a parameter held at value
func NewFixed(section, name string, value float64) *Parameter {
	return &Parameter{Section: section, Name: name, Start: value, Limits: [2]float64{value, value}}
}

func (p *Parameter) String() string {
	return p.Section + "--" + p.Name
}

// IsVaried reports whether the sampler explores this parameter
func (p *Parameter) IsVaried() bool {
	return p.Limits[0] < p.Limits[1]
}

// IsFixed is the complement of IsVaried
func (p *Parameter) IsFixed() bool {
	return !p.IsVaried()
}

// Width is hi - lo
func (p *Parameter) Width() float64 {
	return p.Limits[1] - p.Limits[0]
}

// InRange reports whether x lies inside the inclusive limits
func (p *Parameter) InRange(x float64) bool {
	return p.Limits[0] <= x && x <= p.Limits[1]
}

// Normalize maps [lo, hi] onto [0, 1]
func (p *Parameter) Normalize(x float64) float64 {
	if p.IsFixed() {
		return x
	}
	return (x - p.Limits[0]) / p.Width()
}

// Denormalize maps [0, 1] onto [lo, hi]
func (p *Parameter) Denormalize(u float64) float64 {
	if p.IsFixed() {
		return u
	}
	return p.Limits[0] + u*p.Width()
}

// DenormalizeFromPrior maps [0, 1] onto the range through the inverse CDF
// of the prior, so a uniform cube point is a draw from the prior
func (p *Parameter) DenormalizeFromPrior(u float64) float64 {
	if p.IsFixed() {
		return p.Start
	}
	if p.Prior == nil {
		return p.Denormalize(u)
	}
	return p.Prior.Quantile(u)
}

// EvaluatePrior returns the log prior density at x
func (p *Parameter) EvaluatePrior(x float64) float64 {
	if !p.InRange(x) {
		return math.Inf(-1)
	}
	if p.Prior == nil {
		return 0
	}
	return p.Prior.LogPDF(x)
}

// RandomPoint draws a value from the prior, restricted to the range
func (p *Parameter) RandomPoint(src rand.Source) float64 {
	if p.IsFixed() {
		return p.Start
	}
	if p.Prior == nil {
		return p.Denormalize(rand.New(src).Float64())
	}
	return p.Prior.Sample(src)
}

// ValuesLine renders the parameter in values-file form
func (p *Parameter) ValuesLine(x float64) string {
	if p.IsFixed() {
		return fmt.Sprintf("%s: %v", p.Name, p.Start)
	}
	return fmt.Sprintf("%s: \"%v %v %v\"", p.Name, p.Limits[0], x, p.Limits[1])
}
