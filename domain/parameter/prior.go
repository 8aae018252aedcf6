package parameter

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"cosmopipe/internal/errors"

	"gonum.org/v1/gonum/stat/distuv"
)

// Prior is a one-dimensional prior density evaluated in log space
type Prior interface {
	// LogPDF returns the log density at x, -Inf outside the support
	LogPDF(x float64) float64
	// Sample draws one value using src
	Sample(src rand.Source) float64
	// Quantile is the inverse CDF, mapping u in [0, 1] onto the support
	Quantile(u float64) float64
	// Truncate restricts the prior to [lo, hi] and renormalises it
	Truncate(lo, hi float64) Prior
	String() string
}

// distribution is the subset of the distuv API the priors rely on
type distribution interface {
	LogProb(x float64) float64
	CDF(x float64) float64
	Quantile(p float64) float64
}

// truncated wraps a distuv distribution restricted to [lo, hi]
type truncated struct {
	name    string
	dist    distribution
	lo, hi  float64
	logNorm float64
	cdfLo   float64
	cdfHi   float64
}

func newTruncated(name string, dist distribution, lo, hi float64) *truncated {
	t := &truncated{name: name, dist: dist, lo: lo, hi: hi}
	t.cdfLo = dist.CDF(lo)
	t.cdfHi = dist.CDF(hi)
	mass := t.cdfHi - t.cdfLo
	if mass > 0 {
		t.logNorm = math.Log(mass)
	}
	return t
}

func (t *truncated) LogPDF(x float64) float64 {
	if x < t.lo || x > t.hi || math.IsNaN(x) {
		return math.Inf(-1)
	}
	return t.dist.LogProb(x) - t.logNorm
}

func (t *truncated) Sample(src rand.Source) float64 {
	return t.Quantile(rand.New(src).Float64())
}

func (t *truncated) Quantile(u float64) float64 {
	u = math.Min(math.Max(u, 0), 1)
	x := t.dist.Quantile(t.cdfLo + u*(t.cdfHi-t.cdfLo))
	return math.Min(math.Max(x, t.lo), t.hi)
}

func (t *truncated) Truncate(lo, hi float64) Prior {
	return newTruncated(t.name, t.dist, math.Max(lo, t.lo), math.Min(hi, t.hi))
}

func (t *truncated) String() string {
	return t.name
}

// NewUniformPrior is flat on [a, b]
func NewUniformPrior(a, b float64) Prior {
	return newTruncated(fmt.Sprintf("uniform %g %g", a, b), distuv.Uniform{Min: a, Max: b}, a, b)
}

// NewGaussianPrior is a normal density with mean mu and width sigma
func NewGaussianPrior(mu, sigma float64) Prior {
	return newTruncated(fmt.Sprintf("gaussian %g %g", mu, sigma),
		distuv.Normal{Mu: mu, Sigma: sigma}, math.Inf(-1), math.Inf(1))
}

// NewExponentialPrior is an exponential density with mean beta on x >= 0
func NewExponentialPrior(beta float64) Prior {
	return newTruncated(fmt.Sprintf("exponential %g", beta),
		distuv.Exponential{Rate: 1 / beta}, 0, math.Inf(1))
}

// ParsePrior reads a prior description such as "gaussian 0.7 0.1"
func ParsePrior(text string) (Prior, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, errors.ConfigInvalid("empty prior specification")
	}
	args := make([]float64, len(fields)-1)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.ConfigInvalidf("prior %q: %q is not a number", text, f)
		}
		args[i] = v
	}
	want := map[string]int{"uniform": 2, "gaussian": 2, "normal": 2, "exponential": 1}
	kind := strings.ToLower(fields[0])
	n, ok := want[kind]
	if !ok {
		return nil, errors.ConfigInvalidf("unknown prior type %q", fields[0])
	}
	if len(args) != n {
		return nil, errors.ConfigInvalidf("prior %q needs %d parameters", kind, n)
	}
	switch kind {
	case "uniform":
		if !(args[0] < args[1]) {
			return nil, errors.ConfigInvalidf("uniform prior %q has empty range", text)
		}
		return NewUniformPrior(args[0], args[1]), nil
	case "gaussian", "normal":
		if args[1] <= 0 {
			return nil, errors.ConfigInvalidf("gaussian prior %q needs sigma > 0", text)
		}
		return NewGaussianPrior(args[0], args[1]), nil
	default:
		if args[0] <= 0 {
			return nil, errors.ConfigInvalidf("exponential prior %q needs beta > 0", text)
		}
		return NewExponentialPrior(args[0]), nil
	}
}
