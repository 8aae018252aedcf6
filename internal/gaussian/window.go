package gaussian

import (
	"math"

	"cosmopipe/domain/core"
	"cosmopipe/internal/errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
)

// Romberg refinement limits, matching the usual scipy defaults
const (
	rombergTol    = 1.48e-8
	rombergRTol   = 1.48e-8
	rombergMinDiv = 2
	rombergMaxDiv = 12
)

// projectWindows integrates theory against each window. The bounds are the
// overlap of the window's support and the theory's; an empty overlap
// contributes zero.
func (l *Likelihood) projectWindows(f *Interpolator) ([]float64, error) {
	tlo, thi := f.Range()
	out := make([]float64, len(l.windows))
	for i, w := range l.windows {
		wf, err := NewInterpolator(l.spec.Kind, w.X, w.Y)
		if err != nil {
			return nil, errors.Wrapf(err, "window %d", i)
		}
		lo := math.Max(floats.Min(w.X), tlo)
		hi := math.Min(floats.Max(w.X), thi)
		if !(hi > lo) {
			l.logger.Warn("likelihood %s: window %d does not overlap the theory range, contributing 0", l.spec.LikeName, i)
			continue
		}
		g := &product{w: wf, f: f}
		v, err := AdaptiveRomberg(g.at, lo, hi)
		if g.err != nil {
			return nil, errors.Wrapf(g.err, "window %d", i)
		}
		if err != nil {
			l.logger.Warn("likelihood %s: window %d: %v", l.spec.LikeName, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// product is the integrand w(x)*f(x). Both must be sampled at every x the
// integrator asks for; the first evaluation error is kept in err.
type product struct {
	w, f *Interpolator
	err  error
}

func (p *product) at(x float64) float64 {
	a, err := p.w.At(x)
	if err == nil {
		var b float64
		if b, err = p.f.At(x); err == nil {
			return a * b
		}
	}
	if p.err == nil {
		p.err = err
	}
	return 0
}

// AdaptiveRomberg integrates g over [a, b], doubling the number of equally
// spaced samples until successive Romberg estimates agree. It returns the
// last estimate with ErrIntegration if they never do.
func AdaptiveRomberg(g func(float64) float64, a, b float64) (float64, error) {
	if !(b > a) {
		return 0, nil
	}
	prev := math.NaN()
	var est float64
	for k := rombergMinDiv; k <= rombergMaxDiv; k++ {
		n := 1 << k
		dx := (b - a) / float64(n)
		samples := make([]float64, n+1)
		for i := range samples {
			x := a + float64(i)*dx
			if i == n {
				x = b
			}
			samples[i] = g(x)
		}
		est = integrate.Romberg(samples, dx)
		if !math.IsNaN(prev) && math.Abs(est-prev) <= math.Max(rombergTol, rombergRTol*math.Abs(est)) {
			return est, nil
		}
		prev = est
	}
	return est, core.ErrIntegration
}
