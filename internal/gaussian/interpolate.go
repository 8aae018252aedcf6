package gaussian

import (
	"fmt"
	"sort"
	"strings"

	"cosmopipe/internal/errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

// minPoints is the smallest sample count each interpolation kind accepts
var minPoints = map[string]int{
	"linear":          2,
	"cubic":           4,
	"not_a_knot":      4,
	"akima":           5,
	"fritsch_butland": 3,
}

func newPredictor(kind string) (interp.FittablePredictor, error) {
	switch kind {
	case "linear":
		return &interp.PiecewiseLinear{}, nil
	case "cubic":
		return &interp.NaturalCubic{}, nil
	case "not_a_knot":
		return &interp.NotAKnotCubic{}, nil
	case "akima":
		return &interp.AkimaSpline{}, nil
	case "fritsch_butland":
		return &interp.FritschButland{}, nil
	}
	return nil, errors.ConfigInvalidf("unknown interpolation kind %q", kind)
}

// Interpolator evaluates sampled theory inside its sampled range only
type Interpolator struct {
	pred   interp.Predictor
	lo, hi float64
}

// NewInterpolator fits the samples (x, y) with the given kind. The samples
// are sorted by x first; repeated x values are an error.
func NewInterpolator(kind string, x, y []float64) (*Interpolator, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	pred, err := newPredictor(kind)
	if err != nil {
		return nil, err
	}
	if len(x) != len(y) {
		return nil, errors.InvalidInput(fmt.Sprintf("interpolation needs equal length x and y, got %d and %d", len(x), len(y)))
	}
	if len(x) < minPoints[kind] {
		return nil, errors.InvalidInput(fmt.Sprintf("%s interpolation needs at least %d points, got %d", kind, minPoints[kind], len(x)))
	}

	xs := append([]float64(nil), x...)
	ys := append([]float64(nil), y...)
	if !sort.Float64sAreSorted(xs) {
		idx := make([]int, len(xs))
		floats.Argsort(xs, idx)
		for i, j := range idx {
			ys[i] = y[j]
		}
	}
	for i := 1; i < len(xs); i++ {
		if !(xs[i] > xs[i-1]) {
			return nil, errors.InvalidInput(fmt.Sprintf("interpolation x values must be distinct, %v repeats", xs[i]))
		}
	}

	if err := fit(pred, xs, ys); err != nil {
		return nil, err
	}
	return &Interpolator{pred: pred, lo: xs[0], hi: xs[len(xs)-1]}, nil
}

func fit(pred interp.FittablePredictor, xs, ys []float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.InvalidInput(fmt.Sprintf("interpolation fit failed: %v", r))
		}
	}()
	if ferr := pred.Fit(xs, ys); ferr != nil {
		return errors.InvalidInput(fmt.Sprintf("interpolation fit failed: %v", ferr))
	}
	return nil
}

// Range is the sampled x range
func (f *Interpolator) Range() (lo, hi float64) {
	return f.lo, f.hi
}

// At evaluates at x; points outside the sampled range are an error
func (f *Interpolator) At(x float64) (float64, error) {
	if x < f.lo || x > f.hi {
		return 0, errors.InvalidInput(fmt.Sprintf("x=%v outside interpolation range [%v, %v]", x, f.lo, f.hi))
	}
	return f.pred.Predict(x), nil
}
