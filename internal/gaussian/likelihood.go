package gaussian

import (
	"fmt"
	"math/rand/v2"
	"time"

	"cosmopipe/domain/core"
	"cosmopipe/domain/datablock"
	"cosmopipe/internal"
	"cosmopipe/internal/errors"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Likelihood holds the observed data, covariance and inverse for one
// Gaussian likelihood, plus the hooks of the concrete implementation
type Likelihood struct {
	spec    Spec
	hooks   interface{}
	logger  *internal.Logger
	noise   distuv.Normal
	windows []Window

	DataX  []float64
	DataY  []float64
	Cov    *mat.SymDense
	InvCov *mat.SymDense
}

// New validates the hooks against the declaration, applies option overrides and
// builds the constant parts of the likelihood. Missing hooks are reported
// here rather than at evaluation time.
func New(spec Spec, hooks interface{}, opts datablock.SectionOptions, logger *internal.Logger) (*Likelihood, error) {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if spec.Kind == "" {
		spec.Kind = "cubic"
	}
	l := &Likelihood{spec: spec, hooks: hooks, logger: logger}
	if err := l.applyOptions(opts); err != nil {
		return nil, err
	}

	seed, err := opts.Int("random_seed", 0)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	s := uint64(seed)
	if seed == 0 {
		s = uint64(time.Now().UnixNano())
	}
	l.noise = distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(s, s+1)}

	if spec.Variant == SingleValue {
		err = l.buildSingleValue(opts)
	} else {
		err = l.buildVector()
	}
	if err != nil {
		return nil, err
	}
	if l.spec.LikeName == "" {
		return nil, errors.ConfigInvalid("gaussian likelihood has no like_name")
	}
	return l, nil
}

func (l *Likelihood) applyOptions(opts datablock.SectionOptions) error {
	fields := []struct {
		name string
		dst  *string
	}{
		{"x_section", &l.spec.XSection},
		{"x_name", &l.spec.XName},
		{"y_section", &l.spec.YSection},
		{"y_name", &l.spec.YName},
		{"like_name", &l.spec.LikeName},
		{"kind", &l.spec.Kind},
		{"section", &l.spec.Section},
		{"name", &l.spec.Name},
	}
	for _, f := range fields {
		v, err := opts.String(f.name, *f.dst)
		if err != nil {
			return errors.WithCode(errors.CodeConfigInvalid, err)
		}
		*f.dst = v
	}
	return nil
}

func (l *Likelihood) buildVector() error {
	builder, ok := l.hooks.(DataBuilder)
	if !ok {
		return errors.MissingHook("BuildData", "it loads the observed data")
	}
	x, y, err := builder.BuildData()
	if err != nil {
		return errors.Wrap(errors.WithCode(errors.CodeConfigInvalid, err), "failed to build data")
	}
	if len(x) != len(y) {
		return errors.ConfigInvalidf("data x has %d points but y has %d", len(x), len(y))
	}
	l.DataX, l.DataY = x, y

	if l.spec.Variant == Windowed {
		wb, ok := l.hooks.(WindowBuilder)
		if !ok {
			return errors.MissingHook("BuildWindows", "windowed likelihoods need window functions")
		}
		if l.windows, err = wb.BuildWindows(); err != nil {
			return errors.Wrap(errors.WithCode(errors.CodeConfigInvalid, err), "failed to build windows")
		}
		if len(l.windows) != len(y) {
			return errors.ConfigInvalidf("%d windows for %d data points", len(l.windows), len(y))
		}
	}

	if l.spec.DynamicCovariance {
		if _, ok := l.hooks.(CovarianceExtractor); !ok {
			return errors.MissingHook("ExtractCovariance", "required when the covariance is dynamic")
		}
		return nil
	}
	cb, ok := l.hooks.(CovarianceBuilder)
	if !ok {
		return errors.MissingHook("BuildCovariance", "or make the covariance dynamic and implement ExtractCovariance")
	}
	cov, err := cb.BuildCovariance()
	if err != nil {
		return errors.Wrap(errors.WithCode(errors.CodeConfigInvalid, err), "failed to build covariance")
	}
	var inv *mat.SymDense
	if ib, ok := l.hooks.(InverseCovarianceBuilder); ok {
		inv, err = ib.BuildInverseCovariance(cov)
	} else {
		inv, err = Inverse(cov)
	}
	if err != nil {
		return err
	}
	return l.setCovariance(cov, inv)
}

func (l *Likelihood) buildSingleValue(opts datablock.SectionOptions) error {
	mean, sigma := l.spec.Mean, l.spec.Sigma
	if builder, ok := l.hooks.(DataBuilder); ok {
		m, s, err := builder.BuildData()
		if err != nil {
			return errors.Wrap(errors.WithCode(errors.CodeConfigInvalid, err), "failed to build data")
		}
		if len(m) == 1 {
			mean = Float(m[0])
		}
		if len(s) == 1 {
			sigma = Float(s[0])
		}
	}
	if opts.Has("mean") {
		v, err := opts.Double("mean", 0)
		if err != nil {
			return errors.WithCode(errors.CodeConfigInvalid, err)
		}
		mean = Float(v)
	}
	if opts.Has("sigma") {
		v, err := opts.Double("sigma", 0)
		if err != nil {
			return errors.WithCode(errors.CodeConfigInvalid, err)
		}
		sigma = Float(v)
	}
	if mean == nil || sigma == nil {
		return errors.ConfigInvalidf("need to specify Gaussian mean/sigma for %q in the likelihood definition, BuildData, or the options", l.spec.LikeName)
	}
	if *sigma <= 0 {
		return errors.ConfigInvalidf("likelihood %q has sigma %v, must be positive", l.spec.LikeName, *sigma)
	}
	l.logger.Info("Likelihood %q will be Gaussian %v +/- %v", l.spec.LikeName, *mean, *sigma)
	l.DataX = []float64{0}
	l.DataY = []float64{*mean}
	l.Cov = mat.NewSymDense(1, []float64{*sigma * *sigma})
	l.InvCov = mat.NewSymDense(1, []float64{1 / (*sigma * *sigma)})
	return nil
}

func (l *Likelihood) setCovariance(cov, inv *mat.SymDense) error {
	n := len(l.DataY)
	if cov.SymmetricDim() != n {
		return core.NewDimensionError("covariance", n, cov.SymmetricDim())
	}
	if inv.SymmetricDim() != n {
		return core.NewDimensionError("inverse covariance", n, inv.SymmetricDim())
	}
	l.Cov, l.InvCov = cov, inv
	return nil
}

// Inverse returns the inverse of a symmetric positive-definite matrix. A
// matrix that is not positive definite is a numerical error.
func Inverse(cov *mat.SymDense) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, errors.Numerical("covariance inversion failed", core.ErrNotPositiveDefinite)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, errors.Numerical("covariance inversion failed", fmt.Errorf("%w: %v", core.ErrSingular, err))
	}
	return &inv, nil
}

// Spec returns the declaration after option overrides
func (l *Likelihood) Spec() Spec {
	return l.spec
}

// LikeName is the name the likelihood is stored under
func (l *Likelihood) LikeName() string {
	return l.spec.LikeName
}

// DoLikelihood evaluates the likelihood for the run in block and writes the
// result plus the diagnostic vectors back into it
func (l *Likelihood) DoLikelihood(block *datablock.Block) error {
	x, err := l.extractTheoryPoints(block)
	if err != nil {
		return err
	}
	mu := l.DataY
	if len(x) != len(mu) {
		return core.NewDimensionError("theory vector", len(mu), len(x))
	}

	if l.spec.DynamicCovariance {
		if err := l.refreshCovariance(block); err != nil {
			return err
		}
	}

	d := make([]float64, len(x))
	for i := range x {
		d[i] = x[i] - mu[i]
	}
	dv := mat.NewVecDense(len(d), d)
	like := -0.5 * mat.Inner(dv, l.InvCov, dv)

	name := l.spec.LikeName
	writes := []struct {
		sec, name string
		value     interface{}
	}{
		{core.SectionLikelihoods, name + core.SuffixLike, like},
		{core.SectionDataVector, name + core.SuffixTheory, x},
		{core.SectionDataVector, name + core.SuffixData, append([]float64(nil), mu...)},
		{core.SectionDataVector, name + core.SuffixCovariance, l.Cov},
		{core.SectionDataVector, name + core.SuffixInverseCovariance, l.InvCov},
		{core.SectionDataVector, name + core.SuffixSimulation, l.Simulate(x)},
	}
	for _, w := range writes {
		if err := block.Set(w.sec, w.name, w.value); err != nil {
			return err
		}
	}
	return nil
}

// refreshCovariance replaces the covariance and inverse with the ones for
// the current run, so the quadratic form never uses a stale inverse
func (l *Likelihood) refreshCovariance(block *datablock.Block) error {
	cov, err := l.hooks.(CovarianceExtractor).ExtractCovariance(block)
	if err != nil {
		return err
	}
	var inv *mat.SymDense
	if ie, ok := l.hooks.(InverseCovarianceExtractor); ok {
		inv, err = ie.ExtractInverseCovariance(block, cov)
	} else {
		inv, err = Inverse(cov)
	}
	if err != nil {
		return err
	}
	return l.setCovariance(cov, inv)
}

// Simulate draws a realisation of the data around mean: mean + Cov * r with
// r a vector of unit normal deviates
func (l *Likelihood) Simulate(mean []float64) []float64 {
	n := len(mean)
	r := make([]float64, n)
	for i := range r {
		r[i] = l.noise.Rand()
	}
	var noise mat.VecDense
	noise.MulVec(l.Cov, mat.NewVecDense(n, r))
	out := make([]float64, n)
	for i := range out {
		out[i] = mean[i] + noise.AtVec(i)
	}
	return out
}

func (l *Likelihood) extractTheoryPoints(block *datablock.Block) ([]float64, error) {
	if te, ok := l.hooks.(TheoryExtractor); ok {
		return te.ExtractTheoryPoints(block)
	}
	if l.spec.Variant == SingleValue {
		v, err := block.Double(l.spec.Section, l.spec.Name)
		if err != nil {
			return nil, err
		}
		return []float64{v}, nil
	}
	tx, err := block.DoubleArray(l.spec.XSection, l.spec.XName)
	if err != nil {
		return nil, err
	}
	ty, err := block.DoubleArray(l.spec.YSection, l.spec.YName)
	if err != nil {
		return nil, err
	}
	return l.GenerateTheoryPoints(tx, ty)
}

// GenerateTheoryPoints projects sampled theory onto the observations:
// interpolation at the data x for Standard, window integrals for Windowed
func (l *Likelihood) GenerateTheoryPoints(tx, ty []float64) ([]float64, error) {
	f, err := NewInterpolator(l.spec.Kind, tx, ty)
	if err != nil {
		return nil, err
	}
	if l.spec.Variant == Windowed {
		return l.projectWindows(f)
	}
	out := make([]float64, len(l.DataX))
	for i, x := range l.DataX {
		v, err := f.At(x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Cleanup forwards to the hooks if they hold resources
func (l *Likelihood) Cleanup() error {
	if c, ok := l.hooks.(Cleaner); ok {
		return c.Cleanup()
	}
	return nil
}
