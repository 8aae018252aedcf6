package pipeline

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"cosmopipe/domain/core"
	"cosmopipe/domain/datablock"
	"cosmopipe/domain/parameter"
	"cosmopipe/internal"
	"cosmopipe/internal/config"
	"cosmopipe/internal/errors"
	"cosmopipe/internal/modules"

	"gonum.org/v1/gonum/mat"
)

// RunStatus is the outcome of one parameter evaluation
type RunStatus int

const (
	// StatusSucceeded means every module ran and all likelihoods were found
	StatusSucceeded RunStatus = iota
	// StatusRejected means the vector was out of range and nothing ran
	StatusRejected
	// StatusFailed means a module failed or a likelihood was missing
	StatusFailed
)

func (s RunStatus) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusRejected:
		return "rejected"
	default:
		return "failed"
	}
}

// Result is one likelihood evaluation. Extra is aligned with ExtraSaves.
type Result struct {
	Like   float64
	Extra  []float64
	Status RunStatus
	Block  *datablock.Block
}

// Settings carries the construction options that do not come from the
// configuration file
type Settings struct {
	// ID tags log lines, e.g. with a worker rank
	ID string
	// Override replaces values file entries, keyed section--name
	Override map[string]string
	// Parameters, when set, is used instead of loading the values file
	Parameters []*parameter.Parameter
	// Seed for RandomizedStart; zero picks a random seed
	Seed uint64
	// Modules, when set, is used instead of resolving [pipeline] modules
	Modules []*modules.Instance
}

// LikelihoodPipeline adds parameters, priors and likelihood extraction to a
// Pipeline
type LikelihoodPipeline struct {
	*Pipeline

	Parameters      []*parameter.Parameter
	VariedParams    []*parameter.Parameter
	FixedParams     []*parameter.Parameter
	LikelihoodNames []string
	ExtraSaves      []datablock.Key

	IDCode      string
	NIterations int

	src rand.Source
}

// NewLikelihoodPipeline builds the pipeline, loads its parameters and runs
// setup on every module
func NewLikelihoodPipeline(opts *config.Options, registry *modules.Registry, logger *internal.Logger, settings Settings) (*LikelihoodPipeline, error) {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	idCode := ""
	if settings.ID != "" {
		idCode = "[" + settings.ID + "] "
		logger = logger.WithPrefix(idCode)
	}

	var base *Pipeline
	var err error
	if settings.Modules != nil {
		base, err = NewWithModules(opts, logger, settings.Modules...)
	} else {
		base, err = New(opts, registry, logger)
	}
	if err != nil {
		return nil, err
	}

	lp := &LikelihoodPipeline{Pipeline: base, IDCode: idCode}

	lp.Parameters = settings.Parameters
	if lp.Parameters == nil {
		valuesFile, err := opts.RequireString(core.SectionPipeline, "values")
		if err != nil {
			return nil, err
		}
		priorFiles := opts.Strings(core.SectionPipeline, "priors")
		lp.Parameters, err = parameter.Load(valuesFile, priorFiles, settings.Override)
		if err != nil {
			return nil, err
		}
	}
	for _, p := range lp.Parameters {
		if p.IsVaried() {
			lp.VariedParams = append(lp.VariedParams, p)
		} else {
			lp.FixedParams = append(lp.FixedParams, p)
		}
	}

	for _, extra := range opts.Strings(core.SectionPipeline, "extra_output") {
		sec, name, ok := strings.Cut(extra, "/")
		if !ok || sec == "" || name == "" {
			return nil, errors.ConfigInvalidf("extra_output entry %q must look like section/name", extra)
		}
		lp.ExtraSaves = append(lp.ExtraSaves, datablock.Key{Section: strings.ToLower(sec), Name: strings.ToLower(name)})
	}

	if !opts.Has(core.SectionPipeline, "likelihoods") {
		return nil, errors.ConfigInvalid("required option pipeline/likelihoods is missing")
	}
	lp.LikelihoodNames = opts.Strings(core.SectionPipeline, "likelihoods")

	seed := settings.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	lp.src = rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)

	if err := lp.Setup(); err != nil {
		return nil, err
	}
	return lp, nil
}

// NDim is the number of varied parameters
func (lp *LikelihoodPipeline) NDim() int {
	return len(lp.VariedParams)
}

// OutputNames lists the output columns: varied parameters, extra saves, LIKE
func (lp *LikelihoodPipeline) OutputNames() []string {
	names := make([]string, 0, len(lp.VariedParams)+len(lp.ExtraSaves)+1)
	for _, p := range lp.VariedParams {
		names = append(names, p.String())
	}
	for _, k := range lp.ExtraSaves {
		names = append(names, k.String())
	}
	return append(names, "LIKE")
}

// RandomizedStart draws each varied parameter independently from its prior
func (lp *LikelihoodPipeline) RandomizedStart() []float64 {
	out := make([]float64, len(lp.VariedParams))
	for i, p := range lp.VariedParams {
		out[i] = p.RandomPoint(lp.src)
	}
	return out
}

// StartVector returns the start values of the varied parameters
func (lp *LikelihoodPipeline) StartVector() []float64 {
	out := make([]float64, len(lp.VariedParams))
	for i, p := range lp.VariedParams {
		out[i] = p.Start
	}
	return out
}

// IsOutOfRange reports whether any coordinate of v is outside its limits
func (lp *LikelihoodPipeline) IsOutOfRange(v []float64) bool {
	if len(v) != len(lp.VariedParams) {
		return true
	}
	for i, p := range lp.VariedParams {
		if !p.InRange(v[i]) {
			return true
		}
	}
	return false
}

func (lp *LikelihoodPipeline) checkLength(v []float64) error {
	if len(v) != len(lp.VariedParams) {
		return core.NewDimensionError("parameter vector", len(lp.VariedParams), len(v))
	}
	return nil
}

// NormalizeVector maps physical coordinates onto the unit cube
func (lp *LikelihoodPipeline) NormalizeVector(v []float64) ([]float64, error) {
	if err := lp.checkLength(v); err != nil {
		return nil, err
	}
	out := make([]float64, len(v))
	for i, p := range lp.VariedParams {
		out[i] = p.Normalize(v[i])
	}
	return out, nil
}

// DenormalizeVector maps unit cube coordinates onto physical ones
func (lp *LikelihoodPipeline) DenormalizeVector(u []float64) ([]float64, error) {
	if err := lp.checkLength(u); err != nil {
		return nil, err
	}
	out := make([]float64, len(u))
	lp.denormalizeInto(u, out)
	return out, nil
}

func (lp *LikelihoodPipeline) denormalizeInto(u, out []float64) {
	for i, p := range lp.VariedParams {
		out[i] = p.Denormalize(u[i])
	}
}

// DenormalizeVectorFromPrior maps unit cube coordinates onto physical ones
// through each parameter's prior
func (lp *LikelihoodPipeline) DenormalizeVectorFromPrior(u []float64) ([]float64, error) {
	if err := lp.checkLength(u); err != nil {
		return nil, err
	}
	out := make([]float64, len(u))
	lp.DenormalizeFromPriorInto(u, out)
	return out, nil
}

// DenormalizeFromPriorInto is DenormalizeVectorFromPrior writing into out,
// which must have NDim elements
func (lp *LikelihoodPipeline) DenormalizeFromPriorInto(u, out []float64) {
	for i, p := range lp.VariedParams {
		out[i] = p.DenormalizeFromPrior(u[i])
	}
}

// NormalizeMatrix divides element (i, j) by range_i * range_j
func (lp *LikelihoodPipeline) NormalizeMatrix(c mat.Matrix) (*mat.Dense, error) {
	return lp.scaleMatrix(c, func(v, ri, rj float64) float64 { return v / (ri * rj) })
}

// DenormalizeMatrix multiplies element (i, j) by range_i * range_j
func (lp *LikelihoodPipeline) DenormalizeMatrix(c mat.Matrix) (*mat.Dense, error) {
	return lp.scaleMatrix(c, func(v, ri, rj float64) float64 { return v * ri * rj })
}

func (lp *LikelihoodPipeline) scaleMatrix(c mat.Matrix, f func(v, ri, rj float64) float64) (*mat.Dense, error) {
	r, cols := c.Dims()
	if r != cols {
		return nil, fmt.Errorf("%w: cannot normalize a non-square %dx%d matrix", core.ErrDimension, r, cols)
	}
	if r != len(lp.VariedParams) {
		return nil, core.NewDimensionError("matrix", len(lp.VariedParams), r)
	}
	out := mat.DenseCopyOf(c)
	for i := 0; i < r; i++ {
		ri := lp.VariedParams[i].Width()
		for j := 0; j < r; j++ {
			out.Set(i, j, f(out.At(i, j), ri, lp.VariedParams[j].Width()))
		}
	}
	return out, nil
}

// RunParameters builds a fresh block holding the varied values from v and
// the fixed parameters' start values, then runs the pipeline on it. With
// checkRanges an out-of-range v is rejected before any module runs.
func (lp *LikelihoodPipeline) RunParameters(v []float64, checkRanges bool) (*datablock.Block, RunStatus) {
	if err := lp.checkLength(v); err != nil {
		lp.logger.Error("%v", err)
		return nil, StatusFailed
	}
	if checkRanges && lp.IsOutOfRange(v) {
		return nil, StatusRejected
	}

	block := datablock.New()
	for i, p := range lp.VariedParams {
		if err := block.Set(p.Section, p.Name, v[i]); err != nil {
			lp.logger.Error("failed to store %s: %v", p, err)
			return nil, StatusFailed
		}
	}
	for _, p := range lp.FixedParams {
		if err := block.Set(p.Section, p.Name, p.Start); err != nil {
			lp.logger.Error("failed to store %s: %v", p, err)
			return nil, StatusFailed
		}
	}

	if !lp.Run(block) {
		return block, StatusFailed
	}
	return block, StatusSucceeded
}

// Prior sums the log prior of each varied parameter at its coordinate
func (lp *LikelihoodPipeline) Prior(v []float64) float64 {
	if lp.checkLength(v) != nil {
		return math.Inf(-1)
	}
	total := 0.0
	for i, p := range lp.VariedParams {
		total += p.EvaluatePrior(v[i])
	}
	return total
}

// Posterior is prior plus likelihood; modules are skipped entirely when the
// prior already rules the point out
func (lp *LikelihoodPipeline) Posterior(v []float64) Result {
	prior := lp.Prior(v)
	if math.IsInf(prior, -1) {
		return lp.failed(StatusRejected, nil)
	}
	res := lp.Likelihood(v)
	res.Like += prior
	return res
}

// AllNaN is the extras record of a failed evaluation
func (lp *LikelihoodPipeline) AllNaN() []float64 {
	out := make([]float64, len(lp.ExtraSaves))
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func (lp *LikelihoodPipeline) failed(status RunStatus, block *datablock.Block) Result {
	return Result{Like: math.Inf(-1), Extra: lp.AllNaN(), Status: status, Block: block}
}

// Likelihood runs the pipeline at v and sums the configured likelihood
// terms. Failure is a valid outcome: it gives -Inf and NaN extras.
func (lp *LikelihoodPipeline) Likelihood(v []float64) Result {
	block, status := lp.RunParameters(v, true)
	if status != StatusSucceeded {
		return lp.failed(status, block)
	}

	like := 0.0
	for _, name := range lp.LikelihoodNames {
		term, err := block.Double(core.SectionLikelihoods, name+core.SuffixLike)
		if err != nil {
			if !lp.Quiet {
				lp.logger.Warn("likelihood %s not found: %v", name, err)
			}
			return lp.failed(StatusFailed, block)
		}
		like += term
	}
	if !lp.Quiet && len(lp.LikelihoodNames) > 0 {
		lp.logger.Info("Likelihood %e", like)
	}

	extra := make([]float64, len(lp.ExtraSaves))
	for i, k := range lp.ExtraSaves {
		val, err := block.Double(k.Section, k.Name)
		if err != nil {
			val = math.NaN()
		}
		extra[i] = val
	}

	lp.NIterations++
	return Result{Like: like, Extra: extra, Status: StatusSucceeded, Block: block}
}

// WriteValues writes a values file that pins the varied parameters at v
// inside their original ranges, and the fixed ones at their values
func (lp *LikelihoodPipeline) WriteValues(v []float64, w io.Writer) error {
	if err := lp.checkLength(v); err != nil {
		return err
	}
	lines := make(map[string][]string)
	for i, p := range lp.VariedParams {
		lines[p.Section] = append(lines[p.Section], p.ValuesLine(v[i]))
	}
	for _, p := range lp.FixedParams {
		lines[p.Section] = append(lines[p.Section], p.ValuesLine(p.Start))
	}
	sections := make([]string, 0, len(lines))
	for s := range lines {
		sections = append(sections, s)
	}
	sort.Strings(sections)
	for _, s := range sections {
		if _, err := fmt.Fprintf(w, "%s:\n", s); err != nil {
			return err
		}
		for _, l := range lines[s] {
			if _, err := fmt.Fprintf(w, "  %s\n", l); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
