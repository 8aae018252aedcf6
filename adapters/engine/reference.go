package engine

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"cosmopipe/internal"
	"cosmopipe/internal/errors"
	"cosmopipe/ports"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// minStep is the smallest random walk step in unit cube coordinates
const minStep = 1e-4

// Reference is a small in-process nested sampler. Replacement points are
// found by a constrained random walk in the unit cube started from a
// surviving live point.
type Reference struct {
	logger *internal.Logger
}

// NewReference creates the reference engine
func NewReference(logger *internal.Logger) *Reference {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Reference{logger: logger}
}

func (e *Reference) Name() string {
	return "reference"
}

type livePoint struct {
	cube     []float64
	physical []float64
	derived  []float64
	birth    float64
	like     float64
}

// run is the state of one Run call
type run struct {
	s     ports.EngineSettings
	cb    ports.EngineCallbacks
	rng   *rand.Rand
	step  distuv.Normal
	npars int

	live  []*livePoint
	dead  []float64
	logw  []float64
	logZ  float64
	info  float64
	logX  float64
	iter  int
	calls int
}

// Run samples until the live points hold less than Tolerance of the
// evidence, MaxIterations deaths have happened, or ctx is done. NPrior
// points are drawn from the prior and the worst are retired without
// replacement until LivePoints remain. Dead point weights are passed as
// log(L * dX), independent of the running evidence.
func (e *Reference) Run(ctx context.Context, s ports.EngineSettings, cb ports.EngineCallbacks) error {
	if s.NDims < 1 {
		return errors.InvalidInput("nested sampling needs at least one parameter")
	}
	if s.LivePoints < 2 {
		return errors.InvalidInput("nested sampling needs at least two live points")
	}
	if cb.Prior == nil || cb.LogLike == nil || cb.Dumper == nil {
		return errors.InvalidInput("nested sampling needs prior, likelihood and dumper callbacks")
	}
	if s.Resume || s.FileRoot != "" {
		e.logger.Warn("reference engine writes no resume or chain files; resume and file root are ignored")
	}

	seed := uint64(s.Seed)
	if s.Seed < 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewPCG(seed, seed^0x5851f42d4c957f2d)
	r := &run{
		s:     s,
		cb:    cb,
		rng:   rand.New(src),
		step:  distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		npars: s.NDims + s.NDerived + 2,
		logZ:  math.Inf(-1),
	}

	nprior := s.NPrior
	if nprior < s.LivePoints {
		nprior = s.LivePoints
	}
	r.live = make([]*livePoint, 0, nprior)
	for len(r.live) < nprior {
		if err := ctx.Err(); err != nil {
			return err
		}
		cube := make([]float64, s.NDims)
		for i := range cube {
			cube[i] = r.rng.Float64()
		}
		r.live = append(r.live, r.evaluate(cube, s.LogZero))
	}

	compression := s.CompressionFactor
	if !(compression > 0 && compression < 1) {
		compression = math.Exp(-1)
	}
	nextDump := math.Log(compression)
	logTol := math.Log(s.Tolerance)

	for {
		if err := ctx.Err(); err != nil {
			r.dumpAll(false)
			return err
		}
		if s.MaxIterations > 0 && r.iter >= s.MaxIterations {
			break
		}
		r.kill()
		if r.converged(logTol) {
			break
		}
		if r.logX <= nextDump {
			nextDump += math.Log(compression)
			if s.Feedback > 0 {
				e.logger.Info("%s: %d dead, %d likelihood calls, log Z = %.4f", e.Name(), r.iter, r.calls, r.logZ)
			}
			r.dumpAll(false)
		}
	}

	r.dumpAll(true)
	if s.Feedback > 0 {
		e.logger.Info("%s: finished after %d likelihood calls, log Z = %.4f +/- %.4f", e.Name(), r.calls, r.logZ, r.logZErr())
	}
	return nil
}

func (r *run) evaluate(cube []float64, birth float64) *livePoint {
	p := &livePoint{
		cube:     cube,
		physical: make([]float64, r.s.NDims),
		derived:  make([]float64, r.s.NDerived),
		birth:    birth,
	}
	r.cb.Prior(p.cube, p.physical)
	p.like = r.cb.LogLike(p.physical, p.derived)
	r.calls++
	return p
}

func (r *run) worst() int {
	idx := 0
	for i, p := range r.live {
		if p.like < r.live[idx].like {
			idx = i
		}
	}
	return idx
}

// kill retires the worst live point, shrinking the prior volume by the
// expected factor for the current number of live points
func (r *run) kill() {
	n := float64(len(r.live))
	idx := r.worst()
	p := r.live[idx]

	logDX := r.logX + math.Log1p(-math.Exp(-1/n))
	r.retire(p, p.like+logDX)
	r.logX -= 1 / n
	r.iter++

	if len(r.live) > r.s.LivePoints {
		r.live = append(r.live[:idx], r.live[idx+1:]...)
		return
	}
	r.live[idx] = r.replace(idx, p.like)
}

// retire appends p to the dead points with log weight lw and folds it
// into the evidence and information estimates
func (r *run) retire(p *livePoint, lw float64) {
	logZNew := logAddExp(r.logZ, lw)
	if math.IsInf(r.logZ, -1) {
		r.info = math.Exp(lw-logZNew)*p.like - logZNew
	} else {
		r.info = math.Exp(lw-logZNew)*p.like + math.Exp(r.logZ-logZNew)*(r.info+r.logZ) - logZNew
	}
	r.logZ = logZNew
	r.dead = append(r.dead, r.row(p)...)
	r.logw = append(r.logw, lw)
}

func (r *run) row(p *livePoint) []float64 {
	row := make([]float64, 0, r.npars)
	row = append(row, p.physical...)
	row = append(row, p.derived...)
	return append(row, p.birth, p.like)
}

// replace draws a new point with likelihood above threshold by a random
// walk from a surviving live point
func (r *run) replace(skip int, threshold float64) *livePoint {
	n := len(r.live)
	start := r.rng.IntN(n)
	if n > 1 {
		for start == skip {
			start = r.rng.IntN(n)
		}
	}
	scale := r.spread(skip)

	current := r.live[start]
	repeats := r.s.NumRepeats
	if repeats < 1 {
		repeats = 1
	}
	accepted := 0
	factor := 1.0
	for tries := 0; accepted < repeats && tries < 20*repeats+100; tries++ {
		cube := make([]float64, r.s.NDims)
		inside := true
		for i := range cube {
			cube[i] = current.cube[i] + factor*scale[i]*r.step.Rand()
			if cube[i] < 0 || cube[i] > 1 {
				inside = false
			}
		}
		if !inside {
			factor *= 0.9
			continue
		}
		p := r.evaluate(cube, threshold)
		if p.like > threshold {
			current = p
			accepted++
			factor = math.Min(factor*1.1, 1)
		} else {
			factor *= 0.9
		}
	}
	if current == r.live[start] {
		return r.clone(current, threshold)
	}
	return current
}

func (r *run) clone(p *livePoint, birth float64) *livePoint {
	return &livePoint{
		cube:     append([]float64(nil), p.cube...),
		physical: append([]float64(nil), p.physical...),
		derived:  append([]float64(nil), p.derived...),
		birth:    birth,
		like:     p.like,
	}
}

// spread is the standard deviation of each cube coordinate over the live
// points other than skip
func (r *run) spread(skip int) []float64 {
	scale := make([]float64, r.s.NDims)
	col := make(stats.Float64Data, 0, len(r.live))
	for d := range scale {
		col = col[:0]
		for i, p := range r.live {
			if i != skip {
				col = append(col, p.cube[d])
			}
		}
		sd, err := stats.StandardDeviation(col)
		if err != nil || math.IsNaN(sd) {
			sd = 0
		}
		scale[d] = math.Max(sd, minStep)
	}
	return scale
}

func (r *run) converged(logTol float64) bool {
	maxLike := math.Inf(-1)
	for _, p := range r.live {
		maxLike = math.Max(maxLike, p.like)
	}
	return maxLike+r.logX < r.logZ+logTol
}

func (r *run) logZErr() float64 {
	return math.Sqrt(math.Max(r.info, 0) / float64(r.s.LivePoints))
}

// dumpAll passes the dead and live points to the dumper. With final, the
// live points are retired first, sharing the remaining volume equally.
func (r *run) dumpAll(final bool) {
	if final {
		sort.Slice(r.live, func(i, j int) bool { return r.live[i].like < r.live[j].like })
		share := r.logX - math.Log(float64(len(r.live)))
		for _, p := range r.live {
			r.retire(p, p.like+share)
		}
		r.live = nil
	}
	live := make([]float64, 0, len(r.live)*r.npars)
	for _, p := range r.live {
		live = append(live, r.row(p)...)
	}
	r.cb.Dumper(len(r.logw), len(r.live), r.npars, live, r.dead, r.logw, r.logZ, r.logZErr())
}

func logAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}
