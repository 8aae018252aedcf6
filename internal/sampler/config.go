package sampler

import (
	"math"

	"cosmopipe/internal/config"
	"cosmopipe/internal/errors"
	"cosmopipe/ports"
)

// DefaultSection is the configuration section the nested sampler reads
const DefaultSection = "nested"

// DefaultEngine is the engine used when the section does not name one
const DefaultEngine = "reference"

// Config holds the nested sampler options after defaults are applied
type Config struct {
	Engine            string
	LivePoints        int
	NumRepeats        int
	NPrior            int
	Feedback          int
	Resume            bool
	OutfileRoot       string
	BaseDir           string
	CompressionFactor float64
	Tolerance         float64
	LogZero           float64
	MaxIterations     int
	RandomSeed        int
	DoClustering      bool
}

// ReadConfig reads the sampler options from section. live_points is
// required; every other option falls back to its default, some of which
// scale with the number of varied parameters ndim.
func ReadConfig(opts *config.Options, section string, ndim int) (Config, error) {
	var c Config
	var err error

	c.Engine = opts.String(section, "engine", DefaultEngine)

	if c.LivePoints, err = opts.RequireInt(section, "live_points"); err != nil {
		return c, err
	}
	if c.LivePoints < 1 {
		return c, errors.ConfigInvalidf("%s/live_points must be positive, got %d", section, c.LivePoints)
	}

	ints := []struct {
		name string
		dst  *int
		def  int
	}{
		{"feedback", &c.Feedback, 1},
		{"max_iterations", &c.MaxIterations, -1},
		{"num_repeats", &c.NumRepeats, 5 * ndim},
		{"nprior", &c.NPrior, 10 * c.LivePoints},
		{"random_seed", &c.RandomSeed, -1},
	}
	for _, o := range ints {
		if *o.dst, err = opts.Int(section, o.name, o.def); err != nil {
			return c, err
		}
	}

	floats := []struct {
		name string
		dst  *float64
		def  float64
	}{
		{"compression_factor", &c.CompressionFactor, math.Exp(-1)},
		{"tolerance", &c.Tolerance, 0.1},
		{"log_zero", &c.LogZero, -1e6},
	}
	for _, o := range floats {
		if *o.dst, err = opts.Float(section, o.name, o.def); err != nil {
			return c, err
		}
	}

	if c.Resume, err = opts.Bool(section, "resume", false); err != nil {
		return c, err
	}
	if c.DoClustering, err = opts.Bool(section, "do_clustering", true); err != nil {
		return c, err
	}
	c.OutfileRoot = opts.String(section, "polychord_outfile_root", "")
	c.BaseDir = opts.String(section, "base_dir", "")

	if !(c.CompressionFactor > 0 && c.CompressionFactor < 1) {
		return c, errors.ConfigInvalidf("%s/compression_factor must lie in (0, 1), got %v", section, c.CompressionFactor)
	}
	if c.Tolerance <= 0 {
		return c, errors.ConfigInvalidf("%s/tolerance must be positive, got %v", section, c.Tolerance)
	}
	return c, nil
}

// EngineSettings flattens the config into the struct handed to the engine
func (c Config) EngineSettings(ndim, nderived int) ports.EngineSettings {
	return ports.EngineSettings{
		NDims:             ndim,
		NDerived:          nderived,
		LivePoints:        c.LivePoints,
		NumRepeats:        c.NumRepeats,
		NPrior:            c.NPrior,
		DoClustering:      c.DoClustering,
		Feedback:          c.Feedback,
		Tolerance:         c.Tolerance,
		LogZero:           c.LogZero,
		MaxIterations:     c.MaxIterations,
		CompressionFactor: c.CompressionFactor,
		Resume:            c.Resume,
		BaseDir:           c.BaseDir,
		FileRoot:          c.OutfileRoot,
		Seed:              c.RandomSeed,
	}
}
