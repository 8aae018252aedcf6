package modules

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"cosmopipe/domain/core"
	"cosmopipe/domain/datablock"
	"cosmopipe/internal"
	"cosmopipe/internal/config"
	"cosmopipe/internal/errors"
	"cosmopipe/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const linearValues = "cosmological_parameters:\n  slope: \"0 2 4\"\n  intercept: 1\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func buildPipeline(t *testing.T, dir, cfg string) (*pipeline.LikelihoodPipeline, error) {
	t.Helper()
	opts, err := config.Parse([]byte(cfg))
	require.NoError(t, err)
	opts.Set("pipeline", "values", writeFile(t, dir, "values.yaml", linearValues))
	return pipeline.NewLikelihoodPipeline(opts, Default(internal.Discard), internal.Discard, pipeline.Settings{Seed: 7})
}

func TestDefault_RegistersBuiltins(t *testing.T) {
	names := Default(nil).Names()
	assert.ElementsMatch(t, []string{LinearTheoryName, GaussianDatafileName, SingleValueName, WindowedBandpowersName}, names)
}

func TestLinearTheory_WritesGrid(t *testing.T) {
	m := NewLinearTheory(internal.Discard)
	opts := datablock.New()
	require.NoError(t, opts.Set(core.SectionModuleOptions, "x_min", 1.0))
	require.NoError(t, opts.Set(core.SectionModuleOptions, "x_max", 3.0))
	require.NoError(t, opts.Set(core.SectionModuleOptions, "n_points", 5))
	state, err := m.Setup(opts)
	require.NoError(t, err)

	block := datablock.New()
	require.NoError(t, block.Set(core.SectionCosmologicalParameters, "slope", 2.0))
	require.NoError(t, block.Set(core.SectionCosmologicalParameters, "intercept", -1.0))
	assert.Equal(t, 0, m.Execute(block, state))

	x, err := block.DoubleArray("theory", "x")
	require.NoError(t, err)
	y, err := block.DoubleArray("theory", "y")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 1.5, 2, 2.5, 3}, x, 1e-12)
	assert.InDeltaSlice(t, []float64{1, 2, 3, 4, 5}, y, 1e-12)
	assert.NoError(t, m.Cleanup(state))
}

func TestLinearTheory_MissingParameterFails(t *testing.T) {
	m := NewLinearTheory(internal.Discard)
	state, err := m.Setup(datablock.New())
	require.NoError(t, err)

	block := datablock.New()
	require.NoError(t, block.Set(core.SectionCosmologicalParameters, "slope", 2.0))
	assert.Equal(t, 1, m.Execute(block, state))
}

func TestLinearTheory_RejectsBadGrid(t *testing.T) {
	opts := datablock.New()
	require.NoError(t, opts.Set(core.SectionModuleOptions, "n_points", 1))
	_, err := NewLinearTheory(internal.Discard).Setup(opts)
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))
}

func TestGaussianDatafile_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "data.txt", "# x y\n0.5 2.0\n1.0 3.0\n1.5 4.0\n")
	lp, err := buildPipeline(t, dir, fmt.Sprintf(`
pipeline:
  modules: theory data
  likelihoods: datafile
  quiet: T
theory:
  file: linear_theory
  x_max: 2
  n_points: 21
data:
  file: gaussian_datafile
  data_file: %s
  sigma: 0.1
  kind: linear
`, data))
	require.NoError(t, err)
	defer lp.Cleanup()

	res := lp.Likelihood([]float64{2})
	require.Equal(t, pipeline.StatusSucceeded, res.Status)
	assert.InDelta(t, 0, res.Like, 1e-9)

	res = lp.Likelihood([]float64{2.1})
	require.Equal(t, pipeline.StatusSucceeded, res.Status)
	assert.InDelta(t, -1.75, res.Like, 1e-9)

	theory, err := res.Block.DoubleArray(core.SectionDataVector, "datafile"+core.SuffixTheory)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2.05, 3.1, 4.15}, theory, 1e-9)
}

func TestGaussianDatafile_CovarianceFileAndNamedColumns(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "data.csv", "r,value\n0.5,2.0\n1.5,4.0\n")
	cov := writeFile(t, dir, "cov.txt", "0.04 0\n0 0.01\n")
	lp, err := buildPipeline(t, dir, fmt.Sprintf(`
pipeline:
  modules: theory data
  likelihoods: line
  quiet: T
theory:
  file: linear_theory
  x_max: 2
data:
  file: gaussian_datafile
  data_file: %s
  cov_file: %s
  x_column: r
  y_column: value
  like_name: line
  kind: linear
`, data, cov))
	require.NoError(t, err)
	defer lp.Cleanup()

	// theory 2.1*x + 1 is off by 0.05 and 0.15
	res := lp.Likelihood([]float64{2.1})
	require.Equal(t, pipeline.StatusSucceeded, res.Status)
	assert.InDelta(t, -0.5*(0.05*0.05/0.04+0.15*0.15/0.01), res.Like, 1e-9)
}

func TestGaussianDatafile_SigmaColumn(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "data.txt", "0.5 2.0 0.5\n1.0 3.0 1.0\n")
	lp, err := buildPipeline(t, dir, fmt.Sprintf(`
pipeline:
  modules: theory data
  likelihoods: datafile
  quiet: T
theory:
  file: linear_theory
data:
  file: gaussian_datafile
  data_file: %s
  sigma_column: 2
  kind: linear
`, data))
	require.NoError(t, err)
	defer lp.Cleanup()

	res := lp.Likelihood([]float64{3})
	require.Equal(t, pipeline.StatusSucceeded, res.Status)
	// 3x+1 misses by 0.5 and 1, one sigma each
	assert.InDelta(t, -1, res.Like, 1e-9)
}

func TestGaussianDatafile_CovarianceOptionErrors(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "data.txt", "0.5 2.0\n1.0 3.0\n1.5 4.0\n")

	cases := map[string]string{
		"no covariance":   "",
		"sigma mismatch":  "  sigma: \"0.1 0.2\"\n",
		"missing file":    "  cov_file: " + filepath.Join(dir, "absent.txt") + "\n",
		"unknown columns": "  sigma: 0.1\n  y_column: flux\n",
	}
	for name, extra := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := buildPipeline(t, dir, fmt.Sprintf(`
pipeline:
  modules: data
  likelihoods: datafile
  quiet: T
data:
  file: gaussian_datafile
  data_file: %s
%s`, data, extra))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid), "got %v", err)
		})
	}
}

func TestSingleValue_FromOptions(t *testing.T) {
	lp, err := buildPipeline(t, t.TempDir(), `
pipeline:
  modules: slope
  likelihoods: slope_prior
  quiet: T
slope:
  file: single_value
  section: cosmological_parameters
  name: slope
  mean: 2
  sigma: 0.5
  like_name: slope_prior
`)
	require.NoError(t, err)
	defer lp.Cleanup()

	res := lp.Likelihood([]float64{3})
	require.Equal(t, pipeline.StatusSucceeded, res.Status)
	assert.InDelta(t, -2, res.Like, 1e-12)
}

func TestSingleValue_ShortParameterName(t *testing.T) {
	dir := t.TempDir()
	opts, err := config.Parse([]byte(`
pipeline:
  modules: n_prior
  likelihoods: n_prior
  quiet: T
n_prior:
  file: single_value
  section: cosmological_parameters
  name: n
  mean: 1
  sigma: 0.5
  like_name: n_prior
`))
	require.NoError(t, err)
	opts.Set("pipeline", "values", writeFile(t, dir, "values.yaml", "cosmological_parameters:\n  n: \"0 1 2\"\n"))
	lp, err := pipeline.NewLikelihoodPipeline(opts, Default(internal.Discard), internal.Discard, pipeline.Settings{Seed: 7})
	require.NoError(t, err)
	defer lp.Cleanup()

	require.Equal(t, []string{"cosmological_parameters--n", "LIKE"}, lp.OutputNames())
	res := lp.Likelihood([]float64{1})
	require.Equal(t, pipeline.StatusSucceeded, res.Status)
	assert.InDelta(t, 0, res.Like, 1e-12)

	res = lp.Likelihood([]float64{2})
	require.Equal(t, pipeline.StatusSucceeded, res.Status)
	assert.InDelta(t, -2, res.Like, 1e-12)
}

func TestSingleValue_NeedsMeanAndSigma(t *testing.T) {
	_, err := buildPipeline(t, t.TempDir(), `
pipeline:
  modules: slope
  likelihoods: slope_prior
slope:
  file: single_value
  section: cosmological_parameters
  name: slope
  like_name: slope_prior
`)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))
}

func TestWindowedBandpowers_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	// a flat window and a ramp: for y = 2x+1 on [0, 2] they integrate to 6
	// and 22/3
	windows := writeFile(t, dir, "windows.txt", "0 1 0\n1 1 1\n2 1 2\n")
	data := writeFile(t, dir, "bandpowers.txt", fmt.Sprintf("0 6\n1 %.17g\n", 22.0/3))
	lp, err := buildPipeline(t, dir, fmt.Sprintf(`
pipeline:
  modules: theory bands
  likelihoods: bandpowers
  quiet: T
theory:
  file: linear_theory
  x_max: 2
  n_points: 41
bands:
  file: windowed_bandpowers
  data_file: %s
  window_file: %s
  sigma: 1
`, data, windows))
	require.NoError(t, err)
	defer lp.Cleanup()

	res := lp.Likelihood([]float64{2})
	require.Equal(t, pipeline.StatusSucceeded, res.Status)
	assert.InDelta(t, 0, res.Like, 1e-6)

	res = lp.Likelihood([]float64{3})
	require.Equal(t, pipeline.StatusSucceeded, res.Status)
	assert.InDelta(t, -50.0/9, res.Like, 1e-6)
}

func TestWindowedBandpowers_NeedsWindowFile(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "bandpowers.txt", "0 6\n1 7\n")
	_, err := buildPipeline(t, dir, fmt.Sprintf(`
pipeline:
  modules: bands
  likelihoods: bandpowers
bands:
  file: windowed_bandpowers
  data_file: %s
  sigma: 1
`, data))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))
}
