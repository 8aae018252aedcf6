package modules

import (
	"cosmopipe/adapters/datafile"
	"cosmopipe/domain/datablock"
	"cosmopipe/internal"
	"cosmopipe/internal/errors"
	"cosmopipe/internal/gaussian"

	"gonum.org/v1/gonum/mat"
)

// fileData supplies a Gaussian likelihood from data files. The covariance
// comes from cov_file, else from sigma (one value or one per point), else
// from the data file's sigma_column.
type fileData struct {
	x, y    []float64
	cov     *mat.SymDense
	windows []gaussian.Window
}

func (f *fileData) BuildData() ([]float64, []float64, error) { return f.x, f.y, nil }

func (f *fileData) BuildCovariance() (*mat.SymDense, error) { return f.cov, nil }

func (f *fileData) BuildWindows() ([]gaussian.Window, error) { return f.windows, nil }

// fileHooks returns the hooks factory for data-file likelihoods; windowed
// also reads window_file
func fileHooks(windowed bool, logger *internal.Logger) gaussian.HooksFactory {
	return func(opts datablock.SectionOptions) (interface{}, error) {
		path, err := opts.RequireString("data_file")
		if err != nil {
			return nil, err
		}
		xCol, _ := opts.String("x_column", "0")
		yCol, _ := opts.String("y_column", "1")
		table, err := datafile.NewReader(path, logger).ReadTable()
		if err != nil {
			return nil, err
		}
		f := &fileData{}
		if f.x, err = table.Column(xCol); err != nil {
			return nil, err
		}
		if f.y, err = table.Column(yCol); err != nil {
			return nil, err
		}
		if f.cov, err = covariance(opts, table, len(f.y), logger); err != nil {
			return nil, err
		}
		if windowed {
			if f.windows, err = windows(opts, logger); err != nil {
				return nil, err
			}
		}
		return f, nil
	}
}

func covariance(opts datablock.SectionOptions, table *datafile.Table, n int, logger *internal.Logger) (*mat.SymDense, error) {
	if opts.Has("cov_file") {
		path, err := opts.String("cov_file", "")
		if err != nil {
			return nil, err
		}
		return datafile.ReadCovariance(path, logger)
	}

	var sigma []float64
	var err error
	switch {
	case opts.Has("sigma"):
		if sigma, err = opts.DoubleArray("sigma", nil); err != nil {
			return nil, err
		}
	case opts.Has("sigma_column"):
		col, _ := opts.String("sigma_column", "")
		if sigma, err = table.Column(col); err != nil {
			return nil, err
		}
	default:
		return nil, errors.ConfigInvalid("need one of cov_file, sigma or sigma_column")
	}
	if len(sigma) == 1 && n > 1 {
		s := sigma[0]
		sigma = make([]float64, n)
		for i := range sigma {
			sigma[i] = s
		}
	}
	if len(sigma) != n {
		return nil, errors.ConfigInvalidf("%d sigma values for %d data points", len(sigma), n)
	}
	cov := mat.NewSymDense(n, nil)
	for i, s := range sigma {
		cov.SetSym(i, i, s*s)
	}
	return cov, nil
}

// windows reads window_file: the first column is x and each further
// column is the window of one data point
func windows(opts datablock.SectionOptions, logger *internal.Logger) ([]gaussian.Window, error) {
	path, err := opts.RequireString("window_file")
	if err != nil {
		return nil, err
	}
	table, err := datafile.NewReader(path, logger).ReadTable()
	if err != nil {
		return nil, err
	}
	if len(table.Columns) < 2 {
		return nil, errors.ConfigInvalidf("window file %s needs an x column and at least one window", path)
	}
	out := make([]gaussian.Window, len(table.Columns)-1)
	for i := range out {
		out[i] = gaussian.Window{X: table.Columns[0], Y: table.Columns[i+1]}
	}
	return out, nil
}

// GaussianDatafile is the gaussian_datafile likelihood: theory from
// theory/x and theory/y interpolated onto the data file's points, reported
// as datafile_like unless like_name says otherwise
func GaussianDatafile() gaussian.Spec {
	return gaussian.Spec{
		XSection: "theory", XName: "x",
		YSection: "theory", YName: "y",
		LikeName: "datafile",
	}
}

// WindowedBandpowers is the windowed_bandpowers likelihood: theory
// integrated against one window function per bandpower
func WindowedBandpowers() gaussian.Spec {
	return gaussian.Spec{
		Variant:  gaussian.Windowed,
		XSection: "theory", XName: "x",
		YSection: "theory", YName: "y",
		Kind:     "linear",
		LikeName: "bandpowers",
	}
}

// SingleValue is the single_value likelihood; section, name, mean, sigma
// and like_name come from the options
func SingleValue() gaussian.Spec {
	return gaussian.Spec{Variant: gaussian.SingleValue}
}
