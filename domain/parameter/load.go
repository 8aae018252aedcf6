package parameter

import (
	"strconv"
	"strings"

	"cosmopipe/internal/config"
	"cosmopipe/internal/errors"
)

// Load reads a values file and any number of priors files. Entries in
// override, keyed "section--name", replace the values file text before parsing.
func Load(valuesPath string, priorPaths []string, override map[string]string) ([]*Parameter, error) {
	values, err := config.Load(valuesPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load parameter values")
	}
	priors := config.New()
	if len(priorPaths) > 0 {
		priors, err = config.Load(priorPaths...)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load parameter priors")
		}
	}
	return Parse(values, priors, override)
}

// Parse builds the parameter list from already loaded values and priors.
// Order follows the values file: sections as declared, names as declared.
func Parse(values, priors *config.Options, override map[string]string) ([]*Parameter, error) {
	for k, v := range override {
		sec, name, ok := strings.Cut(k, "--")
		if !ok {
			return nil, errors.ConfigInvalidf("override key %q must look like section--name", k)
		}
		values.Set(sec, name, v)
	}

	var params []*Parameter
	for _, sec := range values.Sections() {
		for _, name := range values.Names(sec) {
			raw, _ := values.Raw(sec, name)
			nums, err := parseNumbers(raw.Fields())
			if err != nil {
				return nil, errors.ConfigInvalidf("parameter %s--%s: %v", sec, name, err)
			}
			var prior Prior
			if priors != nil && priors.Has(sec, name) {
				prior, err = ParsePrior(priors.String(sec, name, ""))
				if err != nil {
					return nil, errors.Wrapf(err, "parameter %s--%s", sec, name)
				}
			}
			p, err := build(sec, name, nums, prior)
			if err != nil {
				return nil, err
			}
			params = append(params, p)
		}
	}
	return params, nil
}

func build(sec, name string, nums []float64, prior Prior) (*Parameter, error) {
	switch len(nums) {
	case 1:
		return NewFixed(sec, name, nums[0]), nil
	case 3:
		lo, start, hi := nums[0], nums[1], nums[2]
		if lo > hi {
			return nil, errors.ConfigInvalidf("parameter %s--%s: lower limit %v above upper limit %v", sec, name, lo, hi)
		}
		if start < lo || start > hi {
			return nil, errors.ConfigInvalidf("parameter %s--%s: start %v outside [%v, %v]", sec, name, start, lo, hi)
		}
		if lo == hi {
			return NewFixed(sec, name, start), nil
		}
		return NewVaried(sec, name, lo, start, hi, prior), nil
	}
	return nil, errors.ConfigInvalidf("parameter %s--%s: expected 1 or 3 numbers, got %d", sec, name, len(nums))
}

func parseNumbers(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.InvalidInput("\"" + f + "\" is not a number")
		}
		out[i] = v
	}
	return out, nil
}
