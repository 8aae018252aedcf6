package datablock

import (
	"fmt"
	"strings"

	"cosmopipe/domain/core"
)

// SectionOptions reads a module's own configuration from the block handed
// to its setup, with declared defaults for optional keys
type SectionOptions struct {
	block   *Block
	section string
}

// Options returns the module options view of a setup block
func Options(b *Block) SectionOptions {
	return SectionOptions{block: b, section: core.SectionModuleOptions}
}

// Block returns the underlying setup block
func (o SectionOptions) Block() *Block {
	return o.block
}

// Has reports whether the option was configured
func (o SectionOptions) Has(name string) bool {
	return o.block.Has(o.section, name)
}

// String returns a text option or def
func (o SectionOptions) String(name, def string) (string, error) {
	if !o.Has(name) {
		return def, nil
	}
	v, err := o.block.Get(o.section, name)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

// Double returns a numeric option or def
func (o SectionOptions) Double(name string, def float64) (float64, error) {
	if !o.Has(name) {
		return def, nil
	}
	return o.block.Double(o.section, name)
}

// Int returns an integer option or def
func (o SectionOptions) Int(name string, def int) (int, error) {
	if !o.Has(name) {
		return def, nil
	}
	return o.block.Int(o.section, name)
}

// Bool returns a boolean option or def. Text options spelled yes/no,
// y/n or on/off are read as booleans here, where one is expected.
func (o SectionOptions) Bool(name string, def bool) (bool, error) {
	if !o.Has(name) {
		return def, nil
	}
	if text, err := o.block.String(o.section, name); err == nil {
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "yes", "y", "on", "true", "t":
			return true, nil
		case "no", "n", "off", "false", "f":
			return false, nil
		}
	}
	return o.block.Bool(o.section, name)
}

// DoubleArray returns a list of numbers, or def when absent. A single
// number is returned as a one element list.
func (o SectionOptions) DoubleArray(name string, def []float64) ([]float64, error) {
	if !o.Has(name) {
		return def, nil
	}
	if v, err := o.block.Double(o.section, name); err == nil {
		return []float64{v}, nil
	}
	return o.block.DoubleArray(o.section, name)
}

// RequireString returns a text option that must be present
func (o SectionOptions) RequireString(name string) (string, error) {
	if !o.Has(name) {
		return "", fmt.Errorf("required option %q: %w", name, core.ErrMissingKey)
	}
	return o.String(name, "")
}
