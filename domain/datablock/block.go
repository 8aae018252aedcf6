// Package datablock implements the run-scoped, section/name addressed store
// that pipeline modules read from and write to.
package datablock

import (
	"fmt"
	"sort"
	"strings"

	"cosmopipe/domain/core"

	"gonum.org/v1/gonum/mat"
)

type entry struct {
	name  string
	value interface{}
}

type section struct {
	entries []entry
	index   map[string]int
}

// Block is a typed key-value store addressed by (section, name). Keys are
// case-insensitive. A Block is owned by exactly one run and is not safe for
// concurrent use.
type Block struct {
	sections map[string]*section
	log      *AccessLog
}

// New creates an empty block
func New() *Block {
	return &Block{sections: make(map[string]*section)}
}

// Key identifies one value in a block
type Key struct {
	Section string
	Name    string
}

func (k Key) String() string {
	return k.Section + "--" + k.Name
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (b *Block) lookup(sec, name string) (interface{}, error) {
	s, ok := b.sections[norm(sec)]
	if !ok {
		return nil, core.NewMissingKeyError(sec, name, false)
	}
	i, ok := s.index[norm(name)]
	if !ok {
		return nil, core.NewMissingKeyError(sec, name, true)
	}
	return s.entries[i].value, nil
}

func (b *Block) store(sec, name string, value interface{}) {
	sk, nk := norm(sec), norm(name)
	s, ok := b.sections[sk]
	if !ok {
		s = &section{index: make(map[string]int)}
		b.sections[sk] = s
	}
	if i, ok := s.index[nk]; ok {
		s.entries[i].value = value
		return
	}
	s.index[nk] = len(s.entries)
	s.entries = append(s.entries, entry{name: nk, value: value})
}

// Has reports whether a value exists
func (b *Block) Has(sec, name string) bool {
	_, err := b.lookup(sec, name)
	b.record(ActionHas, sec, name, err)
	return err == nil
}

// HasSection reports whether any value was stored in the section
func (b *Block) HasSection(sec string) bool {
	_, ok := b.sections[norm(sec)]
	return ok
}

// Sections returns all section names in sorted order
func (b *Block) Sections() []string {
	out := make([]string, 0, len(b.sections))
	for s := range b.sections {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Keys returns every (section, name) pair, sections sorted and names in
// insertion order
func (b *Block) Keys() []Key {
	var keys []Key
	for _, sec := range b.Sections() {
		for _, e := range b.sections[sec].entries {
			keys = append(keys, Key{Section: sec, Name: e.name})
		}
	}
	return keys
}

// Len counts stored values
func (b *Block) Len() int {
	n := 0
	for _, s := range b.sections {
		n += len(s.entries)
	}
	return n
}

// Get returns the raw stored value
func (b *Block) Get(sec, name string) (interface{}, error) {
	v, err := b.lookup(sec, name)
	b.record(ActionRead, sec, name, err)
	return v, err
}

// Put stores a new value; it is an error if the key already exists
func (b *Block) Put(sec, name string, value interface{}) error {
	value, err := normalizeValue(value)
	if err != nil {
		b.record(ActionWrite, sec, name, err)
		return fmt.Errorf("%s/%s: %w", sec, name, err)
	}
	if _, lerr := b.lookup(sec, name); lerr == nil {
		err = fmt.Errorf("%w: %s/%s", core.ErrDuplicate, sec, name)
		b.record(ActionWrite, sec, name, err)
		return err
	}
	b.store(sec, name, value)
	b.record(ActionWrite, sec, name, nil)
	return nil
}

// Replace overwrites an existing value of the same type
func (b *Block) Replace(sec, name string, value interface{}) error {
	value, err := normalizeValue(value)
	if err != nil {
		b.record(ActionReplace, sec, name, err)
		return fmt.Errorf("%s/%s: %w", sec, name, err)
	}
	old, err := b.lookup(sec, name)
	if err != nil {
		b.record(ActionReplace, sec, name, err)
		return err
	}
	if typeName(old) != typeName(value) {
		err = core.NewWrongTypeError(sec, name, typeName(old), typeName(value))
		b.record(ActionReplace, sec, name, err)
		return err
	}
	b.store(sec, name, value)
	b.record(ActionReplace, sec, name, nil)
	return nil
}

// Set stores or overwrites a value regardless of what was there
func (b *Block) Set(sec, name string, value interface{}) error {
	value, err := normalizeValue(value)
	if err != nil {
		b.record(ActionWrite, sec, name, err)
		return fmt.Errorf("%s/%s: %w", sec, name, err)
	}
	b.store(sec, name, value)
	b.record(ActionWrite, sec, name, nil)
	return nil
}

// Double reads a float64. Integers are widened.
func (b *Block) Double(sec, name string) (float64, error) {
	v, err := b.Get(sec, name)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	}
	return 0, b.wrongType(sec, name, "double", v)
}

// Int reads an int
func (b *Block) Int(sec, name string) (int, error) {
	v, err := b.Get(sec, name)
	if err != nil {
		return 0, err
	}
	if x, ok := v.(int); ok {
		return x, nil
	}
	return 0, b.wrongType(sec, name, "int", v)
}

// Bool reads a bool
func (b *Block) Bool(sec, name string) (bool, error) {
	v, err := b.Get(sec, name)
	if err != nil {
		return false, err
	}
	if x, ok := v.(bool); ok {
		return x, nil
	}
	return false, b.wrongType(sec, name, "bool", v)
}

// String reads a string
func (b *Block) String(sec, name string) (string, error) {
	v, err := b.Get(sec, name)
	if err != nil {
		return "", err
	}
	if x, ok := v.(string); ok {
		return x, nil
	}
	return "", b.wrongType(sec, name, "string", v)
}

// DoubleArray reads a []float64. The returned slice is a copy.
func (b *Block) DoubleArray(sec, name string) ([]float64, error) {
	v, err := b.Get(sec, name)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case []float64:
		return append([]float64(nil), x...), nil
	case []int:
		out := make([]float64, len(x))
		for i, n := range x {
			out[i] = float64(n)
		}
		return out, nil
	}
	return nil, b.wrongType(sec, name, "double array", v)
}

// IntArray reads a []int. The returned slice is a copy.
func (b *Block) IntArray(sec, name string) ([]int, error) {
	v, err := b.Get(sec, name)
	if err != nil {
		return nil, err
	}
	if x, ok := v.([]int); ok {
		return append([]int(nil), x...), nil
	}
	return nil, b.wrongType(sec, name, "int array", v)
}

// Matrix reads a 2-d array as a copy
func (b *Block) Matrix(sec, name string) (*mat.Dense, error) {
	v, err := b.Get(sec, name)
	if err != nil {
		return nil, err
	}
	if x, ok := v.(*mat.Dense); ok {
		return mat.DenseCopyOf(x), nil
	}
	return nil, b.wrongType(sec, name, "matrix", v)
}

func (b *Block) wrongType(sec, name, want string, got interface{}) error {
	err := core.NewWrongTypeError(sec, name, want, typeName(got))
	b.record(ActionRead, sec, name, err)
	return err
}

// normalizeValue copies slices and converts any mat.Matrix to a *mat.Dense so
// callers can't mutate stored state after the fact
func normalizeValue(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case float64, int, bool, string:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return int(x), nil
	case []float64:
		return append([]float64(nil), x...), nil
	case []int:
		return append([]int(nil), x...), nil
	case mat.Matrix:
		return mat.DenseCopyOf(x), nil
	}
	return nil, fmt.Errorf("%w: unsupported value type %T", core.ErrWrongType, v)
}

func typeName(v interface{}) string {
	switch v.(type) {
	case float64:
		return "double"
	case int:
		return "int"
	case bool:
		return "bool"
	case string:
		return "string"
	case []float64:
		return "double array"
	case []int:
		return "int array"
	case *mat.Dense:
		return "matrix"
	}
	return fmt.Sprintf("%T", v)
}
