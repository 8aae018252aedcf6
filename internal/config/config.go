package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"cosmopipe/internal/errors"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Value is one configuration entry: either a scalar or a list of scalars,
// kept as text until a typed getter asks for it. Quoted marks a scalar
// written as an explicit string ("y", 'n' or !!str t); Typed keeps it text.
type Value struct {
	Scalar string
	List   []string
	IsList bool
	Quoted bool
}

// Text renders the value the way a scalar option would read, lists joined by spaces
func (v Value) Text() string {
	if v.IsList {
		return strings.Join(v.List, " ")
	}
	return v.Scalar
}

// Fields splits the value into whitespace separated items
func (v Value) Fields() []string {
	if v.IsList {
		out := make([]string, 0, len(v.List))
		for _, item := range v.List {
			out = append(out, strings.Fields(item)...)
		}
		return out
	}
	return strings.Fields(v.Scalar)
}

type section struct {
	names  []string
	values map[string]Value
}

// Options is a section-keyed set of typed options. Section and option
// names are case-insensitive; declaration order is preserved.
type Options struct {
	order    []string
	sections map[string]*section
}

// New creates an empty option set
func New() *Options {
	return &Options{sections: make(map[string]*section)}
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Load reads and merges YAML configuration files, later files overriding
// earlier ones
func Load(paths ...string) (*Options, error) {
	opts := New()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(errors.ConfigInvalid(err.Error()), "failed to read configuration %s", path)
		}
		if err := opts.merge(data); err != nil {
			return nil, errors.Wrapf(err, "failed to parse configuration %s", path)
		}
	}
	return opts, nil
}

// Parse builds options from YAML text
func Parse(data []byte) (*Options, error) {
	opts := New()
	if err := opts.merge(data); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *Options) merge(data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.ConfigInvalidf("invalid YAML: %v", err)
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return errors.ConfigInvalid("configuration must be a mapping of sections")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		secName := root.Content[i].Value
		body := root.Content[i+1]
		if body.Kind == yaml.ScalarNode && body.Tag == "!!null" {
			o.ensure(secName)
			continue
		}
		if body.Kind != yaml.MappingNode {
			return errors.ConfigInvalidf("section %q must be a mapping", secName)
		}
		for j := 0; j+1 < len(body.Content); j += 2 {
			name := body.Content[j].Value
			node := body.Content[j+1]
			switch node.Kind {
			case yaml.ScalarNode:
				o.put(secName, name, Value{Scalar: node.Value, Quoted: explicitString(node)})
			case yaml.SequenceNode:
				items := make([]string, 0, len(node.Content))
				for _, item := range node.Content {
					if item.Kind != yaml.ScalarNode {
						return errors.ConfigInvalidf("%s/%s: nested lists are not supported", secName, name)
					}
					items = append(items, item.Value)
				}
				o.put(secName, name, Value{List: items, IsList: true})
			default:
				return errors.ConfigInvalidf("%s/%s: unsupported value", secName, name)
			}
		}
	}
	return nil
}

func explicitString(node *yaml.Node) bool {
	if node.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0 {
		return true
	}
	return node.Style&yaml.TaggedStyle != 0 && node.Tag == "!!str"
}

func (o *Options) ensure(sec string) *section {
	k := key(sec)
	s, ok := o.sections[k]
	if !ok {
		s = &section{values: make(map[string]Value)}
		o.sections[k] = s
		o.order = append(o.order, k)
	}
	return s
}

func (o *Options) put(sec, name string, v Value) {
	s := o.ensure(sec)
	n := key(name)
	if _, exists := s.values[n]; !exists {
		s.names = append(s.names, n)
	}
	s.values[n] = v
}

// Set stores a scalar option, replacing any earlier value
func (o *Options) Set(sec, name, value string) {
	o.put(sec, name, Value{Scalar: value})
}

// SetList stores a list option
func (o *Options) SetList(sec, name string, values ...string) {
	o.put(sec, name, Value{List: append([]string(nil), values...), IsList: true})
}

// Sections lists section names in declaration order
func (o *Options) Sections() []string {
	return append([]string(nil), o.order...)
}

// HasSection reports whether a section was declared
func (o *Options) HasSection(sec string) bool {
	_, ok := o.sections[key(sec)]
	return ok
}

// Names lists the option names of a section in declaration order
func (o *Options) Names(sec string) []string {
	s, ok := o.sections[key(sec)]
	if !ok {
		return nil
	}
	return append([]string(nil), s.names...)
}

// Has reports whether an option is present
func (o *Options) Has(sec, name string) bool {
	_, ok := o.Raw(sec, name)
	return ok
}

// Raw returns the untyped value
func (o *Options) Raw(sec, name string) (Value, bool) {
	s, ok := o.sections[key(sec)]
	if !ok {
		return Value{}, false
	}
	v, ok := s.values[key(name)]
	return v, ok
}

// String returns an option as text, or def when absent
func (o *Options) String(sec, name, def string) string {
	if v, ok := o.Raw(sec, name); ok {
		return v.Text()
	}
	return def
}

// Strings returns the whitespace separated items of an option
func (o *Options) Strings(sec, name string) []string {
	if v, ok := o.Raw(sec, name); ok {
		return v.Fields()
	}
	return nil
}

// Int returns an integer option, or def when absent
func (o *Options) Int(sec, name string, def int) (int, error) {
	v, ok := o.Raw(sec, name)
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v.Text()))
	if err != nil {
		return 0, errors.ConfigInvalidf("%s/%s: %q is not an integer", sec, name, v.Text())
	}
	return i, nil
}

// Float returns a floating point option, or def when absent
func (o *Options) Float(sec, name string, def float64) (float64, error) {
	v, ok := o.Raw(sec, name)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Text()), 64)
	if err != nil {
		return 0, errors.ConfigInvalidf("%s/%s: %q is not a number", sec, name, v.Text())
	}
	return f, nil
}

// Bool returns a boolean option, or def when absent. Accepts the ini
// spellings T/F, yes/no as well as Go's ParseBool forms.
func (o *Options) Bool(sec, name string, def bool) (bool, error) {
	v, ok := o.Raw(sec, name)
	if !ok {
		return def, nil
	}
	b, ok := parseBool(v.Text())
	if !ok {
		return false, errors.ConfigInvalidf("%s/%s: %q is not a boolean", sec, name, v.Text())
	}
	return b, nil
}

// Floats returns a list of numbers
func (o *Options) Floats(sec, name string) ([]float64, error) {
	items := o.Strings(sec, name)
	out := make([]float64, len(items))
	for i, item := range items {
		f, err := strconv.ParseFloat(item, 64)
		if err != nil {
			return nil, errors.ConfigInvalidf("%s/%s: %q is not a number", sec, name, item)
		}
		out[i] = f
	}
	return out, nil
}

// RequireString returns an option that must be present
func (o *Options) RequireString(sec, name string) (string, error) {
	v, ok := o.Raw(sec, name)
	if !ok {
		return "", errors.ConfigInvalidf("required option %s/%s is missing", sec, name)
	}
	return v.Text(), nil
}

// RequireInt returns an integer option that must be present
func (o *Options) RequireInt(sec, name string) (int, error) {
	if !o.Has(sec, name) {
		return 0, errors.ConfigInvalidf("required option %s/%s is missing", sec, name)
	}
	return o.Int(sec, name, 0)
}

// RequireFloat returns a numeric option that must be present
func (o *Options) RequireFloat(sec, name string) (float64, error) {
	if !o.Has(sec, name) {
		return 0, errors.ConfigInvalidf("required option %s/%s is missing", sec, name)
	}
	return o.Float(sec, name, 0)
}

// Typed converts an option to the most specific type it parses as:
// int, float64, bool, []float64 or string. Only true/false and T/F become
// bools, so short names such as y or n stay text; quoted scalars are
// always text.
func (o *Options) Typed(sec, name string) (interface{}, bool) {
	v, ok := o.Raw(sec, name)
	if !ok {
		return nil, false
	}
	if v.Quoted {
		return v.Scalar, true
	}
	if v.IsList {
		if fs, err := o.Floats(sec, name); err == nil {
			return fs, true
		}
		return v.Text(), true
	}
	text := strings.TrimSpace(v.Scalar)
	if i, err := strconv.Atoi(text); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, true
	}
	switch text {
	case "T", "F":
		return text == "T", true
	}
	if b, err := strconv.ParseBool(strings.ToLower(text)); err == nil && len(text) > 1 {
		return b, true
	}
	return v.Scalar, true
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "yes", "y", "1", "on":
		return true, true
	case "f", "false", "no", "n", "0", "off":
		return false, true
	}
	return false, false
}

// Environment overrides for the [pipeline] flags
const (
	EnvDebug  = "COSMOPIPE_DEBUG"
	EnvTiming = "COSMOPIPE_TIMING"
	EnvQuiet  = "COSMOPIPE_QUIET"
	EnvRoot   = "COSMOPIPE_ROOT"
)

// LoadDotEnv loads a .env file if one exists; a missing file is not an error
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(errors.ConfigInvalid(err.Error()), "failed to load %s", p)
		}
	}
	return nil
}

// ApplyEnvOverrides copies pipeline flags from the environment over the file values
func (o *Options) ApplyEnvOverrides() {
	for env, name := range map[string]string{EnvDebug: "debug", EnvTiming: "timing", EnvQuiet: "quiet"} {
		if b, ok := getEnvBool(env); ok {
			o.Set("pipeline", name, strconv.FormatBool(b))
		}
	}
	if root := getEnvOrDefault(EnvRoot, ""); root != "" {
		o.Set("pipeline", "root", root)
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string) (bool, bool) {
	value := os.Getenv(key)
	if value == "" {
		return false, false
	}
	return parseBool(value)
}

// Dump renders the options as YAML-like text, mainly for debugging
func (o *Options) Dump() string {
	var b strings.Builder
	for _, sec := range o.order {
		fmt.Fprintf(&b, "%s:\n", sec)
		s := o.sections[sec]
		for _, n := range s.names {
			fmt.Fprintf(&b, "  %s: %s\n", n, s.values[n].Text())
		}
	}
	return b.String()
}
