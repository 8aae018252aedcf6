// Package output implements the sample sinks a sampler writes to
package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cosmopipe/internal/errors"
	"cosmopipe/ports"
)

// Text writes samples as whitespace separated columns. The file starts with
// a "#name1\tname2..." header and "#key=value" metadata lines; final values
// follow the samples as "#key=value" lines written on Close.
type Text struct {
	w       *bufio.Writer
	closer  io.Closer
	columns []ports.Column
	meta    []keyValue
	finals  []keyValue
	started bool
	closed  bool
}

type keyValue struct {
	key   string
	value string
}

// NewText creates the file at path, making parent directories as needed
func NewText(path string) (*Text, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.ConfigInvalidf("cannot create output directory %s: %v", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.ConfigInvalidf("cannot create output file %s: %v", path, err)
	}
	t := NewTextWriter(f)
	t.closer = f
	return t, nil
}

// NewTextWriter writes to w; Close does not close w
func NewTextWriter(w io.Writer) *Text {
	return &Text{w: bufio.NewWriter(w)}
}

// Columns returns the declared columns
func (t *Text) Columns() []ports.Column {
	return t.columns
}

func (t *Text) AddColumn(name, comment string) error {
	if t.started {
		return errors.InternalError(fmt.Sprintf("column %s added after samples were written", name))
	}
	t.columns = append(t.columns, ports.Column{Name: name, Comment: comment})
	return nil
}

func (t *Text) Metadata(key string, value interface{}) error {
	if t.started {
		return errors.InternalError(fmt.Sprintf("metadata %s added after samples were written", key))
	}
	t.meta = setValue(t.meta, key, value)
	return nil
}

func (t *Text) Parameters(params, extra []float64, samplerOutputs ...float64) error {
	n := len(params) + len(extra) + len(samplerOutputs)
	if n != len(t.columns) {
		return errors.InvalidInput(fmt.Sprintf("sample has %d values for %d columns", n, len(t.columns)))
	}
	if err := t.start(); err != nil {
		return err
	}
	fields := make([]string, 0, n)
	for _, group := range [][]float64{params, extra, samplerOutputs} {
		for _, v := range group {
			fields = append(fields, formatFloat(v))
		}
	}
	_, err := t.w.WriteString(strings.Join(fields, "\t") + "\n")
	return err
}

func (t *Text) Final(key string, value interface{}) error {
	t.finals = setValue(t.finals, key, value)
	return nil
}

func (t *Text) Flush() error {
	return t.w.Flush()
}

// Close writes the header if no sample was written, then the finals
func (t *Text) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	err := t.start()
	for _, kv := range t.finals {
		if err != nil {
			break
		}
		_, err = fmt.Fprintf(t.w, "#%s=%s\n", kv.key, kv.value)
	}
	if err == nil {
		err = t.w.Flush()
	}
	if t.closer != nil {
		if cerr := t.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (t *Text) start() error {
	if t.started {
		return nil
	}
	t.started = true
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	if _, err := fmt.Fprintf(t.w, "#%s\n", strings.Join(names, "\t")); err != nil {
		return err
	}
	for _, kv := range t.meta {
		if _, err := fmt.Fprintf(t.w, "#%s=%s\n", kv.key, kv.value); err != nil {
			return err
		}
	}
	return nil
}

func setValue(list []keyValue, key string, value interface{}) []keyValue {
	text := fmt.Sprint(value)
	if f, ok := value.(float64); ok {
		text = formatFloat(f)
	}
	for i := range list {
		if list[i].key == key {
			list[i].value = text
			return list
		}
	}
	return append(list, keyValue{key: key, value: text})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Chain is what LoadText reads back: column names, rows, metadata and
// final values
type Chain struct {
	Columns  []string
	Rows     [][]float64
	Metadata map[string]string
	Finals   map[string]string
}

// Column returns the values of column name
func (c *Chain) Column(name string) ([]float64, bool) {
	for j, col := range c.Columns {
		if col == name {
			out := make([]float64, len(c.Rows))
			for i, row := range c.Rows {
				out[i] = row[j]
			}
			return out, true
		}
	}
	return nil, false
}

// LoadText reads a file written by Text
func LoadText(path string) (*Chain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.ConfigInvalidf("cannot open chain %s: %v", path, err)
	}
	defer f.Close()

	c := &Chain{Metadata: map[string]string{}, Finals: map[string]string{}}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	header := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if body, ok := strings.CutPrefix(line, "#"); ok {
			if !header {
				c.Columns = strings.Fields(body)
				header = true
				continue
			}
			key, value, ok := strings.Cut(body, "=")
			if !ok {
				continue
			}
			if len(c.Rows) == 0 {
				c.Metadata[key] = value
			} else {
				c.Finals[key] = value
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != len(c.Columns) {
			return nil, errors.InvalidInput(fmt.Sprintf("%s line %d has %d values for %d columns", path, lineNo, len(fields), len(c.Columns)))
		}
		row := make([]float64, len(fields))
		for i, s := range fields {
			if row[i], err = strconv.ParseFloat(s, 64); err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("%s line %d: %q is not a number", path, lineNo, s))
			}
		}
		c.Rows = append(c.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("reading %s: %v", path, err))
	}
	return c, nil
}
