// Package datafile reads observed data vectors and covariance matrices
// from xlsx, csv and whitespace separated text files
package datafile

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cosmopipe/internal"
	"cosmopipe/internal/errors"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"
)

// Table is a numeric table stored by column. Headers is empty when the
// file has no header row.
type Table struct {
	Headers []string
	Columns [][]float64
}

// Rows is the number of data rows
func (t *Table) Rows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0])
}

// Column returns the column called name, or the column at a numeric index
func (t *Table) Column(name string) ([]float64, error) {
	for i, h := range t.Headers {
		if strings.EqualFold(h, name) {
			return t.Columns[i], nil
		}
	}
	if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < len(t.Columns) {
		return t.Columns[i], nil
	}
	return nil, errors.ConfigInvalidf("no column %q (have %v)", name, t.Headers)
}

// Reader reads one data file; the format is chosen by extension
type Reader struct {
	filePath string
	fileType string // "xlsx", "csv" or "txt"
	Sheet    string
	logger   *internal.Logger
}

// NewReader creates a reader for path
func NewReader(path string, logger *internal.Logger) *Reader {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	fileType := "txt"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		fileType = "xlsx"
	case ".csv":
		fileType = "csv"
	}
	return &Reader{filePath: path, fileType: fileType, logger: logger}
}

// ReadTable reads the file into columns
func (r *Reader) ReadTable() (*Table, error) {
	if _, err := os.Stat(r.filePath); err != nil {
		return nil, errors.ConfigInvalidf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	start := time.Now()
	var rows [][]string
	var header []string
	var err error
	switch r.fileType {
	case "xlsx":
		rows, err = r.readExcelRows()
	case "csv":
		rows, err = r.readCSVRows()
	default:
		header, rows, err = r.readTextRows()
	}
	if err != nil {
		return nil, err
	}
	if header == nil && len(rows) > 0 && !numericRow(rows[0]) {
		header, rows = rows[0], rows[1:]
	}

	t, err := columns(header, rows)
	if err != nil {
		return nil, errors.Wrapf(errors.WithCode(errors.CodeConfigInvalid, err), "reading %s", r.filePath)
	}
	r.logger.Debug("read %s in %v (%d columns, %d rows)", r.filePath, time.Since(start), len(t.Columns), t.Rows())
	return t, nil
}

func (r *Reader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.ConfigInvalidf("failed to open Excel file %s: %v", r.filePath, err)
	}
	defer f.Close()

	sheet := r.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.ConfigInvalidf("Excel file %s has no sheets", r.filePath)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.ConfigInvalidf("failed to read sheet %s of %s: %v", sheet, r.filePath, err)
	}
	return dropEmpty(rows), nil
}

func (r *Reader) readCSVRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.ConfigInvalidf("failed to open CSV file: %v", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.ConfigInvalidf("failed to read CSV file %s: %v", r.filePath, err)
	}
	return dropEmpty(rows), nil
}

// readTextRows reads whitespace separated columns. Lines starting with #
// are comments, except that a leading "#name name ..." line before any
// data names the columns.
func (r *Reader) readTextRows() ([]string, [][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, nil, errors.ConfigInvalidf("failed to open text file: %v", err)
	}
	defer file.Close()

	var header []string
	var rows [][]string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			body := strings.TrimSpace(strings.TrimPrefix(line, "#"))
			if header == nil && rows == nil && body != "" && !strings.Contains(body, "=") {
				header = strings.Fields(body)
			}
			continue
		}
		rows = append(rows, strings.Fields(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.ConfigInvalidf("failed to read text file %s: %v", r.filePath, err)
	}
	return header, rows, nil
}

func dropEmpty(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func numericRow(row []string) bool {
	for _, cell := range row {
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err != nil {
			return false
		}
	}
	return true
}

func columns(header []string, rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data rows")
	}
	width := len(rows[0])
	if header != nil && len(header) != width {
		return nil, fmt.Errorf("header names %d columns but data has %d", len(header), width)
	}
	t := &Table{Headers: make([]string, len(header)), Columns: make([][]float64, width)}
	for i, h := range header {
		t.Headers[i] = strings.TrimSpace(h)
	}
	for i := range t.Columns {
		t.Columns[i] = make([]float64, len(rows))
	}
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d values, expected %d", i+1, len(row), width)
		}
		for j, cell := range row {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %q is not a number", i+1, j+1, cell)
			}
			t.Columns[j][i] = v
		}
	}
	return t, nil
}

// ReadColumns reads two named (or numbered) columns, typically x and y
func ReadColumns(path, xName, yName string, logger *internal.Logger) ([]float64, []float64, error) {
	t, err := NewReader(path, logger).ReadTable()
	if err != nil {
		return nil, nil, err
	}
	x, err := t.Column(xName)
	if err != nil {
		return nil, nil, err
	}
	y, err := t.Column(yName)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// ReadCovariance reads a square matrix. Entries must be symmetric to
// within a relative tolerance of 1e-8.
func ReadCovariance(path string, logger *internal.Logger) (*mat.SymDense, error) {
	t, err := NewReader(path, logger).ReadTable()
	if err != nil {
		return nil, err
	}
	n := len(t.Columns)
	if t.Rows() != n {
		return nil, errors.ConfigInvalidf("covariance in %s is %dx%d, not square", path, t.Rows(), n)
	}
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a, b := t.Columns[j][i], t.Columns[i][j]
			scale := max(math.Abs(a), math.Abs(b), 1e-300)
			if math.Abs(a-b)/scale > 1e-8 {
				return nil, errors.ConfigInvalidf("covariance in %s is not symmetric at (%d, %d)", path, i, j)
			}
			cov.SetSym(i, j, a)
		}
	}
	return cov, nil
}
