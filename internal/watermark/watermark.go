package watermark

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrMalformed is returned when the watermark table has no parsable value.
var ErrMalformed = errors.New("malformed watermark table")

// Column is the header of the watermark table written at the end of a run.
const Column = "max_timestamp_this_run"

// Read parses the previous run's watermark: the first column of the first
// data row, quotes stripped.
func Read(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open watermark table: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a watermark table from r.
func Parse(r io.Reader) (float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	if _, err := reader.Read(); err != nil {
		return 0, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	row, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("%w: data row: %v", ErrMalformed, err)
	}
	raw := strings.TrimSpace(strings.ReplaceAll(row[0], `"`, ""))
	ts, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: value %q: %v", ErrMalformed, raw, err)
	}
	return ts, nil
}

// Write persists ts as a single-row table under Column.
func Write(path string, ts float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create watermark dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create watermark table: %w", err)
	}

	w := csv.NewWriter(f)
	w.Write([]string{Column})
	w.Write([]string{Format(ts)})
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write watermark table: %w", err)
	}
	return f.Close()
}

// Format renders a watermark the way it is persisted.
func Format(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}
