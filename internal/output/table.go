package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ignite/arukereso-extractor/internal/feed"
)

// Table writes records as CSV rows with a fixed column set. Fields not in
// the column set are dropped and absent columns are written empty.
type Table struct {
	path    string
	columns []string
	f       *os.File
	w       *csv.Writer
	rows    int
}

// CreateTable creates (or truncates) the table at path and writes its header.
func CreateTable(path string, columns []string) (*Table, error) {
	if len(columns) == 0 {
		return nil, errors.New("output table needs at least one column")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output table: %w", err)
	}

	t := &Table{path: path, columns: append([]string(nil), columns...), f: f, w: csv.NewWriter(f)}
	if err := t.w.Write(t.columns); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return t, nil
}

// Path returns the file the table is written to.
func (t *Table) Path() string { return t.path }

// Rows returns the number of data rows written.
func (t *Table) Rows() int { return t.rows }

// Write appends one record.
func (t *Table) Write(rec feed.Record) error {
	row := make([]string, len(t.columns))
	for i, c := range t.columns {
		row[i] = rec[c]
	}
	if err := t.w.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	t.rows++
	return nil
}

// Close flushes buffered rows and closes the file.
func (t *Table) Close() error {
	t.w.Flush()
	ferr := t.w.Error()
	cerr := t.f.Close()
	if ferr != nil {
		return fmt.Errorf("flush output table: %w", ferr)
	}
	return cerr
}
