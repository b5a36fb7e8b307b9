package feed

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// ErrEmptyFile is returned for a file without even a timestamp line.
var ErrEmptyFile = errors.New("empty feed file")

// Delimiter separates columns in feed files.
const Delimiter = ';'

// Sink receives normalized records.
type Sink interface {
	Write(rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec Record) error

// Write calls f(rec).
func (f SinkFunc) Write(rec Record) error { return f(rec) }

// FileResult summarizes one processed feed file.
type FileResult struct {
	Timestamp string
	Rows      int
	Records   int
}

// Driver reads feed files and pushes their normalized records to a sink.
type Driver struct {
	normalizer *Normalizer
	enc        encoding.Encoding
}

// NewDriver returns a driver decoding files with the named IANA charset.
// An empty name or any UTF-8 alias reads the bytes as they are.
func NewDriver(n *Normalizer, charset string) (*Driver, error) {
	d := &Driver{normalizer: n}
	if charset == "" {
		return d, nil
	}
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil {
		return nil, fmt.Errorf("file encoding %q: %w", charset, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("file encoding %q is not supported", charset)
	}
	if name, _ := ianaindex.IANA.Name(enc); name != "UTF-8" {
		d.enc = enc
	}
	return d, nil
}

// ProcessFile normalizes every data row of the file at path.
// Records written before an error stay written.
func (d *Driver) ProcessFile(path, sourceID string, sink Sink) (FileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return d.Process(f, sourceID, sink)
}

// Process reads a feed stream: a bare timestamp line, then a semicolon
// separated table with a header row.
func (d *Driver) Process(r io.Reader, sourceID string, sink Sink) (FileResult, error) {
	var res FileResult

	if d.enc != nil {
		r = transform.NewReader(r, d.enc.NewDecoder())
	}
	br := bufio.NewReaderSize(stripBOM(r), 64*1024)

	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return res, fmt.Errorf("read timestamp line: %w", err)
	}
	if line == "" && err == io.EOF {
		return res, ErrEmptyFile
	}
	res.Timestamp = strings.TrimRight(line, "\r\n")

	reader := csv.NewReader(br)
	reader.Comma = Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("read header: %w", err)
	}

	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("parse row %d: %w", res.Rows+1, err)
		}
		res.Rows++

		recs, err := d.normalizer.Normalize(rowMap(header, fields), res.Timestamp, sourceID)
		if err != nil {
			return res, fmt.Errorf("row %d: %w", res.Rows, err)
		}
		for _, rec := range recs {
			if err := sink.Write(rec); err != nil {
				return res, fmt.Errorf("write record: %w", err)
			}
			res.Records++
		}
	}
	return res, nil
}

// rowMap keys fields by header. Short rows get empty values for the
// trailing columns; surplus fields are dropped.
func rowMap(header, fields []string) RawRow {
	row := make(RawRow, len(header))
	for i, h := range header {
		if i < len(fields) {
			row[h] = fields[i]
		} else {
			row[h] = ""
		}
	}
	return row
}

// stripBOM wraps a reader to strip a UTF-8 BOM if present.
func stripBOM(r io.Reader) io.Reader {
	buf := make([]byte, 3)
	n, err := io.ReadFull(r, buf)
	if err != nil || n < 3 {
		return io.MultiReader(strings.NewReader(string(buf[:n])), r)
	}
	if buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF {
		return r
	}
	return io.MultiReader(strings.NewReader(string(buf[:n])), r)
}
