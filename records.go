package kustoingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// nullTokens are field values read as missing, matching the defaults of
// common tabular readers.
var nullTokens = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "n/a": {}, "NaN": {}, "nan": {}, "-NaN": {}, "-nan": {},
	"null": {}, "NULL": {}, "None": {}, "<NA>": {}, "#N/A": {}, "#NA": {}, "NaT": {},
	"1.#IND": {}, "1.#QNAN": {}, "-1.#IND": {}, "-1.#QNAN": {}, "#N/A N/A": {},
}

func isNullToken(s string) bool {
	_, ok := nullTokens[strings.TrimSpace(s)]
	return ok
}

// Record is one data row of an input file.
type Record struct {
	// Line is the 1-based line of the row in the input, the header being line 1.
	Line           int
	Timestamp      time.Time
	TimestampValid bool
	Fields         []string
}

// Missing reports whether the row lacks a value for any of width columns.
// A row with more fields than width is ragged and counts as missing too.
func (r Record) Missing(width int) bool {
	if !r.TimestampValid || len(r.Fields) != width {
		return true
	}
	for _, f := range r.Fields {
		if isNullToken(f) {
			return true
		}
	}
	return false
}

// RecordBatch is the parsed content of an input file. The first column of
// Header is the timestamp column.
type RecordBatch struct {
	Header  []string
	Records []Record
}

func (b *RecordBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// ReadCSV reads the file at path. Any failure is reported as ErrCSVRead.
func ReadCSV(path string, parser TimeParser) (*RecordBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCSVRead, errors.Wrapf(err, "open %s", path))
	}
	defer f.Close()

	batch, err := ReadRecords(f, parser)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return batch, nil
}

// ReadRecords reads a header line followed by data rows from r. Rows may
// be shorter than the header; their absent fields count as missing.
func ReadRecords(r io.Reader, parser TimeParser) (*RecordBatch, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: no header line", ErrCSVRead)
	} else if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCSVRead, err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	batch := &RecordBatch{Header: header}
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCSVRead, err)
		}
		line, _ := reader.FieldPos(0)
		record := Record{Line: line, Fields: fields}
		if len(fields) > 0 && !isNullToken(fields[0]) {
			if ts, err := parser.Parse(fields[0]); err == nil {
				record.Timestamp, record.TimestampValid = ts, true
			}
		}
		batch.Records = append(batch.Records, record)
	}
	return batch, nil
}
