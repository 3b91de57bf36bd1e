package kustoingest

import (
	"bytes"
	"encoding/csv"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// encodedBatch is the wire form of a record batch.
type encodedBatch struct {
	body    []byte
	rows    int
	gzipped bool
}

// encodeBatch renders batch as headerless CSV, the timestamp column
// rewritten as RFC 3339 UTC and other fields verbatim. With compress the
// output is gzip framed.
func encodeBatch(batch *RecordBatch, compress bool) (*encodedBatch, error) {
	buf := new(bytes.Buffer)
	var (
		w  io.Writer = buf
		gz *gzip.Writer
	)
	if compress {
		gz = gzip.NewWriter(buf)
		w = gz
	}

	writer := csv.NewWriter(w)
	lineData := make([]string, 0, len(batch.Header))
	for _, r := range batch.Records {
		lineData = lineData[:0]
		lineData = append(lineData, formatTimestamp(r.Timestamp))
		if len(r.Fields) > 1 {
			lineData = append(lineData, r.Fields[1:]...)
		}
		if err := writer.Write(lineData); err != nil {
			return nil, errors.Wrapf(err, "encode line %d", r.Line)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, errors.Wrap(err, "flush csv writer failed")
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return nil, errors.Wrap(err, "close gzip writer failed")
		}
	}
	return &encodedBatch{body: buf.Bytes(), rows: len(batch.Records), gzipped: compress}, nil
}
