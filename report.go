package kustoingest

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// CheckOutputFormat reports whether format is accepted by WriteReport and
// WriteWatermark.
func CheckOutputFormat(format string) error {
	switch strings.ToLower(format) {
	case OutputText, OutputJSON, OutputYAML, "":
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

type reportDocument struct {
	RunID     string             `json:"run_id" yaml:"run_id"`
	CSV       string             `json:"csv" yaml:"csv"`
	Database  string             `json:"database" yaml:"database"`
	Table     string             `json:"table" yaml:"table"`
	Watermark string             `json:"watermark" yaml:"watermark"`
	Rows      FilterStats        `json:"rows" yaml:"rows"`
	DryRun    bool               `json:"dry_run" yaml:"dry_run"`
	Ingestion *ingestionDocument `json:"ingestion" yaml:"ingestion"`
	Elapsed   string             `json:"elapsed" yaml:"elapsed"`
}

type ingestionDocument struct {
	RequestID    string `json:"request_id" yaml:"request_id"`
	Format       string `json:"format" yaml:"format"`
	Rows         int    `json:"rows" yaml:"rows"`
	Acknowledged int64  `json:"acknowledged" yaml:"acknowledged"`
	Bytes        int64  `json:"bytes" yaml:"bytes"`
	ExtentID     string `json:"extent_id,omitempty" yaml:"extent_id,omitempty"`
	Skipped      bool   `json:"skipped" yaml:"skipped"`
	Duration     string `json:"duration" yaml:"duration"`
}

func newReportDocument(r *Report) *reportDocument {
	if r == nil {
		return nil
	}
	doc := &reportDocument{
		RunID:     r.RunID,
		CSV:       r.CSV,
		Database:  r.Database,
		Table:     r.Table,
		Watermark: r.Watermark.String(),
		Rows:      r.Rows,
		DryRun:    r.DryRun,
		Elapsed:   r.Elapsed.String(),
	}
	if r.Ingestion != nil {
		doc.Ingestion = &ingestionDocument{
			RequestID:    r.Ingestion.RequestID,
			Format:       r.Ingestion.Format,
			Rows:         r.Ingestion.Rows,
			Acknowledged: r.Ingestion.Acknowledged,
			Bytes:        r.Ingestion.Bytes,
			ExtentID:     r.Ingestion.ExtentID,
			Skipped:      r.Ingestion.Skipped,
			Duration:     r.Ingestion.Duration.String(),
		}
	}
	return doc
}

// WriteReport renders r to w in the given output format. A nil report
// renders as "None" in text form and null otherwise.
func WriteReport(w io.Writer, r *Report, format string) error {
	doc := newReportDocument(r)
	switch strings.ToLower(format) {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case OutputText, "":
		return writeTextReport(w, doc)
	default:
		return CheckOutputFormat(format)
	}
}

func writeTextReport(w io.Writer, doc *reportDocument) error {
	if doc == nil {
		_, err := fmt.Fprintln(w, "None")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", doc.RunID)
	fmt.Fprintf(tw, "csv\t%s\n", doc.CSV)
	fmt.Fprintf(tw, "target\t%s.%s\n", doc.Database, doc.Table)
	fmt.Fprintf(tw, "watermark\t%s\n", doc.Watermark)
	fmt.Fprintf(tw, "rows read\t%d\n", doc.Rows.Read)
	fmt.Fprintf(tw, "rows not after watermark\t%d\n", doc.Rows.NotAfterWatermark)
	fmt.Fprintf(tw, "rows missing values\t%d\n", doc.Rows.Missing)
	fmt.Fprintf(tw, "rows kept\t%d\n", doc.Rows.Kept)
	switch {
	case doc.DryRun:
		fmt.Fprintf(tw, "push\tdry run\n")
	case doc.Ingestion == nil:
		fmt.Fprintf(tw, "push\tfailed\n")
	case doc.Ingestion.Skipped:
		fmt.Fprintf(tw, "push\tskipped, no new rows\n")
	default:
		fmt.Fprintf(tw, "push\t%d rows, %d bytes, request %s\n", doc.Ingestion.Rows, doc.Ingestion.Bytes, doc.Ingestion.RequestID)
		if doc.Ingestion.Acknowledged >= 0 {
			fmt.Fprintf(tw, "acknowledged\t%d rows\n", doc.Ingestion.Acknowledged)
		}
	}
	fmt.Fprintf(tw, "elapsed\t%s\n", doc.Elapsed)
	return tw.Flush()
}

// WriteWatermark renders wm alone, for the watermark command.
func WriteWatermark(w io.Writer, wm Watermark, format string) error {
	doc := map[string]string{"watermark": wm.String()}
	switch strings.ToLower(format) {
	case OutputJSON:
		return json.NewEncoder(w).Encode(doc)
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case OutputText, "":
		_, err := fmt.Fprintln(w, wm.String())
		return err
	default:
		return CheckOutputFormat(format)
	}
}
