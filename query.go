package kustoingest

import (
	"fmt"
	"time"
)

type QueryRequest struct {
	DB         string             `json:"db"`
	CSL        string             `json:"csl"`
	Properties *RequestProperties `json:"properties,omitempty"`
}

type RequestProperties struct {
	Options map[string]interface{} `json:"Options,omitempty"`
}

type DataColumn struct {
	ColumnName string `json:"ColumnName"`
	DataType   string `json:"DataType,omitempty"`
	ColumnType string `json:"ColumnType,omitempty"`
}

// Type returns the store-side type name of the column in lower case,
// e.g. "datetime" or "string".
func (c DataColumn) Type() string {
	if c.ColumnType != "" {
		return c.ColumnType
	}
	return normalizeDataType(c.DataType)
}

type DataTable struct {
	TableName string          `json:"TableName"`
	Columns   []DataColumn    `json:"Columns"`
	Rows      [][]interface{} `json:"Rows"`
}

// ColumnIndex returns the position of the named column, case-sensitively.
func (t DataTable) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.ColumnName == name {
			return i
		}
	}
	return -1
}

type QueryResponse struct {
	Tables []DataTable `json:"Tables"`
}

// PrimaryResult returns the first table of the response, which holds the
// rows produced by the query.
func (r *QueryResponse) PrimaryResult() (*DataTable, error) {
	if r == nil || len(r.Tables) == 0 {
		return nil, fmt.Errorf("query response carries no tables")
	}
	return &r.Tables[0], nil
}

// IngestionResult acknowledges a push. Acknowledged is the row count
// reported by the store, -1 when the store does not report one.
type IngestionResult struct {
	RequestID    string        `json:"request_id" yaml:"request_id"`
	Database     string        `json:"database" yaml:"database"`
	Table        string        `json:"table" yaml:"table"`
	Format       string        `json:"format" yaml:"format"`
	Rows         int           `json:"rows" yaml:"rows"`
	Acknowledged int64         `json:"acknowledged" yaml:"acknowledged"`
	Bytes        int64         `json:"bytes" yaml:"bytes"`
	ExtentID     string        `json:"extent_id,omitempty" yaml:"extent_id,omitempty"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	Skipped      bool          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}
