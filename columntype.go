package kustoingest

import (
	"fmt"
	"strings"
	"time"
)

const (
	typeDateTime = "datetime"
	typeString   = "string"
	typeLong     = "long"
	typeInt      = "int"
	typeReal     = "real"
	typeBool     = "bool"
	typeDynamic  = "dynamic"
	typeTimespan = "timespan"
	typeGUID     = "guid"
	typeDecimal  = "decimal"
)

// normalizeDataType maps the CLR type names of the v1 protocol onto the
// column type names of the store, e.g. "System.DateTime" to "datetime".
func normalizeDataType(dataType string) string {
	name := strings.ToLower(strings.TrimPrefix(dataType, "System."))
	switch name {
	case "datetime", "date":
		return typeDateTime
	case "string":
		return typeString
	case "int64", "long":
		return typeLong
	case "int32", "int":
		return typeInt
	case "double", "single", "real":
		return typeReal
	case "boolean", "sbyte", "bool":
		return typeBool
	case "object", "dynamic":
		return typeDynamic
	case "timespan":
		return typeTimespan
	case "guid":
		return typeGUID
	case "decimal", "data.sqltypes.sqldecimal":
		return typeDecimal
	default:
		return name
	}
}

// decodeTimestampCell decodes a single result cell of col into a point in
// time. A null cell decodes to the zero time and false.
func decodeTimestampCell(col DataColumn, cell interface{}, parser TimeParser) (time.Time, bool, error) {
	if cell == nil {
		return time.Time{}, false, nil
	}
	s, ok := cell.(string)
	if !ok {
		return time.Time{}, false, fmt.Errorf("column %s of type %s holds %T, not a timestamp", col.ColumnName, col.Type(), cell)
	}
	switch col.Type() {
	case typeDateTime:
		if s == "" {
			return time.Time{}, false, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("column %s: %w", col.ColumnName, err)
		}
		return t.UTC(), true, nil
	case typeString, "":
		if s == "" {
			return time.Time{}, false, nil
		}
		t, err := parser.Parse(s)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("column %s: %w", col.ColumnName, err)
		}
		return t, true, nil
	default:
		return time.Time{}, false, fmt.Errorf("column %s has type %s, expected datetime", col.ColumnName, col.Type())
	}
}
