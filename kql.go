package kustoingest

import (
	"fmt"
	"strings"
)

var escaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func escape(s string) string {
	return escaper.Replace(s)
}

// quoteIdent renders name as a bracketed identifier so that table and
// column names containing spaces or keywords survive in a query.
func quoteIdent(name string) string {
	return "['" + escape(name) + "']"
}

// watermarkQuery returns the query selecting the latest value of column.
func watermarkQuery(table, column string) string {
	col := quoteIdent(column)
	return fmt.Sprintf("%s | order by %s desc | take 1 | project %s", quoteIdent(table), col, col)
}
