// Package export writes query result tables to Parquet, CSV or JSON files
// through an in-memory DuckDB database.
package export

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/duckdb/duckdb-go/v2"

	"statflow/internal/domain"
)

// Format is an output file format.
type Format string

// Supported formats.
const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"   // one JSON array
	FormatNDJSON  Format = "ndjson" // one object per line
)

const tableName = "result"

// FormatForPath picks the format from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return FormatParquet, nil
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".ndjson", ".jsonl":
		return FormatNDJSON, nil
	}
	return "", domain.ErrValidation("cannot infer export format from %q: use .parquet, .csv, .json or .ndjson", path)
}

// WriteFile writes t to path in the format named by its extension and returns
// the number of rows written.
func WriteFile(ctx context.Context, t *domain.Table, path string) (int, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return 0, err
	}
	if t == nil || len(t.Columns) == 0 {
		return 0, domain.ErrValidation("nothing to export")
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return 0, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire duckdb conn: %w", err)
	}
	defer func() { _ = conn.Close() }()

	types := columnTypes(t)
	if _, err := conn.ExecContext(ctx, createTableSQL(t.Columns, types)); err != nil {
		return 0, fmt.Errorf("create export table: %w", err)
	}

	err = conn.Raw(func(raw any) error {
		driverConn, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected raw conn type %T", raw)
		}
		app, err := duckdb.NewAppenderFromConn(driverConn, "", tableName)
		if err != nil {
			return fmt.Errorf("create appender: %w", err)
		}
		defer func() { _ = app.Close() }()

		vals := make([]driver.Value, len(t.Columns))
		for i, row := range t.Rows {
			for j := range vals {
				vals[j] = nil
				if j < len(row) {
					vals[j] = cellValue(row[j], types[j])
				}
			}
			if err := app.AppendRow(vals...); err != nil {
				return fmt.Errorf("append row %d: %w", i, err)
			}
		}
		return app.Flush()
	})
	if err != nil {
		return 0, err
	}

	if _, err := conn.ExecContext(ctx, copySQL(path, format)); err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	return len(t.Rows), nil
}

// columnTypes returns DOUBLE for columns holding only numbers and nulls,
// VARCHAR otherwise.
func columnTypes(t *domain.Table) []string {
	types := make([]string, len(t.Columns))
	for j := range t.Columns {
		numeric, seen := true, false
		for _, row := range t.Rows {
			if j >= len(row) || row[j] == nil {
				continue
			}
			seen = true
			if _, ok := row[j].(float64); !ok {
				numeric = false
				break
			}
		}
		if numeric && seen {
			types[j] = "DOUBLE"
		} else {
			types[j] = "VARCHAR"
		}
	}
	return types
}

func cellValue(v any, typ string) driver.Value {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if typ == "DOUBLE" {
			return x
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func createTableSQL(cols, types []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE " + tableName + " (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(c) + " " + types[i])
	}
	b.WriteString(")")
	return b.String()
}

func copySQL(path string, format Format) string {
	var opts string
	switch format {
	case FormatParquet:
		opts = "FORMAT parquet, COMPRESSION zstd"
	case FormatCSV:
		opts = "FORMAT csv, HEADER"
	case FormatJSON:
		opts = "FORMAT json, ARRAY true"
	case FormatNDJSON:
		opts = "FORMAT json"
	}
	return fmt.Sprintf("COPY %s TO %s (%s)", tableName, quoteLiteral(path), opts)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
