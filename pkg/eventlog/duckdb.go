package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/logflow/waitlens/internal/model"
)

// LoadDuckDB reads any file DuckDB can scan (Parquet, JSON, CSV) through an
// in-memory database and feeds the rows to the common row builder.
func LoadDuckDB(ctx context.Context, path string, cfg Config) (*model.Log, *LoadReport, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	query := fmt.Sprintf(`SELECT * FROM %s('%s')`, scanFunction(path), escapePath(path))
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("duckdb scan: %w", err)
	}
	defer rows.Close()

	header, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	b, err := newRowBuilder(cfg, header, FormatDuckDB)
	if err != nil {
		return nil, nil, err
	}

	log := &model.Log{}
	values := make([]any, len(header))
	ptrs := make([]any, len(header))
	for i := range values {
		ptrs[i] = &values[i]
	}
	cols := make([]string, len(header))
	line := 1
	for rows.Next() {
		line++
		if err := rows.Scan(ptrs...); err != nil {
			b.rep.Rows++
			b.rep.reject(line, err.Error())
			continue
		}
		for i, v := range values {
			cols[i] = formatValue(v)
		}
		if ev, ok := b.build(line, cols); ok {
			log.Events = append(log.Events, ev)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, b.rep, err
	}
	return log, b.rep, nil
}

func scanFunction(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".pq":
		return "read_parquet"
	case ".json", ".jsonl", ".ndjson":
		return "read_json_auto"
	default:
		return "read_csv_auto"
	}
}

func escapePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}

// formatValue renders a scanned value so the row builder can re-infer its
// type.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
