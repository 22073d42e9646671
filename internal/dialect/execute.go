package dialect

import (
	"context"
	"strings"
)

// Result is the normalized outcome of a statement. Rows is populated for
// statements that return rows; RowCount is the row count for those and the
// affected-row count for everything else.
type Result struct {
	Rows     []map[string]any
	RowCount int64
}

// Execute runs query with params on q and normalizes the driver result.
// Driver errors are returned as-is so callers can inspect native codes.
func Execute(ctx context.Context, q Querier, query string, params ...any) (Result, error) {
	if !returnsRows(query) {
		res, err := q.ExecContext(ctx, query, params...)
		if err != nil {
			return Result{}, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return Result{}, err
		}
		return Result{RowCount: n}, nil
	}

	rows, err := q.QueryxContext(ctx, query, params...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	var out Result
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return Result{}, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	out.RowCount = int64(len(out.Rows))
	return out, nil
}

// returnsRows reports whether query produces a result set.
func returnsRows(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, kw := range []string{"SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "VALUES"} {
		if strings.HasPrefix(q, kw) {
			return true
		}
	}
	return strings.Contains(q, " RETURNING ")
}
