package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

func scanInt64s(rows pgx.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
