package sqlite

import (
	"context"
	"strings"

	"github.com/roach88/ripple/internal/fault"
)

// Dependencies returns the set of user tables a read-only query touches,
// derived from the engine's EXPLAIN QUERY PLAN output. Table names are
// folded to upper case, matching the engine's case-insensitive identifier
// rules; reserved ZV_* tables are excluded.
func (db *DB) Dependencies(ctx context.Context, query string, params ...any) (map[string]struct{}, error) {
	rows, err := db.reader.QueryContext(ctx, "EXPLAIN QUERY PLAN "+query, params...)
	if err != nil {
		return nil, fault.Wrap(fault.Engine, err, "explain query")
	}
	defer rows.Close()

	tables := make(map[string]struct{})
	for rows.Next() {
		// Plan rows are (id, parent, notused, detail).
		var id, parent, notused int
		var detail string
		if err := rows.Scan(&id, &parent, &notused, &detail); err != nil {
			return nil, fault.Wrap(fault.Engine, err, "scan plan row")
		}
		if name, ok := tableFromPlanDetail(detail); ok && !strings.HasPrefix(name, "ZV_") {
			tables[name] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.Engine, err, "iterate plan rows")
	}
	return tables, nil
}

// FoldTable canonicalizes a table name the same way Dependencies does, so
// dependency sets and notification sets compare correctly.
func FoldTable(name string) string {
	return strings.ToUpper(name)
}

// tableFromPlanDetail extracts a table name from one plan detail line.
// Detail formats vary across engine versions:
//
//	SCAN Track
//	SCAN TABLE Track
//	SEARCH Track USING INDEX ...
//	SEARCH TABLE Track USING COVERING INDEX ...
func tableFromPlanDetail(detail string) (string, bool) {
	upper := strings.ToUpper(detail)
	for _, prefix := range []string{"SCAN TABLE ", "SEARCH TABLE ", "SCAN ", "SEARCH "} {
		if rest, ok := strings.CutPrefix(upper, prefix); ok {
			name, _, _ := strings.Cut(rest, " ")
			if name == "" || name == "SUBQUERY" || name == "CONSTANT" || strings.HasPrefix(name, "(") {
				return "", false
			}
			return name, true
		}
	}
	return "", false
}
