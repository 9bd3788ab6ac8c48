package ripple

import (
	"context"

	"github.com/roach88/ripple/internal/record"
	"github.com/roach88/ripple/internal/sqlite"
)

// Query executes a read-only statement and decodes each row into T.
// Columns are matched to struct fields by name (db tag or snake_case);
// extra columns are ignored.
func Query[T any](db *Db, query string, params ...any) ([]T, error) {
	res, err := db.exec.Run(context.Background(), query, params...)
	if err != nil {
		return nil, err
	}
	return decodeRows[T](res)
}

func decodeRows[T any](res *sqlite.Result) ([]T, error) {
	out := make([]T, 0, len(res.Rows))
	for _, row := range res.Maps() {
		var item T
		if err := record.Scan(&item, row); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
