package changelog

import (
	"context"
	"database/sql"
	"strings"

	"github.com/roach88/ripple/internal/fault"
	"github.com/roach88/ripple/internal/record"
	"github.com/roach88/ripple/internal/sqlite"
)

// Apply merges a batch of foreign entries into the local store inside one
// write transaction and returns the user tables it touched.
//
// For every field of every new entry, the field's value lands in the user
// row only if the entry carries the greatest change id seen so far for that
// (entity_type, entity_id, field_name). Rows are created on demand with
// just the winning fields; other columns keep their defaults. Re-applying
// an already-known entry is a no-op, so merging is idempotent.
func Apply(ctx context.Context, db *sqlite.DB, entries []Entry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.Cancelled, err, "merge interrupted")
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	SortByID(sorted)

	touched := make(map[string]string) // folded name -> entity_type as written
	err := db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		keyColumns := make(map[string]string)
		for _, e := range sorted {
			if err := ctx.Err(); err != nil {
				return fault.Wrap(fault.Cancelled, err, "merge interrupted")
			}
			inserted, err := applyOne(tx, e, keyColumns)
			if err != nil {
				return err
			}
			if inserted {
				touched[sqlite.FoldTable(e.EntityType)] = e.EntityType
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	tables := make([]string, 0, len(touched))
	for _, name := range touched {
		tables = append(tables, name)
	}
	return tables, nil
}

func applyOne(tx *sql.Tx, e Entry, keyColumns map[string]string) (bool, error) {
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO ZV_CHANGE (id, author_id, entity_type, entity_id, merged) VALUES (?, ?, ?, ?, 0)`,
		e.ID.String(), e.AuthorID, e.EntityType, e.EntityID)
	if err != nil {
		return false, fault.Wrap(fault.Engine, err, "insert change %s", e.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fault.Wrap(fault.Engine, err, "insert change %s", e.ID)
	}
	if n == 0 {
		return false, nil // duplicate: already ingested
	}

	keyColumn, ok := keyColumns[e.EntityType]
	if !ok {
		keyColumn, err = keyColumnOf(tx, e.EntityType)
		if err != nil {
			return false, err
		}
		keyColumns[e.EntityType] = keyColumn
	}

	// Create the row if this is the first entry to mention the entity.
	_, err = tx.Exec(
		`INSERT OR IGNORE INTO `+quoteIdent(e.EntityType)+` (`+quoteIdent(keyColumn)+`) VALUES (?)`,
		e.EntityID)
	if err != nil {
		return false, fault.Wrap(fault.Engine, err, "create row %s/%s", e.EntityType, e.EntityID)
	}

	for _, f := range e.Fields {
		blob, err := record.EncodeValue(f.Value)
		if err != nil {
			return false, fault.Wrap(fault.Serialization, err, "encode field %q of change %s", f.Name, e.ID)
		}
		_, err = tx.Exec(
			`INSERT OR IGNORE INTO ZV_CHANGE_FIELD (change_id, field_name, field_value) VALUES (?, ?, ?)`,
			e.ID.String(), f.Name, blob)
		if err != nil {
			return false, fault.Wrap(fault.Engine, err, "insert field %q of change %s", f.Name, e.ID)
		}

		wins, err := fieldWins(tx, e, f.Name)
		if err != nil {
			return false, err
		}
		if !wins || f.Name == keyColumn {
			continue
		}
		_, err = tx.Exec(
			`UPDATE `+quoteIdent(e.EntityType)+` SET `+quoteIdent(f.Name)+` = ? WHERE `+quoteIdent(keyColumn)+` = ?`,
			record.Native(f.Value), e.EntityID)
		if err != nil {
			return false, fault.Wrap(fault.Engine, err, "apply field %q to %s/%s", f.Name, e.EntityType, e.EntityID)
		}
	}

	_, err = tx.Exec(`UPDATE ZV_CHANGE SET merged = 1 WHERE id = ?`, e.ID.String())
	if err != nil {
		return false, fault.Wrap(fault.Engine, err, "mark change %s merged", e.ID)
	}
	return true, nil
}

// fieldWins reports whether e carries the greatest change id among all
// known entries touching (entity_type, entity_id, field_name). The entry's
// own row is already inserted, so the maximum is at least e.ID.
func fieldWins(tx *sql.Tx, e Entry, fieldName string) (bool, error) {
	var maxID string
	err := tx.QueryRow(`
		SELECT MAX(c.id) FROM ZV_CHANGE c
		JOIN ZV_CHANGE_FIELD f ON f.change_id = c.id
		WHERE c.entity_type = ? AND c.entity_id = ? AND f.field_name = ?`,
		e.EntityType, e.EntityID, fieldName).Scan(&maxID)
	if err != nil {
		return false, fault.Wrap(fault.Engine, err, "resolve winner for %s/%s.%s", e.EntityType, e.EntityID, fieldName)
	}
	return maxID == e.ID.String(), nil
}

// keyColumnOf finds the entity table's string primary key column, "id" or
// "key".
func keyColumnOf(tx *sql.Tx, table string) (string, error) {
	rows, err := tx.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return "", fault.Wrap(fault.Engine, err, "inspect table %q", table)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fault.Wrap(fault.Engine, err, "inspect table %q", table)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return "", fault.Wrap(fault.Engine, err, "inspect table %q", table)
	}
	if len(columns) == 0 {
		return "", fault.New(fault.Engine, "entity table %q does not exist; migrate before syncing", table)
	}
	for _, name := range columns {
		if strings.EqualFold(name, "id") || strings.EqualFold(name, "key") {
			return name, nil
		}
	}
	return "", fault.New(fault.Engine, "entity table %q has no id or key column", table)
}

// quoteIdent quotes an identifier that originates from remote data.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
