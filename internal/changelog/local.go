package changelog

import (
	"context"
	"database/sql"
	"strings"

	"github.com/roach88/ripple/internal/clock"
	"github.com/roach88/ripple/internal/fault"
	"github.com/roach88/ripple/internal/record"
	"github.com/roach88/ripple/internal/sqlite"
)

func clockParse(id string) (clock.ID, error) {
	parsed, err := clock.Parse(id)
	if err != nil {
		return clock.ID{}, fault.Wrap(fault.Serialization, err, "parse change id")
	}
	return parsed, nil
}

// RecordTx appends one entry to the local changelog inside an open write
// transaction, atomically with the user write that produced it. Local
// entries are born merged: the same transaction already updated the user
// tables.
func RecordTx(tx *sql.Tx, e Entry) error {
	merged := 0
	if e.Merged {
		merged = 1
	}
	_, err := tx.Exec(
		`INSERT INTO ZV_CHANGE (id, author_id, entity_type, entity_id, merged) VALUES (?, ?, ?, ?, ?)`,
		e.ID.String(), e.AuthorID, e.EntityType, e.EntityID, merged)
	if err != nil {
		return fault.Wrap(fault.Engine, err, "insert change %s", e.ID)
	}
	for _, f := range e.Fields {
		blob, err := record.EncodeValue(f.Value)
		if err != nil {
			return fault.Wrap(fault.Serialization, err, "encode field %q of change %s", f.Name, e.ID)
		}
		_, err = tx.Exec(
			`INSERT INTO ZV_CHANGE_FIELD (change_id, field_name, field_value) VALUES (?, ?, ?)`,
			e.ID.String(), f.Name, blob)
		if err != nil {
			return fault.Wrap(fault.Engine, err, "insert field %q of change %s", f.Name, e.ID)
		}
	}
	return nil
}

// AllIDs returns the id of every known entry, local or foreign.
func AllIDs(ctx context.Context, db *sqlite.DB) (map[string]struct{}, error) {
	res, err := db.Run(ctx, `SELECT id FROM ZV_CHANGE`)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(res.Rows))
	for _, row := range res.Rows {
		ids[row[0].(string)] = struct{}{}
	}
	return ids, nil
}

// IDsByAuthor returns the ids of entries produced by one author.
func IDsByAuthor(ctx context.Context, db *sqlite.DB, author string) (map[string]struct{}, error) {
	res, err := db.Run(ctx, `SELECT id FROM ZV_CHANGE WHERE author_id = ?`, author)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(res.Rows))
	for _, row := range res.Rows {
		ids[row[0].(string)] = struct{}{}
	}
	return ids, nil
}

// EntriesByAuthor loads every entry by one author, ascending by id, with
// fields in insertion order. An afterID of "" loads from the beginning.
func EntriesByAuthor(ctx context.Context, db *sqlite.DB, author, afterID string) ([]Entry, error) {
	res, err := db.Run(ctx, `
		SELECT c.id, c.author_id, c.entity_type, c.entity_id, c.merged, f.field_name, f.field_value
		FROM ZV_CHANGE c
		LEFT JOIN ZV_CHANGE_FIELD f ON f.change_id = c.id
		WHERE c.author_id = ? AND c.id > ?
		ORDER BY c.id, f.rowid`, author, afterID)
	if err != nil {
		return nil, err
	}
	return entriesFromJoinedRows(res)
}

// EntriesByIDs loads specific entries, ascending by id. Missing ids are an
// integrity error: a caller asking for an id it saw referenced expects the
// entry to exist.
func EntriesByIDs(ctx context.Context, db *sqlite.DB, ids []string) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	params := make([]any, len(ids))
	for i, id := range ids {
		params[i] = id
	}
	res, err := db.Run(ctx, `
		SELECT c.id, c.author_id, c.entity_type, c.entity_id, c.merged, f.field_name, f.field_value
		FROM ZV_CHANGE c
		LEFT JOIN ZV_CHANGE_FIELD f ON f.change_id = c.id
		WHERE c.id IN (`+placeholders+`)
		ORDER BY c.id, f.rowid`, params...)
	if err != nil {
		return nil, err
	}
	entries, err := entriesFromJoinedRows(res)
	if err != nil {
		return nil, err
	}
	if len(entries) != len(ids) {
		return nil, fault.New(fault.Integrity, "%d of %d requested changes are missing locally", len(ids)-len(entries), len(ids))
	}
	return entries, nil
}

// Recent loads the newest entries, descending by id, for inspection.
func Recent(ctx context.Context, db *sqlite.DB, limit int) ([]Entry, error) {
	res, err := db.Run(ctx, `
		SELECT c.id, c.author_id, c.entity_type, c.entity_id, c.merged, f.field_name, f.field_value
		FROM ZV_CHANGE c
		LEFT JOIN ZV_CHANGE_FIELD f ON f.change_id = c.id
		WHERE c.id IN (SELECT id FROM ZV_CHANGE ORDER BY id DESC LIMIT ?)
		ORDER BY c.id DESC, f.rowid`, limit)
	if err != nil {
		return nil, err
	}
	return entriesFromJoinedRows(res)
}

// Counts reports the total number of entries and how many are not yet
// merged into user tables.
func Counts(ctx context.Context, db *sqlite.DB) (total, unmerged int64, err error) {
	res, err := db.Run(ctx, `SELECT COUNT(*), COUNT(*) - SUM(merged) FROM ZV_CHANGE`)
	if err != nil {
		return 0, 0, err
	}
	if len(res.Rows) == 1 {
		total = res.Rows[0][0].(int64)
		if v, ok := res.Rows[0][1].(int64); ok {
			unmerged = v
		}
	}
	return total, unmerged, nil
}

func entriesFromJoinedRows(res *sqlite.Result) ([]Entry, error) {
	var entries []Entry
	var cur *Entry
	for _, row := range res.Rows {
		id := row[0].(string)
		if cur == nil || cur.ID.String() != id {
			parsed, err := clockParse(id)
			if err != nil {
				return nil, err
			}
			entries = append(entries, Entry{
				ID:         parsed,
				AuthorID:   row[1].(string),
				EntityType: row[2].(string),
				EntityID:   row[3].(string),
				Merged:     row[4].(int64) != 0,
			})
			cur = &entries[len(entries)-1]
		}
		if row[5] == nil {
			continue // entry without fields
		}
		name := row[5].(string)
		var blob []byte
		if row[6] != nil {
			blob = row[6].([]byte)
		}
		value, err := record.DecodeValue(blob)
		if err != nil {
			return nil, fault.Wrap(fault.Serialization, err, "decode field %q of change %s", name, id)
		}
		cur.Fields = append(cur.Fields, record.Field{Name: name, Value: value})
	}
	return entries, nil
}
