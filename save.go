package ripple

import (
	"bytes"
	"context"
	"database/sql"
	"reflect"
	"strings"

	"github.com/roach88/ripple/internal/changelog"
	"github.com/roach88/ripple/internal/fault"
	"github.com/roach88/ripple/internal/record"
	"github.com/roach88/ripple/internal/sqlite"
)

// Save writes an entity and records its changes in one transaction. A
// missing key is assigned from the clock. Only fields whose serialized
// value differs from the stored row produce changelog entries; an update
// that changes nothing writes nothing and notifies nobody. The returned
// entity carries the assigned key.
//
// Save is the generic form; Db.Save accepts any entity.
func Save[T any](db *Db, entity T) (T, error) {
	saved, err := db.Save(&entity)
	if err != nil {
		var zero T
		return zero, err
	}
	return *(saved.(*T)), nil
}

// Save writes an entity passed by pointer or value and returns it (as a
// pointer when passed by pointer) with the key assigned.
func (db *Db) Save(entity any) (any, error) {
	var out any
	err := db.Transaction(func(tx *Tx) error {
		saved, err := tx.Save(entity)
		out = saved
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an entity's local row. Nothing is recorded in the
// changelog: rows are grow-only from the sync engine's point of view, and
// deletion is a local, user-layer concern. A row deleted here reappears if
// an entry mentioning it is merged later.
func (db *Db) Delete(entity any) error {
	return db.Transaction(func(tx *Tx) error {
		return tx.Delete(entity)
	})
}

// Tx is a scoped write transaction. Saves inside one transaction commit
// atomically and notify subscribers once.
type Tx struct {
	db      *Db
	tx      *sql.Tx
	touched map[string]struct{}
}

// Transaction runs fn inside one write transaction. On success the
// transaction commits and subscribers of every touched table are notified
// once; on error everything rolls back. Nesting transactions is forbidden.
func (db *Db) Transaction(fn func(tx *Tx) error) error {
	t := &Tx{db: db, touched: make(map[string]struct{})}
	err := db.exec.WithWriteTx(context.Background(), func(tx *sql.Tx) error {
		t.tx = tx
		return fn(t)
	})
	if err != nil {
		return err
	}
	if len(t.touched) > 0 {
		tables := make([]string, 0, len(t.touched))
		for table := range t.touched {
			tables = append(tables, table)
		}
		db.publish(tables)
	}
	return nil
}

// SaveIn saves a typed entity inside an open transaction.
func SaveIn[T any](tx *Tx, entity T) (T, error) {
	saved, err := tx.Save(&entity)
	if err != nil {
		var zero T
		return zero, err
	}
	return *(saved.(*T)), nil
}

// Save writes one entity inside the transaction. A value entity is
// returned by value; a pointer entity is updated in place and returned.
func (t *Tx) Save(entity any) (any, error) {
	ptr, wasValue := asPointer(entity)
	saved, err := t.save(ptr)
	if err != nil {
		return nil, err
	}
	if wasValue {
		return reflect.ValueOf(saved).Elem().Interface(), nil
	}
	return saved, nil
}

func (t *Tx) save(entity any) (any, error) {
	table, err := record.TableName(entity)
	if err != nil {
		return nil, fault.Wrap(fault.Config, err, "save")
	}
	if strings.HasPrefix(sqlite.FoldTable(table), "ZV_") {
		return nil, fault.New(fault.Config, "table %q is reserved", table)
	}
	fields, err := record.Fields(entity)
	if err != nil {
		return nil, fault.Wrap(fault.Config, err, "save %s", table)
	}
	keyColumn, err := record.KeyColumn(entity)
	if err != nil {
		return nil, fault.Wrap(fault.Config, err, "save %s", table)
	}
	key, err := record.Key(entity)
	if err != nil {
		return nil, fault.Wrap(fault.Config, err, "save %s", table)
	}

	if key == "" {
		id, err := t.db.clk.Next()
		if err != nil {
			return nil, fault.Wrap(fault.Engine, err, "assign key")
		}
		key = id.String()
		for i := range fields {
			if fields[i].Name == keyColumn {
				fields[i].Value = record.Text(key)
			}
		}
	}

	current, err := t.currentRow(table, keyColumn, key)
	if err != nil {
		return nil, err
	}

	changed := diffFields(current, fields)
	if current != nil && len(changed) == 0 {
		// No-op update: record nothing.
		return withKey(entity, key)
	}

	if err := t.upsertRow(table, fields); err != nil {
		return nil, err
	}

	changeID, err := t.db.clk.Next()
	if err != nil {
		return nil, fault.Wrap(fault.Engine, err, "allocate change id")
	}
	entry := changelog.Entry{
		ID:         changeID,
		AuthorID:   t.db.replicaID,
		EntityType: table,
		EntityID:   key,
		Fields:     changed,
		Merged:     true, // this transaction already wrote the user row
	}
	if err := changelog.RecordTx(t.tx, entry); err != nil {
		return nil, err
	}

	t.touched[table] = struct{}{}
	return withKey(entity, key)
}

// Delete removes one entity's row inside the transaction.
func (t *Tx) Delete(entity any) error {
	table, err := record.TableName(entity)
	if err != nil {
		return fault.Wrap(fault.Config, err, "delete")
	}
	keyColumn, err := record.KeyColumn(entity)
	if err != nil {
		return fault.Wrap(fault.Config, err, "delete %s", table)
	}
	key, err := record.Key(entity)
	if err != nil {
		return fault.Wrap(fault.Config, err, "delete %s", table)
	}
	if key == "" {
		return fault.New(fault.Config, "delete %s: entity has no key", table)
	}

	res, err := t.tx.Exec(`DELETE FROM `+quote(table)+` WHERE `+quote(keyColumn)+` = ?`, key)
	if err != nil {
		return fault.Wrap(fault.Engine, err, "delete %s/%s", table, key)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		t.touched[table] = struct{}{}
	}
	return nil
}

// currentRow loads the stored row as column→driver value, or nil when the
// row does not exist.
func (t *Tx) currentRow(table, keyColumn, key string) (map[string]any, error) {
	res, err := sqlite.RunTx(t.tx, `SELECT * FROM `+quote(table)+` WHERE `+quote(keyColumn)+` = ?`, key)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	return res.Maps()[0], nil
}

func (t *Tx) upsertRow(table string, fields []record.Field) error {
	columns := make([]string, len(fields))
	placeholders := make([]string, len(fields))
	params := make([]any, len(fields))
	for i, f := range fields {
		columns[i] = quote(f.Name)
		placeholders[i] = "?"
		params[i] = record.Native(f.Value)
	}
	query := `INSERT OR REPLACE INTO ` + quote(table) +
		` (` + strings.Join(columns, ", ") + `) VALUES (` + strings.Join(placeholders, ", ") + `)`
	if _, err := t.tx.Exec(query, params...); err != nil {
		return fault.Wrap(fault.Engine, err, "write row into %s", table)
	}
	return nil
}

// asPointer yields a settable pointer to the entity, copying value
// entities.
func asPointer(entity any) (ptr any, wasValue bool) {
	rv := reflect.ValueOf(entity)
	if rv.Kind() == reflect.Pointer {
		return entity, false
	}
	p := reflect.New(rv.Type())
	p.Elem().Set(rv)
	return p.Interface(), true
}

// diffFields selects the fields whose value differs from the stored row.
// For a new row every field is a change.
func diffFields(current map[string]any, fields []record.Field) []record.Field {
	if current == nil {
		return fields
	}
	var changed []record.Field
	for _, f := range fields {
		stored, ok := current[f.Name]
		if !ok || !valueEquals(stored, f.Value) {
			changed = append(changed, f)
		}
	}
	return changed
}

// valueEquals compares a driver value against a typed value, bridging the
// engine's affinity conversions (booleans stored as integers, text read
// back as bytes).
func valueEquals(stored any, next record.Value) bool {
	if stored == nil {
		_, isNull := next.(record.Null)
		return isNull
	}
	switch v := next.(type) {
	case record.Null:
		return stored == nil
	case record.Int:
		switch s := stored.(type) {
		case int64:
			return s == int64(v)
		case float64:
			return s == float64(v)
		}
	case record.Real:
		switch s := stored.(type) {
		case float64:
			return s == float64(v)
		case int64:
			return float64(s) == float64(v)
		}
	case record.Text:
		switch s := stored.(type) {
		case string:
			return s == string(v)
		case []byte:
			return string(s) == string(v)
		}
	case record.Blob:
		switch s := stored.(type) {
		case []byte:
			return bytes.Equal(s, v)
		case string:
			return s == string(v)
		}
	case record.Bool:
		switch s := stored.(type) {
		case bool:
			return s == bool(v)
		case int64:
			return (s != 0) == bool(v)
		}
	}
	return false
}

// withKey returns the entity with its key populated, preserving the
// caller's pointer-ness.
func withKey(entity any, key string) (any, error) {
	if err := record.SetKey(entity, key); err != nil {
		return nil, fault.Wrap(fault.Config, err, "set key")
	}
	return entity, nil
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
