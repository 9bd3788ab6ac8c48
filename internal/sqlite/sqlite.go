// Package sqlite is the executor over the embedded engine: pooled
// connections with a read-parallel/write-serial discipline, scoped write
// transactions, typed row decoding, and the reserved ZV_* schema.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/ripple/internal/fault"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the embedded engine with one writer connection and a pool of
// reader connections. SQLite permits a single writer; serializing writers
// above the driver avoids SQLITE_BUSY churn, and WAL mode lets readers
// proceed during a write.
type DB struct {
	writer *sql.DB
	reader *sql.DB

	// writeMu serializes write transactions. Re-entrant acquisition from
	// inside an open write transaction deadlocks and is forbidden.
	writeMu sync.Mutex
}

// Open creates or opens a database file.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	return open(dsn)
}

// OpenMemory opens a fresh private in-memory database. A shared cache keyed
// by a unique name lets the writer and reader pools observe one database.
func OpenMemory() (*DB, error) {
	dsn := fmt.Sprintf("file:ripple-%s?mode=memory&cache=shared&_busy_timeout=5000&_foreign_keys=on", uuid.NewString())
	return open(dsn)
}

func open(dsn string) (*DB, error) {
	writer, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fault.Wrap(fault.Engine, err, "open database")
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	reader, err := sql.Open("sqlite3", dsn)
	if err != nil {
		writer.Close()
		return nil, fault.Wrap(fault.Engine, err, "open database")
	}
	reader.SetMaxOpenConns(4)

	if err := writer.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fault.Wrap(fault.Engine, err, "connect to database")
	}

	db := &DB{writer: writer, reader: reader}
	if err := db.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases both connection pools.
func (db *DB) Close() error {
	werr := db.writer.Close()
	rerr := db.reader.Close()
	if werr != nil {
		return fault.Wrap(fault.Engine, werr, "close database")
	}
	if rerr != nil {
		return fault.Wrap(fault.Engine, rerr, "close database")
	}
	return nil
}

func (db *DB) ensureSchema() error {
	if _, err := db.writer.Exec(schemaSQL); err != nil {
		return fault.Wrap(fault.Engine, err, "create reserved schema")
	}
	// Assign the replica identity on first open.
	_, err := db.writer.Exec(
		`INSERT OR IGNORE INTO ZV_METADATA (key, value) VALUES ('replica_id', ?)`,
		uuid.NewString())
	if err != nil {
		return fault.Wrap(fault.Engine, err, "assign replica id")
	}
	return nil
}

// ReplicaID returns the persistent identity assigned on first open. It
// doubles as the author id for every change this replica produces.
func (db *DB) ReplicaID() (string, error) {
	id, err := db.GetMeta(context.Background(), "replica_id")
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fault.New(fault.Engine, "replica_id missing from metadata")
	}
	return id, nil
}

// GetMeta reads a metadata value, returning "" when the key is absent.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.reader.QueryRowContext(ctx, `SELECT value FROM ZV_METADATA WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fault.Wrap(fault.Engine, err, "read metadata %q", key)
	}
	return value, nil
}

// SetMeta writes a metadata value in its own write transaction.
func (db *DB) SetMeta(ctx context.Context, key, value string) error {
	return db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		return SetMetaTx(tx, key, value)
	})
}

// SetMetaTx writes a metadata value inside an open write transaction.
func SetMetaTx(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(
		`INSERT INTO ZV_METADATA (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fault.Wrap(fault.Engine, err, "write metadata %q", key)
	}
	return nil
}

// Migrate applies user DDL statements in order. Statements already applied
// (tracked by a step counter in metadata) are skipped, so re-running the
// full list is idempotent. Reserved ZV_* tables exist before any user DDL.
func (db *DB) Migrate(ctx context.Context, stmts []string) error {
	applied := 0
	if raw, err := db.GetMeta(ctx, "schema_step"); err != nil {
		return err
	} else if raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &applied); err != nil {
			return fault.New(fault.Engine, "corrupt schema_step %q", raw)
		}
	}
	if applied > len(stmts) {
		return fault.New(fault.Engine, "database is at migration step %d but only %d statements were provided", applied, len(stmts))
	}

	for i := applied; i < len(stmts); i++ {
		stmt := stmts[i]
		err := db.WithWriteTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.Exec(stmt); err != nil {
				return fault.Wrap(fault.Engine, err, "migration step %d", i+1)
			}
			return SetMetaTx(tx, "schema_step", fmt.Sprintf("%d", i+1))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// WithWriteTx runs fn inside the single write transaction. The transaction
// commits when fn returns nil and rolls back on any error or panic.
// Re-entrant use is forbidden.
func (db *DB) WithWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.writer.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(fault.Engine, err, "begin write transaction")
	}
	defer tx.Rollback() // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fault.Wrap(fault.Engine, err, "commit write transaction")
	}
	return nil
}

// Result is a decoded result set. Column order follows the query.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Maps converts the result set to one map per row.
func (r *Result) Maps() []map[string]any {
	out := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for j, col := range r.Columns {
			m[col] = row[j]
		}
		out[i] = m
	}
	return out
}

// Run executes a read-only statement on the reader pool.
func (db *DB) Run(ctx context.Context, query string, params ...any) (*Result, error) {
	rows, err := db.reader.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fault.Wrap(fault.Engine, err, "run query")
	}
	defer rows.Close()
	return decodeRows(rows)
}

// RunTx executes a statement inside an open transaction and decodes the
// result set.
func RunTx(tx *sql.Tx, query string, params ...any) (*Result, error) {
	rows, err := tx.Query(query, params...)
	if err != nil {
		return nil, fault.Wrap(fault.Engine, err, "run query")
	}
	defer rows.Close()
	return decodeRows(rows)
}

func decodeRows(rows *sql.Rows) (*Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fault.Wrap(fault.Engine, err, "read columns")
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		cells := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fault.Wrap(fault.Engine, err, "scan row")
		}
		result.Rows = append(result.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.Engine, err, "iterate rows")
	}
	return result, nil
}
