// Package ripple is a local-first reactive data store. It embeds SQLite,
// records every write into an append-only changelog whose entries are
// globally orderable across replicas, re-runs subscribed queries when their
// tables change, and converges replicas through a shared object store
// under a last-write-wins discipline.
package ripple

import (
	"context"

	"github.com/roach88/ripple/internal/clock"
	"github.com/roach88/ripple/internal/reactive"
	"github.com/roach88/ripple/internal/sqlite"
)

// Db is one replica: an embedded database plus its changelog, clock, and
// subscription broker. Db is safe for concurrent use.
type Db struct {
	exec      *sqlite.DB
	clk       *clock.Clock
	broker    *reactive.Broker
	replicaID string
}

// Open creates or opens a database file. A replica identity is assigned on
// first open and persists for the life of the file.
func Open(path string) (*Db, error) {
	exec, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	return newDb(exec)
}

// OpenMemory opens a fresh in-memory replica, mainly for tests and
// examples.
func OpenMemory() (*Db, error) {
	exec, err := sqlite.OpenMemory()
	if err != nil {
		return nil, err
	}
	return newDb(exec)
}

func newDb(exec *sqlite.DB) (*Db, error) {
	replicaID, err := exec.ReplicaID()
	if err != nil {
		exec.Close()
		return nil, err
	}
	return &Db{
		exec:      exec,
		clk:       clock.New(),
		broker:    reactive.NewBroker(),
		replicaID: replicaID,
	}, nil
}

// Close terminates subscriptions and releases the database.
func (db *Db) Close() error {
	db.broker.Close()
	return db.exec.Close()
}

// ReplicaID returns this replica's persistent identity. It is the author id
// on every change the replica produces.
func (db *Db) ReplicaID() string {
	return db.replicaID
}

// Migrate applies user DDL statements in order, skipping those already
// applied. Reserved ZV_* tables exist before any user statement runs.
// Identifiers beginning with ZV_ must not appear in user DDL.
func (db *Db) Migrate(stmts []string) error {
	return db.exec.Migrate(context.Background(), stmts)
}

// publish fans out committed writes to the subscription broker. Table
// names are folded so they match dependency sets extracted from query
// plans.
func (db *Db) publish(tables []string) {
	folded := make([]string, len(tables))
	for i, t := range tables {
		folded[i] = sqlite.FoldTable(t)
	}
	db.broker.Publish(folded)
}
