package syncer

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ripple/internal/changelog"
	"github.com/roach88/ripple/internal/clock"
	"github.com/roach88/ripple/internal/fault"
	"github.com/roach88/ripple/internal/record"
	"github.com/roach88/ripple/internal/sqlite"
	"github.com/roach88/ripple/internal/storage"
)

// countingBackend counts operations to assert bounded-work properties.
type countingBackend struct {
	inner     storage.Backend
	lists     atomic.Int64
	gets      atomic.Int64
	batchGets atomic.Int64
	puts      atomic.Int64
}

func (c *countingBackend) List(ctx context.Context, prefix string) ([]string, error) {
	c.lists.Add(1)
	return c.inner.List(ctx, prefix)
}

func (c *countingBackend) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	if strings.HasPrefix(key, "batches/") {
		c.batchGets.Add(1)
	}
	return c.inner.Get(ctx, key)
}

func (c *countingBackend) Put(ctx context.Context, key string, data []byte) error {
	c.puts.Add(1)
	return c.inner.Put(ctx, key, data)
}

func (c *countingBackend) Delete(ctx context.Context, key string) error {
	return c.inner.Delete(ctx, key)
}

// replica is a test double for the write path: it records the user write
// and the changelog entry in one transaction, the way the changelog writer
// does.
type replica struct {
	db  *sqlite.DB
	clk *clock.Clock
	id  string
}

func newReplica(t *testing.T) *replica {
	t.Helper()
	db, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background(), []string{
		`CREATE TABLE Todo (id TEXT PRIMARY KEY, text TEXT, done INTEGER, attachment BLOB)`,
	}))
	id, err := db.ReplicaID()
	require.NoError(t, err)
	return &replica{db: db, clk: clock.New(), id: id}
}

func (r *replica) saveTodo(t *testing.T, todoID string, fields []record.Field) changelog.Entry {
	t.Helper()
	id, err := r.clk.Next()
	require.NoError(t, err)
	entry := changelog.Entry{
		ID:         id,
		AuthorID:   r.id,
		EntityType: "Todo",
		EntityID:   todoID,
		Fields:     fields,
		Merged:     true,
	}
	err = r.db.WithWriteTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO Todo (id) VALUES (?)`, todoID); err != nil {
			return err
		}
		for _, f := range fields {
			if f.Name == "id" {
				continue
			}
			if _, err := tx.Exec(`UPDATE Todo SET "`+f.Name+`" = ? WHERE id = ?`, record.Native(f.Value), todoID); err != nil {
				return err
			}
		}
		return changelog.RecordTx(tx, entry)
	})
	require.NoError(t, err)
	return entry
}

func (r *replica) todos(t *testing.T) []map[string]any {
	t.Helper()
	res, err := r.db.Run(context.Background(), `SELECT id, text, done, attachment FROM Todo ORDER BY id`)
	require.NoError(t, err)
	return res.Maps()
}

func (r *replica) changeCount(t *testing.T) int64 {
	t.Helper()
	total, _, err := changelog.Counts(context.Background(), r.db)
	require.NoError(t, err)
	return total
}

func newSyncerPair(batched bool, backend storage.Backend) (*Syncer, *Syncer) {
	cfg := Config{Backend: backend, Batched: batched, RemoteID: "test-remote"}
	return New(cfg), New(cfg)
}

func testConvergence(t *testing.T, batched bool) {
	ctx := context.Background()
	backend := storage.NewMemory()
	syncA, syncB := newSyncerPair(batched, backend)

	a := newReplica(t)
	b := newReplica(t)

	a.saveTodo(t, "t1", []record.Field{
		{Name: "id", Value: record.Text("t1")},
		{Name: "text", Value: record.Text("hello")},
	})
	b.saveTodo(t, "t2", []record.Field{
		{Name: "id", Value: record.Text("t2")},
		{Name: "text", Value: record.Text("world")},
	})

	require.NoError(t, syncA.Sync(ctx, a.db, nil))
	require.NoError(t, syncB.Sync(ctx, b.db, nil))
	require.NoError(t, syncA.Sync(ctx, a.db, nil))

	assert.Equal(t, int64(2), a.changeCount(t))
	assert.Equal(t, int64(2), b.changeCount(t))
	assert.Equal(t, b.todos(t), a.todos(t), "user tables must converge")
	require.Len(t, a.todos(t), 2)
}

func TestSync_TwoReplicaConvergence_Basic(t *testing.T) {
	testConvergence(t, false)
}

func TestSync_TwoReplicaConvergence_Batched(t *testing.T) {
	testConvergence(t, true)
}

func testLWWConflict(t *testing.T, batched bool) {
	ctx := context.Background()
	backend := storage.NewMemory()
	syncA, syncB := newSyncerPair(batched, backend)

	a := newReplica(t)
	b := newReplica(t)

	// Seed both replicas with the same todo, then update independently.
	// The clock orders A's update before B's.
	a.saveTodo(t, "t1", []record.Field{{Name: "text", Value: record.Text("start")}})
	require.NoError(t, syncA.Sync(ctx, a.db, nil))
	require.NoError(t, syncB.Sync(ctx, b.db, nil))

	a.saveTodo(t, "t1", []record.Field{{Name: "text", Value: record.Text("A")}})
	// A later wall-clock millisecond guarantees B's change id orders after
	// A's even across independent clocks.
	time.Sleep(2 * time.Millisecond)
	b.saveTodo(t, "t1", []record.Field{{Name: "text", Value: record.Text("B")}})

	require.NoError(t, syncA.Sync(ctx, a.db, nil))
	require.NoError(t, syncB.Sync(ctx, b.db, nil))
	require.NoError(t, syncA.Sync(ctx, a.db, nil))

	for _, r := range []*replica{a, b} {
		res, err := r.db.Run(ctx, `SELECT text FROM Todo WHERE id = 't1'`)
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, "B", res.Rows[0][0], "later change id must win on both replicas")
	}
}

func TestSync_LWWConflict_Basic(t *testing.T) {
	testLWWConflict(t, false)
}

func TestSync_LWWConflict_Batched(t *testing.T) {
	testLWWConflict(t, true)
}

func TestSync_RepeatSyncUploadsNothing(t *testing.T) {
	ctx := context.Background()
	counting := &countingBackend{inner: storage.NewMemory()}
	cfg := Config{Backend: counting, Batched: true, RemoteID: "test-remote"}
	syncA, syncB := New(cfg), New(cfg)

	a := newReplica(t)
	b := newReplica(t)
	a.saveTodo(t, "t1", []record.Field{{Name: "text", Value: record.Text("hello")}})
	b.saveTodo(t, "t2", []record.Field{{Name: "text", Value: record.Text("world")}})

	require.NoError(t, syncA.Sync(ctx, a.db, nil))
	require.NoError(t, syncB.Sync(ctx, b.db, nil))
	require.NoError(t, syncA.Sync(ctx, a.db, nil))

	objects := counting.inner.(*storage.Memory).Len()
	puts := counting.puts.Load()
	batchGets := counting.batchGets.Load()

	for i := 0; i < 10; i++ {
		require.NoError(t, syncA.Sync(ctx, a.db, nil))
		require.NoError(t, syncB.Sync(ctx, b.db, nil))
	}

	assert.Equal(t, objects, counting.inner.(*storage.Memory).Len(), "object count must not grow")
	assert.Equal(t, puts, counting.puts.Load(), "no bytes may be uploaded by idle syncs")
	// Idle cycles may re-read manifests (O(#authors)) but never batches.
	assert.Equal(t, batchGets, counting.batchGets.Load(), "idle syncs must not fetch batches")
}

func TestSync_BinaryFidelityAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	syncA, syncB := newSyncerPair(true, backend)

	a := newReplica(t)
	b := newReplica(t)

	payload := make([]byte, 64<<10)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	a.saveTodo(t, "t1", []record.Field{{Name: "attachment", Value: record.Blob(payload)}})

	require.NoError(t, syncA.Sync(ctx, a.db, nil))
	require.NoError(t, syncB.Sync(ctx, b.db, nil))

	res, err := b.db.Run(ctx, `SELECT attachment FROM Todo WHERE id = 't1'`)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, payload, res.Rows[0][0])
}

func TestSync_EncryptedWrongPassphraseFailsAndLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	shared := storage.NewMemory()

	encA, err := storage.NewEncrypted(shared, "p1")
	require.NoError(t, err)
	encB, err := storage.NewEncrypted(shared, "p2")
	require.NoError(t, err)

	syncA := New(Config{Backend: encA, Batched: true, RemoteID: "r"})
	syncB := New(Config{Backend: encB, Batched: true, RemoteID: "r"})

	a := newReplica(t)
	b := newReplica(t)
	a.saveTodo(t, "t1", []record.Field{{Name: "text", Value: record.Text("secret")}})
	require.NoError(t, syncA.Sync(ctx, a.db, nil))

	before := b.changeCount(t)
	err = syncB.Sync(ctx, b.db, nil)
	require.Error(t, err)
	assert.Equal(t, fault.Crypto, fault.KindOf(err))
	assert.Equal(t, before, b.changeCount(t), "failed sync must not modify local state")
}

func TestSync_NotifiesTouchedTables(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	syncA, syncB := newSyncerPair(true, backend)

	a := newReplica(t)
	b := newReplica(t)
	a.saveTodo(t, "t1", []record.Field{{Name: "text", Value: record.Text("hello")}})

	require.NoError(t, syncA.Sync(ctx, a.db, nil))

	var notified [][]string
	require.NoError(t, syncB.Sync(ctx, b.db, func(tables []string) {
		notified = append(notified, tables)
	}))
	require.Len(t, notified, 1)
	assert.Equal(t, []string{"Todo"}, notified[0])

	// Nothing new: no notifications.
	notified = nil
	require.NoError(t, syncB.Sync(ctx, b.db, func(tables []string) {
		notified = append(notified, tables)
	}))
	assert.Empty(t, notified)
}

func TestSync_CancelledBeforeStart(t *testing.T) {
	backend := storage.NewMemory()
	syncA, _ := newSyncerPair(true, backend)

	a := newReplica(t)
	a.saveTodo(t, "t1", []record.Field{{Name: "text", Value: record.Text("hello")}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := syncA.Sync(ctx, a.db, nil)
	require.Error(t, err)
	assert.Equal(t, fault.Cancelled, fault.KindOf(err))
}

func TestSync_BasicFormatStoresOneObjectPerEntry(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	syncA, _ := newSyncerPair(false, store)

	a := newReplica(t)
	a.saveTodo(t, "t1", []record.Field{{Name: "text", Value: record.Text("one")}})
	a.saveTodo(t, "t1", []record.Field{{Name: "text", Value: record.Text("two")}})

	require.NoError(t, syncA.Sync(ctx, a.db, nil))
	assert.Equal(t, 2, store.Len(), "basic format stores one object per changelog entry")

	keys, err := store.List(ctx, "changes/")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
