// Package syncer drives convergence: pull every remote author's new
// entries into the local store, then push locally-authored entries the
// remote does not have yet.
//
// Both phases are independently resumable and the whole cycle is
// idempotent: entries are content-addressed by change id, so replaying any
// prefix of a sync is harmless. Cancellation is observed between entries
// and batches, never inside a single storage operation.
package syncer

import (
	"context"
	"log/slog"

	"github.com/roach88/ripple/internal/changelog"
	"github.com/roach88/ripple/internal/fault"
	"github.com/roach88/ripple/internal/sqlite"
	"github.com/roach88/ripple/internal/storage"
)

// applyChunkSize bounds how many pulled entries one merge transaction
// ingests, keeping write-lock hold times and memory flat during large
// pulls.
const applyChunkSize = 512

// batchFetchParallelism bounds concurrent batch downloads during a pull.
const batchFetchParallelism = 4

// Syncer synchronizes one local store with one remote changelog.
type Syncer struct {
	backend  storage.Backend
	batched  *changelog.Batched
	basic    *changelog.Basic
	remoteID string
}

// Config selects the remote layout.
type Config struct {
	// Backend is the (possibly encrypted) object store.
	Backend storage.Backend
	// Batched selects the manifests-over-batches format; otherwise one
	// object per entry.
	Batched bool
	// BatchCap overrides the batch size ceiling; 0 means the default.
	BatchCap int64
	// RemoteID names this remote in local metadata markers. Derive it from
	// the storage URL so distinct remotes track their own push state.
	RemoteID string
}

// New creates a Syncer.
func New(cfg Config) *Syncer {
	s := &Syncer{backend: cfg.Backend, remoteID: cfg.RemoteID}
	if cfg.Batched {
		s.batched = changelog.NewBatched(cfg.Backend, cfg.BatchCap)
	} else {
		s.basic = changelog.NewBasic(cfg.Backend)
	}
	return s
}

// Sync performs one pull-then-push cycle. Tables touched by merged foreign
// entries are reported through notify after each merge commit so reactive
// queries observe pulled data. A failed cycle leaves consistent state; the
// next call retries from the start.
func (s *Syncer) Sync(ctx context.Context, db *sqlite.DB, notify func(tables []string)) error {
	self, err := db.ReplicaID()
	if err != nil {
		return err
	}
	if err := checkCancelled(ctx, "sync"); err != nil {
		return err
	}
	slog.Debug("sync starting", "replica", self, "remote", s.remoteID)

	if err := s.pull(ctx, db, self, notify); err != nil {
		return err
	}
	if err := s.push(ctx, db, self); err != nil {
		return err
	}
	slog.Debug("sync finished", "replica", self, "remote", s.remoteID)
	return nil
}

func (s *Syncer) pull(ctx context.Context, db *sqlite.DB, self string, notify func(tables []string)) error {
	if s.batched != nil {
		return s.pullBatched(ctx, db, self, notify)
	}
	return s.pullBasic(ctx, db, notify)
}

func (s *Syncer) push(ctx context.Context, db *sqlite.DB, self string) error {
	if s.batched != nil {
		return s.pushBatched(ctx, db, self)
	}
	return s.pushBasic(ctx, db, self)
}

// apply merges entries in bounded chunks and fans out notifications after
// each committed chunk.
func (s *Syncer) apply(ctx context.Context, db *sqlite.DB, entries []changelog.Entry, notify func(tables []string)) error {
	changelog.SortByID(entries)
	for start := 0; start < len(entries); start += applyChunkSize {
		end := min(start+applyChunkSize, len(entries))
		touched, err := changelog.Apply(ctx, db, entries[start:end])
		if err != nil {
			return err
		}
		if len(touched) > 0 && notify != nil {
			notify(touched)
		}
	}
	return nil
}

func checkCancelled(ctx context.Context, phase string) error {
	if err := ctx.Err(); err != nil {
		return fault.Wrap(fault.Cancelled, err, "%s interrupted", phase)
	}
	return nil
}
