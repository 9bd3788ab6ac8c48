package ripple

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"

	"github.com/roach88/ripple/internal/fault"
	"github.com/roach88/ripple/internal/storage"
	"github.com/roach88/ripple/internal/syncer"
)

// Sync converges a replica with one remote store. Construct with
// NewSyncBuilder; call Sync for each cycle.
type Sync struct {
	inner *syncer.Syncer
}

// Sync performs one pull-then-push cycle against the remote. The call is
// idempotent when nothing changed on either side, and any failure leaves
// local state consistent: the next call retries from the start. Reactive
// subscriptions observe pulled changes as they are merged.
func (s *Sync) Sync(ctx context.Context, db *Db) error {
	return s.inner.Sync(ctx, db.exec, db.publish)
}

// SyncBuilder assembles a Sync from a storage URL and options.
type SyncBuilder struct {
	url        string
	passphrase string
	batched    bool
	batchCap   int64
}

// NewSyncBuilder starts a builder. The batched format is the default.
func NewSyncBuilder() *SyncBuilder {
	return &SyncBuilder{batched: true}
}

// URL sets the storage location: s3://access:secret@endpoint/bucket/prefix
// ?region=r, file://path, or memory://name.
func (b *SyncBuilder) URL(u string) *SyncBuilder {
	b.url = u
	return b
}

// Passphrase enables encryption of all stored objects under a
// passphrase-derived key.
func (b *SyncBuilder) Passphrase(p string) *SyncBuilder {
	b.passphrase = p
	return b
}

// Batched selects between the batched format (per-author manifests over
// size-capped batches) and the basic one-object-per-change format.
func (b *SyncBuilder) Batched(batched bool) *SyncBuilder {
	b.batched = batched
	return b
}

// BatchCap overrides the batch size ceiling in bytes. Zero keeps the
// default of 100 MiB.
func (b *SyncBuilder) BatchCap(capBytes int64) *SyncBuilder {
	b.batchCap = capBytes
	return b
}

// Build validates the configuration and constructs the Sync.
func (b *SyncBuilder) Build() (*Sync, error) {
	if b.url == "" {
		return nil, fault.New(fault.Config, "sync requires a storage url")
	}
	backend, err := storage.FromURL(b.url)
	if err != nil {
		return nil, err
	}
	if b.passphrase != "" {
		backend, err = storage.NewEncrypted(backend, b.passphrase)
		if err != nil {
			return nil, err
		}
	}
	return &Sync{inner: syncer.New(syncer.Config{
		Backend:  backend,
		Batched:  b.batched,
		BatchCap: b.batchCap,
		RemoteID: remoteID(b.url),
	})}, nil
}

// remoteID names a remote for local metadata markers. Credentials are
// stripped so the id is stable across credential rotation and never lands
// in the database.
func remoteID(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		u.User = nil
		raw = u.String()
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}
