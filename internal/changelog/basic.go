package changelog

import (
	"context"
	"errors"
	"strings"

	"github.com/roach88/ripple/internal/fault"
	"github.com/roach88/ripple/internal/storage"
)

// Basic is the one-object-per-entry remote format:
//
//	<root>/changes/<change_id>.bin
//
// The object name is authoritative; contents are immutable. Listing the
// changes/ prefix is the remote index, so request count grows with history
// size — the batched format exists to avoid that.
type Basic struct {
	store storage.Backend
}

// NewBasic creates a basic-format remote changelog over a backend.
func NewBasic(store storage.Backend) *Basic {
	return &Basic{store: store}
}

const (
	basicPrefix = "changes/"
	binSuffix   = ".bin"
)

// ListIDs enumerates every change id present on the remote.
func (b *Basic) ListIDs(ctx context.Context) (map[string]struct{}, error) {
	keys, err := b.store.List(ctx, basicPrefix)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		name, ok := strings.CutPrefix(key, basicPrefix)
		if !ok {
			continue
		}
		id, ok := strings.CutSuffix(name, binSuffix)
		if !ok {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}

// Get fetches one entry by id. A listed id that is absent is an integrity
// error.
func (b *Basic) Get(ctx context.Context, id string) (Entry, error) {
	data, err := b.store.Get(ctx, basicPrefix+id+binSuffix)
	if errors.Is(err, storage.ErrNotFound) {
		return Entry{}, fault.Wrap(fault.Integrity, err, "change %s listed but missing", id)
	}
	if err != nil {
		return Entry{}, err
	}
	e, err := Decode(data)
	if err != nil {
		return Entry{}, err
	}
	if e.ID.String() != id {
		return Entry{}, fault.New(fault.Integrity, "object %s contains change %s", id, e.ID)
	}
	return e, nil
}

// Put uploads one entry. Re-uploading an entry overwrites it with identical
// bytes, so pushes are idempotent.
func (b *Basic) Put(ctx context.Context, e Entry) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	return b.store.Put(ctx, basicPrefix+e.ID.String()+binSuffix, data)
}
