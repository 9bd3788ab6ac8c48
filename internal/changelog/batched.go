package changelog

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/ripple/internal/clock"
	"github.com/roach88/ripple/internal/fault"
	"github.com/roach88/ripple/internal/storage"
)

// DefaultBatchCap is the ceiling on a batch's encoded size.
const DefaultBatchCap = 100 << 20 // 100 MiB

// Batched is the manifests-over-batches remote format:
//
//	<root>/manifests/<author_id>.bin
//	<root>/batches/<batch_id>.bin
//
// A manifest is the complete change_id→batch_id map for one author,
// rewritten in full on every push. Batches are immutable, size-capped, and
// contain entries from exactly one author. Batches are written before the
// manifest that references them: an orphan batch is inert, while a manifest
// pointing at a missing batch is a fatal integrity error.
//
// Request count per sync is O(#authors + #new-batches) and memory is
// bounded by the batch cap.
type Batched struct {
	store storage.Backend
	cap   int64
	clk   *clock.Clock
}

// NewBatched creates a batched-format remote changelog. A capBytes of 0
// selects DefaultBatchCap.
func NewBatched(store storage.Backend, capBytes int64) *Batched {
	if capBytes <= 0 {
		capBytes = DefaultBatchCap
	}
	return &Batched{store: store, cap: capBytes, clk: clock.New()}
}

const (
	manifestPrefix = "manifests/"
	batchPrefix    = "batches/"
)

// Manifest maps change id to the batch holding the entry.
type Manifest map[string]string

type wireManifest struct {
	AuthorID string            `msgpack:"author_id"`
	Entries  map[string]string `msgpack:"entries"`
}

// Authors enumerates the author ids with a manifest on the remote.
func (b *Batched) Authors(ctx context.Context) ([]string, error) {
	keys, err := b.store.List(ctx, manifestPrefix)
	if err != nil {
		return nil, err
	}
	var authors []string
	for _, key := range keys {
		name, ok := strings.CutPrefix(key, manifestPrefix)
		if !ok {
			continue
		}
		if author, ok := strings.CutSuffix(name, binSuffix); ok {
			authors = append(authors, author)
		}
	}
	return authors, nil
}

// GetManifest fetches one author's manifest; an absent manifest is empty.
func (b *Batched) GetManifest(ctx context.Context, author string) (Manifest, error) {
	data, err := b.store.Get(ctx, manifestPrefix+author+binSuffix)
	if errors.Is(err, storage.ErrNotFound) {
		return Manifest{}, nil
	}
	if err != nil {
		return nil, err
	}
	var w wireManifest
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fault.Wrap(fault.Serialization, err, "decode manifest for author %s", author)
	}
	if w.Entries == nil {
		w.Entries = map[string]string{}
	}
	return Manifest(w.Entries), nil
}

func (b *Batched) putManifest(ctx context.Context, author string, m Manifest) error {
	data, err := msgpack.Marshal(wireManifest{AuthorID: author, Entries: m})
	if err != nil {
		return fault.Wrap(fault.Serialization, err, "encode manifest for author %s", author)
	}
	return b.store.Put(ctx, manifestPrefix+author+binSuffix, data)
}

// GetBatch fetches and decodes one batch. A batch referenced by a manifest
// but missing from the store is a fatal integrity error.
func (b *Batched) GetBatch(ctx context.Context, batchID string) ([]Entry, error) {
	data, err := b.store.Get(ctx, batchPrefix+batchID+binSuffix)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fault.Wrap(fault.Integrity, err, "manifest references missing batch %s", batchID)
	}
	if err != nil {
		return nil, err
	}
	return DecodeBatch(data)
}

// Push uploads the given entries, all authored by author, that the remote
// manifest does not already reference. Batches are written first; the
// manifest is rewritten in full once afterwards. Returns the number of
// entries uploaded.
func (b *Batched) Push(ctx context.Context, author string, entries []Entry) (int, error) {
	manifest, err := b.GetManifest(ctx, author)
	if err != nil {
		return 0, err
	}

	var unpushed []Entry
	for _, e := range entries {
		if e.AuthorID != author {
			return 0, fault.New(fault.Integrity, "entry %s authored by %s pushed as %s", e.ID, e.AuthorID, author)
		}
		if _, ok := manifest[e.ID.String()]; !ok {
			unpushed = append(unpushed, e)
		}
	}
	if len(unpushed) == 0 {
		return 0, nil
	}
	SortByID(unpushed)

	batches, err := b.partition(unpushed)
	if err != nil {
		return 0, err
	}
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return 0, fault.Wrap(fault.Cancelled, err, "push interrupted")
		}
		id, err := b.clk.Next()
		if err != nil {
			return 0, fault.Wrap(fault.Engine, err, "allocate batch id")
		}
		batchID := id.String()

		data, err := EncodeBatch(batch)
		if err != nil {
			return 0, err
		}
		if err := b.store.Put(ctx, batchPrefix+batchID+binSuffix, data); err != nil {
			return 0, err
		}
		for _, e := range batch {
			manifest[e.ID.String()] = batchID
		}
		slog.Debug("pushed batch", "author", author, "batch", batchID, "entries", len(batch), "bytes", len(data))
	}

	if err := b.putManifest(ctx, author, manifest); err != nil {
		return 0, err
	}
	return len(unpushed), nil
}

// partition splits entries into runs whose summed encoded size stays under
// the cap. A single entry over the cap forms its own batch; that violates
// the ceiling softly and is logged.
func (b *Batched) partition(entries []Entry) ([][]Entry, error) {
	var batches [][]Entry
	var current []Entry
	var currentSize int64

	for _, e := range entries {
		data, err := Encode(e)
		if err != nil {
			return nil, err
		}
		size := int64(len(data))
		if size > b.cap {
			slog.Warn("changelog entry exceeds batch cap; storing it in its own batch",
				"change", e.ID.String(), "bytes", size, "cap", b.cap)
		}
		if len(current) > 0 && currentSize+size > b.cap {
			batches = append(batches, current)
			current, currentSize = nil, 0
		}
		current = append(current, e)
		currentSize += size
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}
