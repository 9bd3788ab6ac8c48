package syncer

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/ripple/internal/changelog"
	"github.com/roach88/ripple/internal/fault"
	"github.com/roach88/ripple/internal/sqlite"
)

// pullBatched reads each remote author's manifest, determines the wanted
// entry ids, fetches only the batches containing them, and merges the
// wanted entries. Request count is O(#authors + #needed-batches).
func (s *Syncer) pullBatched(ctx context.Context, db *sqlite.DB, self string, notify func(tables []string)) error {
	authors, err := s.batched.Authors(ctx)
	if err != nil {
		return err
	}

	for _, author := range authors {
		if author == self {
			continue
		}
		if err := checkCancelled(ctx, "pull"); err != nil {
			return err
		}
		if err := s.pullAuthor(ctx, db, author, notify); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) pullAuthor(ctx context.Context, db *sqlite.DB, author string, notify func(tables []string)) error {
	manifest, err := s.batched.GetManifest(ctx, author)
	if err != nil {
		return err
	}
	known, err := changelog.IDsByAuthor(ctx, db, author)
	if err != nil {
		return err
	}

	// Group wanted ids by the batch that holds them.
	want := make(map[string]map[string]struct{}) // batch id -> wanted entry ids
	for id, batchID := range manifest {
		if _, ok := known[id]; ok {
			continue
		}
		ids, ok := want[batchID]
		if !ok {
			ids = make(map[string]struct{})
			want[batchID] = ids
		}
		ids[id] = struct{}{}
	}
	if len(want) == 0 {
		return nil
	}

	// Fetch needed batches with bounded parallelism; merge as they land.
	// Merging is serialized by the write lock, so ordering within the pull
	// does not affect the converged state.
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(batchFetchParallelism)
	var mu sync.Mutex

	total := 0
	for batchID, ids := range want {
		batchID, ids := batchID, ids
		group.Go(func() error {
			if err := checkCancelled(groupCtx, "pull"); err != nil {
				return err
			}
			batch, err := s.batched.GetBatch(groupCtx, batchID)
			if err != nil {
				return err
			}
			var wanted []changelog.Entry
			for _, entry := range batch {
				if _, ok := ids[entry.ID.String()]; ok {
					wanted = append(wanted, entry)
				}
			}
			if len(wanted) != len(ids) {
				return fault.New(fault.Integrity,
					"batch %s holds %d of %d entries the manifest of author %s promises",
					batchID, len(wanted), len(ids), author)
			}

			mu.Lock()
			defer mu.Unlock()
			total += len(wanted)
			return s.apply(groupCtx, db, wanted, notify)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	slog.Info("pulled remote changes", "remote", s.remoteID, "author", author, "entries", total)
	return nil
}

// pushBatched uploads locally-authored entries the remote manifest does not
// reference, then rewrites the manifest.
func (s *Syncer) pushBatched(ctx context.Context, db *sqlite.DB, self string) error {
	if err := checkCancelled(ctx, "push"); err != nil {
		return err
	}
	entries, err := changelog.EntriesByAuthor(ctx, db, self, "")
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	pushed, err := s.batched.Push(ctx, self, entries)
	if err != nil {
		return err
	}
	if pushed > 0 {
		slog.Info("pushed local changes", "remote", s.remoteID, "entries", pushed)
	}
	return nil
}
