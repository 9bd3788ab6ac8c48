package syncer

import (
	"context"
	"log/slog"

	"github.com/roach88/ripple/internal/changelog"
	"github.com/roach88/ripple/internal/sqlite"
)

// pullBasic lists the remote index, fetches every entry the local store
// does not have, and merges them.
func (s *Syncer) pullBasic(ctx context.Context, db *sqlite.DB, notify func(tables []string)) error {
	remoteIDs, err := s.basic.ListIDs(ctx)
	if err != nil {
		return err
	}
	localIDs, err := changelog.AllIDs(ctx, db)
	if err != nil {
		return err
	}

	var pending []changelog.Entry
	fetched := 0
	for id := range remoteIDs {
		if _, ok := localIDs[id]; ok {
			continue
		}
		if err := checkCancelled(ctx, "pull"); err != nil {
			return err
		}
		entry, err := s.basic.Get(ctx, id)
		if err != nil {
			return err
		}
		pending = append(pending, entry)
		fetched++
		if len(pending) >= applyChunkSize {
			if err := s.apply(ctx, db, pending, notify); err != nil {
				return err
			}
			pending = pending[:0]
		}
	}
	if err := s.apply(ctx, db, pending, notify); err != nil {
		return err
	}
	if fetched > 0 {
		slog.Info("pulled remote changes", "remote", s.remoteID, "entries", fetched)
	}
	return nil
}

// pushBasic uploads locally-authored entries absent from the remote index.
// The last_pushed marker is a lower bound: entries at or below it were
// acknowledged by an earlier push and are not re-listed against the remote.
func (s *Syncer) pushBasic(ctx context.Context, db *sqlite.DB, self string) error {
	lastPushed, err := db.GetMeta(ctx, "last_pushed:"+s.remoteID)
	if err != nil {
		return err
	}
	candidates, err := changelog.EntriesByAuthor(ctx, db, self, lastPushed)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	remoteIDs, err := s.basic.ListIDs(ctx)
	if err != nil {
		return err
	}

	pushed := 0
	for _, entry := range candidates {
		if err := checkCancelled(ctx, "push"); err != nil {
			return err
		}
		if _, ok := remoteIDs[entry.ID.String()]; !ok {
			if err := s.basic.Put(ctx, entry); err != nil {
				return err
			}
			pushed++
		}
		if err := db.SetMeta(ctx, "last_pushed:"+s.remoteID, entry.ID.String()); err != nil {
			return err
		}
	}
	if pushed > 0 {
		slog.Info("pushed local changes", "remote", s.remoteID, "entries", pushed)
	}
	return nil
}
