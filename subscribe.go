package ripple

import (
	"context"
	"sync"

	"github.com/roach88/ripple/internal/reactive"
	"github.com/roach88/ripple/internal/record"
)

// Subscription is a live reactive query. Close cancels delivery.
type Subscription struct {
	handle *reactive.Handle
}

// Close cancels the subscription. In-flight recomputations may complete but
// no further deliveries follow. Close is idempotent.
func (s *Subscription) Close() {
	s.handle.Close()
}

// Subscribe executes a read-only query once, delivers the initial result to
// sink synchronously, and re-delivers whenever a committed write touches a
// table the query reads. Deliveries whose results are unchanged are
// suppressed by an order-preserving result hash.
//
// Guarantees: deliveries for one subscription are serialized; bursts of
// writes coalesce, so intermediate snapshots may be skipped but the final
// state is always delivered. Recomputation errors are delivered through
// sink with a nil result; the subscription stays live.
//
// The sink runs on the subscription's worker goroutine and must not start a
// write transaction.
func Subscribe[T any](db *Db, query string, params []any, sink func(results []T, err error)) (*Subscription, error) {
	ctx := context.Background()

	deps, err := db.exec.Dependencies(ctx, query, params...)
	if err != nil {
		return nil, err
	}

	res, err := db.exec.Run(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	lastHash, err := record.HashRows(res.Columns, res.Rows)
	if err != nil {
		return nil, err
	}
	initial, err := decodeRows[T](res)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex // guards lastHash across worker generations
	recompute := func() {
		res, err := db.exec.Run(ctx, query, params...)
		if err != nil {
			sink(nil, err)
			return
		}
		hash, err := record.HashRows(res.Columns, res.Rows)
		if err != nil {
			sink(nil, err)
			return
		}

		mu.Lock()
		unchanged := hash == lastHash
		if !unchanged {
			lastHash = hash
		}
		mu.Unlock()
		if unchanged {
			return
		}

		results, err := decodeRows[T](res)
		if err != nil {
			sink(nil, err)
			return
		}
		sink(results, nil)
	}

	sink(initial, nil)
	handle := db.broker.Subscribe(deps, recompute)
	return &Subscription{handle: handle}, nil
}
