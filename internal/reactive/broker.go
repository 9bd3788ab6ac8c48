// Package reactive delivers re-computed query results to subscribers
// whenever a committed write touches a table the query depends on.
//
// Each subscription owns a worker goroutine fed by a size-1 signal channel,
// so bursts of invalidations coalesce into one recomputation. Recomputation
// runs outside any write-transaction critical section; the subscription's
// recompute closure is responsible for suppressing deliveries whose result
// hash did not change. Sinks are invoked from the worker goroutine and are
// serialized per subscription; sinks must not take the write lock.
package reactive

import (
	"sync"
)

// Recompute re-executes a subscription's query and delivers to its sink
// when the result changed. It is called once per coalesced invalidation.
type Recompute func()

// Broker routes table-level invalidations to subscriptions.
type Broker struct {
	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

type subscription struct {
	id     uint64
	tables map[string]struct{} // folded table names
	signal chan struct{}
	done   chan struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]*subscription)}
}

// Subscribe registers a dependency set and recompute closure, and starts
// the subscription's worker. Table names must already be folded with
// sqlite.FoldTable. The returned Handle deregisters on Close.
func (b *Broker) Subscribe(tables map[string]struct{}, recompute Recompute) *Handle {
	sub := &subscription{
		tables: tables,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	if b.closed {
		close(sub.done)
	} else {
		b.subs[sub.id] = sub
	}
	b.mu.Unlock()

	go sub.run(recompute)
	return &Handle{broker: b, id: sub.id}
}

// Publish notifies every subscription whose dependency set intersects the
// given folded table names. The lock is held only to snapshot matches;
// signalling is non-blocking because the buffered channel coalesces.
func (b *Broker) Publish(tables []string) {
	if len(tables) == 0 {
		return
	}
	b.mu.Lock()
	var matched []*subscription
	for _, sub := range b.subs {
		for _, table := range tables {
			if _, ok := sub.tables[table]; ok {
				matched = append(matched, sub)
				break
			}
		}
	}
	b.mu.Unlock()

	for _, sub := range matched {
		select {
		case sub.signal <- struct{}{}:
		default: // a recomputation is already pending
		}
	}
}

// Close terminates every subscription. In-flight recomputations finish;
// no further notifications are delivered.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*subscription)
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

func (s *subscription) run(recompute Recompute) {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
			// Re-check cancellation so a closed subscription's sink does not
			// observe a delivery that raced with Close.
			select {
			case <-s.done:
				return
			default:
			}
			recompute()
		}
	}
}

// Handle identifies a live subscription. The handle holds only the broker
// reference and the subscription id, never broker state.
type Handle struct {
	broker *Broker
	id     uint64
	once   sync.Once
}

// Close deregisters the subscription. Pending recomputations are discarded;
// a recomputation already in flight may still complete but its delivery is
// the sink's last. Close is idempotent.
func (h *Handle) Close() {
	h.once.Do(func() {
		h.broker.remove(h.id)
	})
}
