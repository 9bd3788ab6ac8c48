package reactive

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func tables(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPublish_MatchingDependency(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	var calls atomic.Int64
	h := b.Subscribe(tables("TRACK"), func() { calls.Add(1) })
	defer h.Close()

	b.Publish([]string{"TRACK"})
	waitFor(t, func() bool { return calls.Load() == 1 })
}

func TestPublish_NonMatchingDependencyIsSilent(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	var calls atomic.Int64
	h := b.Subscribe(tables("TRACK"), func() { calls.Add(1) })
	defer h.Close()

	b.Publish([]string{"ALBUM"})
	b.Publish(nil)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestPublish_Coalesces(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	var calls atomic.Int64
	block := make(chan struct{})
	h := b.Subscribe(tables("TRACK"), func() {
		calls.Add(1)
		<-block
	})
	defer h.Close()

	// First publish starts a recomputation that blocks; the rest must
	// collapse into at most one more.
	b.Publish([]string{"TRACK"})
	waitFor(t, func() bool { return calls.Load() == 1 })
	for i := 0; i < 10; i++ {
		b.Publish([]string{"TRACK"})
	}
	close(block)

	waitFor(t, func() bool { return calls.Load() == 2 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(2), calls.Load(), "ten pending publishes must coalesce into one recomputation")
}

func TestPublish_SerializedPerSubscription(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	h := b.Subscribe(tables("TRACK"), func() {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
	})
	defer h.Close()

	for i := 0; i < 20; i++ {
		b.Publish([]string{"TRACK"})
		time.Sleep(time.Millisecond / 2)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight, "recomputations for one subscription must never overlap")
}

func TestHandle_CloseStopsDeliveries(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	var calls atomic.Int64
	h := b.Subscribe(tables("TRACK"), func() { calls.Add(1) })

	b.Publish([]string{"TRACK"})
	waitFor(t, func() bool { return calls.Load() == 1 })

	h.Close()
	h.Close() // idempotent

	b.Publish([]string{"TRACK"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())
}

func TestBroker_CloseTerminatesAll(t *testing.T) {
	b := NewBroker()

	var calls atomic.Int64
	b.Subscribe(tables("A"), func() { calls.Add(1) })
	b.Subscribe(tables("B"), func() { calls.Add(1) })

	b.Close()
	b.Publish([]string{"A", "B"})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())

	// Subscribing after Close yields an inert handle rather than a panic.
	h := b.Subscribe(tables("C"), func() { calls.Add(1) })
	b.Publish([]string{"C"})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
	h.Close()
}

func TestPublish_MultipleSubscriptionsIndependent(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	var trackCalls, albumCalls atomic.Int64
	ht := b.Subscribe(tables("TRACK"), func() { trackCalls.Add(1) })
	defer ht.Close()
	ha := b.Subscribe(tables("ALBUM", "TRACK"), func() { albumCalls.Add(1) })
	defer ha.Close()

	b.Publish([]string{"ALBUM"})
	waitFor(t, func() bool { return albumCalls.Load() == 1 })
	assert.Zero(t, trackCalls.Load())

	b.Publish([]string{"TRACK"})
	waitFor(t, func() bool { return trackCalls.Load() == 1 && albumCalls.Load() == 2 })
}
