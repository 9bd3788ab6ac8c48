// Package clock produces the 128-bit change identifiers that order every
// write across all replicas.
//
// An ID is 48 bits of Unix milliseconds followed by 80 bits of randomness.
// Within one process the sequence of emitted IDs is strictly increasing:
// when the wall clock does not advance (or runs backwards) the previous
// timestamp prefix is reused and the random tail is bumped instead. The
// result is a hybrid logical clock: IDs are real-time ordered across
// replicas to within clock skew, and strictly monotone within a replica.
package clock

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// IDSize is the length of an ID in bytes.
const IDSize = 16

// ID is a 128-bit globally sortable change identifier. The zero value sorts
// before every generated ID.
type ID [IDSize]byte

// String returns the canonical lower-case hex form, 32 characters.
// Lexicographic order of the string form equals byte order of the ID.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Compare orders two IDs bytewise: -1, 0, or 1.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// Time returns the millisecond timestamp embedded in the ID's prefix.
func (id ID) Time() time.Time {
	var buf [8]byte
	copy(buf[2:], id[:6])
	ms := int64(binary.BigEndian.Uint64(buf[:]))
	return time.UnixMilli(ms)
}

// Parse decodes the 32-character hex form produced by String.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != 2*IDSize {
		return id, fmt.Errorf("parse id: want %d hex characters, got %d", 2*IDSize, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("parse id %q: %w", s, err)
	}
	return id, nil
}

// Clock emits strictly increasing IDs. The zero value is not usable; call New.
// Clock is safe for concurrent use.
type Clock struct {
	mu     sync.Mutex
	lastMs int64
	last   ID
	now    func() time.Time
}

// New creates a Clock backed by the system wall clock.
func New() *Clock {
	return &Clock{now: time.Now}
}

// NewAt creates a Clock with an injected time source. Used in tests to
// exercise stalled and regressing clocks.
func NewAt(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Next returns a fresh ID strictly greater than every ID this Clock has
// emitted before.
func (c *Clock) Next() (ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := c.now().UnixMilli()
	if ms > c.lastMs {
		var id ID
		putMillis(&id, ms)
		if _, err := rand.Read(id[6:]); err != nil {
			return ID{}, fmt.Errorf("read random tail: %w", err)
		}
		c.lastMs = ms
		c.last = id
		return id, nil
	}

	// The clock stalled or regressed. Reuse the last emitted prefix and bump
	// the 80-bit tail so ordering is preserved.
	id := c.last
	for i := IDSize - 1; i >= 6; i-- {
		id[i]++
		if id[i] != 0 {
			break
		}
		if i == 6 {
			// Tail overflow: advance the prefix by one millisecond.
			c.lastMs++
			putMillis(&id, c.lastMs)
		}
	}
	c.last = id
	return id, nil
}

func putMillis(id *ID, ms int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ms))
	copy(id[:6], buf[2:])
}
