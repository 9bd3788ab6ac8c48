package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_StrictlyIncreasing(t *testing.T) {
	c := New()

	var prev ID
	for i := 0; i < 10000; i++ {
		id, err := c.Next()
		require.NoError(t, err)
		require.Equal(t, 1, id.Compare(prev), "id %d not greater than predecessor", i)
		prev = id
	}
}

func TestNext_StalledClockReusesPrefix(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	c := NewAt(func() time.Time { return fixed })

	first, err := c.Next()
	require.NoError(t, err)

	second, err := c.Next()
	require.NoError(t, err)

	assert.Equal(t, first[:6], second[:6], "prefix should be reused while the clock is stalled")
	assert.Equal(t, 1, second.Compare(first))
}

func TestNext_RegressionNeverDecreasesPrefix(t *testing.T) {
	times := []time.Time{
		time.UnixMilli(2000),
		time.UnixMilli(1000), // regression
		time.UnixMilli(1500), // still behind the last emitted prefix
	}
	var i int
	c := NewAt(func() time.Time {
		ts := times[i]
		if i < len(times)-1 {
			i++
		}
		return ts
	})

	var prev ID
	for range times {
		id, err := c.Next()
		require.NoError(t, err)
		require.Equal(t, 1, id.Compare(prev))
		assert.Equal(t, time.UnixMilli(2000), id.Time())
		prev = id
	}
}

func TestString_RoundTripAndOrder(t *testing.T) {
	c := New()

	a, err := c.Next()
	require.NoError(t, err)
	b, err := c.Next()
	require.NoError(t, err)

	assert.Len(t, a.String(), 32)
	assert.Less(t, a.String(), b.String(), "string order must match byte order")

	parsed, err := Parse(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("not-an-id")
	assert.Error(t, err)

	_, err = Parse("zz00000000000000000000000000000000"[:32])
	assert.Error(t, err)
}

func TestTime_EmbeddedTimestamp(t *testing.T) {
	at := time.UnixMilli(1700000012345)
	c := NewAt(func() time.Time { return at })

	id, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, at, id.Time())
}

func TestNext_Concurrent(t *testing.T) {
	c := New()
	const workers, perWorker = 8, 500

	ids := make(chan ID, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := c.Next()
				if err != nil {
					t.Error(err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[ID]bool, workers*perWorker)
	for id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
