package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CarriesKindAndMessage(t *testing.T) {
	err := New(Transport, "put %q failed", "key")
	assert.Equal(t, Transport, KindOf(err))
	assert.Equal(t, `transport: put "key" failed`, err.Error())
}

func TestWrap_PreservesChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(Transport, cause, "get object")

	assert.Equal(t, Transport, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWrap_NilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(Engine, nil, "whatever"))
}

func TestKindOf_OutermostWins(t *testing.T) {
	inner := New(Engine, "constraint failed")
	outer := Wrap(Integrity, inner, "merge")

	assert.Equal(t, Integrity, KindOf(outer))
	assert.True(t, IsKind(outer, Engine), "inner kind stays reachable")
	assert.False(t, IsKind(outer, Crypto))
}

func TestKindOf_UnclassifiedIsZero(t *testing.T) {
	assert.Zero(t, KindOf(errors.New("plain")))
	assert.Zero(t, KindOf(nil))
}

func TestKindOf_ThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("outer context: %w", New(Cancelled, "stopped"))
	require.Equal(t, Cancelled, KindOf(err))
}

func TestKind_Strings(t *testing.T) {
	names := map[Kind]string{
		Config:        "config",
		Engine:        "engine",
		Serialization: "serialization",
		Integrity:     "integrity",
		Transport:     "transport",
		Cancelled:     "cancelled",
		Crypto:        "crypto",
		Kind(99):      "unknown",
	}
	for kind, want := range names {
		assert.Equal(t, want, kind.String())
	}
}
