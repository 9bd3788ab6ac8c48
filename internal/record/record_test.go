package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Track struct {
	ID       string
	AlbumID  string
	Title    string
	Duration int64
	Rating   *float64
	Explicit bool
	Artwork  []byte
	internal string //nolint:unused // must be skipped by reflection
}

func TestTableName(t *testing.T) {
	name, err := TableName(Track{})
	require.NoError(t, err)
	assert.Equal(t, "Track", name)

	name, err = TableName(&Track{})
	require.NoError(t, err)
	assert.Equal(t, "Track", name)

	_, err = TableName(42)
	assert.Error(t, err)
}

func TestFields_NamesAndOrder(t *testing.T) {
	rating := 4.5
	fields, err := Fields(Track{
		ID:       "t1",
		AlbumID:  "a1",
		Title:    "One",
		Duration: 447,
		Rating:   &rating,
		Explicit: true,
		Artwork:  []byte{0x89, 0x50},
	})
	require.NoError(t, err)

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"id", "album_id", "title", "duration", "rating", "explicit", "artwork"}, names)

	assert.Equal(t, Text("t1"), fields[0].Value)
	assert.Equal(t, Int(447), fields[3].Value)
	assert.Equal(t, Real(4.5), fields[4].Value)
	assert.Equal(t, Bool(true), fields[5].Value)
	assert.Equal(t, Blob([]byte{0x89, 0x50}), fields[6].Value)
}

func TestFields_NilPointerIsNull(t *testing.T) {
	fields, err := Fields(Track{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, Null{}, fields[4].Value)
}

func TestKey_SetKey(t *testing.T) {
	tr := Track{}
	key, err := Key(tr)
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, SetKey(&tr, "t9"))
	key, err = Key(tr)
	require.NoError(t, err)
	assert.Equal(t, "t9", key)

	assert.Error(t, SetKey(tr, "nope"), "non-pointer must be rejected")
}

func TestKey_MissingColumn(t *testing.T) {
	type NoKey struct {
		Name string
	}
	_, err := Key(NoKey{})
	assert.ErrorContains(t, err, "no id or key column")
}

func TestScan_RoundTrip(t *testing.T) {
	var tr Track
	err := Scan(&tr, map[string]any{
		"id":       "t1",
		"album_id": []byte("a1"),
		"title":    "One",
		"duration": int64(447),
		"rating":   4.5,
		"explicit": int64(1),
		"artwork":  []byte{1, 2, 3},
		"ignored":  "extra columns are fine",
	})
	require.NoError(t, err)

	assert.Equal(t, "t1", tr.ID)
	assert.Equal(t, "a1", tr.AlbumID)
	assert.Equal(t, int64(447), tr.Duration)
	require.NotNil(t, tr.Rating)
	assert.Equal(t, 4.5, *tr.Rating)
	assert.True(t, tr.Explicit)
	assert.Equal(t, []byte{1, 2, 3}, tr.Artwork)
}

func TestEncodeDecodeValue_RoundTrip(t *testing.T) {
	values := []Value{
		Null{},
		Int(-42),
		Int(1 << 62),
		Real(3.25),
		Text("héllo"),
		Blob([]byte{0, 1, 2, 0xff}),
		Bool(true),
	}
	for _, v := range values {
		data, err := EncodeValue(v)
		require.NoError(t, err)
		got, err := DecodeValue(data)
		require.NoError(t, err)
		assert.Equal(t, v, got, "round trip of %#v", v)
	}
}

func TestEncodeValue_Deterministic(t *testing.T) {
	a, err := EncodeValue(Text("same"))
	require.NoError(t, err)
	b, err := EncodeValue(Text("same"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFromNative_Time(t *testing.T) {
	at := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)
	v, err := FromNative(at)
	require.NoError(t, err)
	assert.Equal(t, Text("2025-03-09T10:00:00Z"), v)
}

func TestHashRows(t *testing.T) {
	cols := []string{"id", "title"}
	a, err := HashRows(cols, [][]any{{"t1", "One"}, {"t2", "Two"}})
	require.NoError(t, err)

	same, err := HashRows(cols, [][]any{{"t1", "One"}, {"t2", "Two"}})
	require.NoError(t, err)
	assert.Equal(t, a, same)

	reordered, err := HashRows(cols, [][]any{{"t2", "Two"}, {"t1", "One"}})
	require.NoError(t, err)
	assert.NotEqual(t, a, reordered, "hash must be order-preserving")

	changed, err := HashRows(cols, [][]any{{"t1", "One"}, {"t2", "Deux"}})
	require.NoError(t, err)
	assert.NotEqual(t, a, changed)
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"ID":        "id",
		"AlbumID":   "album_id",
		"Title":     "title",
		"CreatedAt": "created_at",
		"SHA256Sum": "sha256_sum",
	}
	for in, want := range cases {
		assert.Equal(t, want, snakeCase(in), "snakeCase(%q)", in)
	}
}
