// Package changelog implements the append-only change log: the writer that
// records per-attribute changes alongside every user write, the merger that
// applies foreign entries under last-write-wins discipline, and the two
// remote formats (one object per entry, and per-author manifests over
// size-capped batches) that carry entries through object storage.
package changelog

import (
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/ripple/internal/clock"
	"github.com/roach88/ripple/internal/fault"
	"github.com/roach88/ripple/internal/record"
)

// Entry is the irreducible unit of change: one write to one entity,
// carrying the fields that changed. Entries are immutable once created;
// Merged is local bookkeeping and never travels to a remote.
type Entry struct {
	ID         clock.ID
	AuthorID   string
	EntityType string
	EntityID   string
	Fields     []record.Field
	Merged     bool
}

// wireEntry is the remote serialization of an Entry. Field values are
// MessagePack-native, so integers, reals, text, booleans, raw bytes, and
// nulls all round-trip bit-exact.
type wireEntry struct {
	ID         string      `msgpack:"id"`
	AuthorID   string      `msgpack:"author_id"`
	EntityType string      `msgpack:"entity_type"`
	EntityID   string      `msgpack:"entity_id"`
	Fields     []wireField `msgpack:"fields"`
}

type wireField struct {
	Name  string `msgpack:"name"`
	Value any    `msgpack:"value"`
}

// Encode serializes an entry for remote storage.
func Encode(e Entry) ([]byte, error) {
	w := wireEntry{
		ID:         e.ID.String(),
		AuthorID:   e.AuthorID,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Fields:     make([]wireField, len(e.Fields)),
	}
	for i, f := range e.Fields {
		w.Fields[i] = wireField{Name: f.Name, Value: record.Native(f.Value)}
	}
	data, err := msgpack.Marshal(w)
	if err != nil {
		return nil, fault.Wrap(fault.Serialization, err, "encode entry %s", e.ID)
	}
	return data, nil
}

// Decode parses an entry from its remote serialization.
func Decode(data []byte) (Entry, error) {
	var w wireEntry
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return Entry{}, fault.Wrap(fault.Serialization, err, "decode entry")
	}
	id, err := clock.Parse(w.ID)
	if err != nil {
		return Entry{}, fault.Wrap(fault.Serialization, err, "decode entry id")
	}
	e := Entry{
		ID:         id,
		AuthorID:   w.AuthorID,
		EntityType: w.EntityType,
		EntityID:   w.EntityID,
		Fields:     make([]record.Field, len(w.Fields)),
	}
	for i, f := range w.Fields {
		v, err := record.FromNative(f.Value)
		if err != nil {
			return Entry{}, fault.Wrap(fault.Serialization, err, "decode entry %s field %q", w.ID, f.Name)
		}
		e.Fields[i] = record.Field{Name: f.Name, Value: v}
	}
	return e, nil
}

// EncodeBatch serializes a group of entries as one object.
func EncodeBatch(entries []Entry) ([]byte, error) {
	encoded := make([][]byte, len(entries))
	for i, e := range entries {
		data, err := Encode(e)
		if err != nil {
			return nil, err
		}
		encoded[i] = data
	}
	data, err := msgpack.Marshal(encoded)
	if err != nil {
		return nil, fault.Wrap(fault.Serialization, err, "encode batch")
	}
	return data, nil
}

// DecodeBatch parses a batch object.
func DecodeBatch(data []byte) ([]Entry, error) {
	var encoded [][]byte
	if err := msgpack.Unmarshal(data, &encoded); err != nil {
		return nil, fault.Wrap(fault.Serialization, err, "decode batch")
	}
	entries := make([]Entry, len(encoded))
	for i, raw := range encoded {
		e, err := Decode(raw)
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}

// SortByID orders entries ascending by change id, the global merge order.
func SortByID(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID.Compare(entries[j].ID) < 0
	})
}
