package record

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeValue serializes a Value as MessagePack. The encoding is
// deterministic for a given value, so encoded bytes are comparable for
// change detection.
func EncodeValue(v Value) ([]byte, error) {
	data, err := msgpack.Marshal(Native(v))
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}

// DecodeValue parses a MessagePack-encoded Value.
func DecodeValue(data []byte) (Value, error) {
	var raw any
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return FromNative(raw)
}

// FromNative converts a Go value produced by the SQL driver or the
// MessagePack decoder into a Value. Unknown types are an error.
func FromNative(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null{}, nil
	case int:
		return Int(t), nil
	case int8:
		return Int(t), nil
	case int16:
		return Int(t), nil
	case int32:
		return Int(t), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(t), nil
	case uint8:
		return Int(t), nil
	case uint16:
		return Int(t), nil
	case uint32:
		return Int(t), nil
	case uint64:
		if t > 1<<63-1 {
			return nil, fmt.Errorf("integer %d overflows int64", t)
		}
		return Int(t), nil
	case float32:
		return Real(t), nil
	case float64:
		return Real(t), nil
	case string:
		return Text(t), nil
	case []byte:
		return Blob(t), nil
	case bool:
		return Bool(t), nil
	case time.Time:
		// The driver surfaces declared DATETIME columns as time.Time; store
		// the canonical text form.
		return Text(t.Format(time.RFC3339Nano)), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", raw)
	}
}
