package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// HashRows computes an order-preserving digest of a result set. Two result
// sets hash equal iff they have the same columns, the same rows, and the
// same row order, so a re-executed query can suppress deliveries whose
// results did not change.
func HashRows(columns []string, rows [][]any) (string, error) {
	h := sha256.New()

	enc := msgpack.NewEncoder(h)
	if err := enc.Encode(columns); err != nil {
		return "", fmt.Errorf("hash columns: %w", err)
	}
	for _, row := range rows {
		for _, cell := range row {
			v, err := FromNative(cell)
			if err != nil {
				return "", fmt.Errorf("hash row: %w", err)
			}
			if err := enc.Encode(Native(v)); err != nil {
				return "", fmt.Errorf("hash row: %w", err)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
