package hash

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSerialization indicates the value could not be converted to a storable
// JSON form. Mint operations abort without writing anything when this occurs.
var ErrSerialization = errors.New("payload is not JSON-serializable")

// Prefix identifies the digest algorithm in produced hashes (sha256:<hex>)
const Prefix = "sha256:"

// Sum computes the content hash of raw bytes
func Sum(content []byte) string {
	return fmt.Sprintf("%s%x", Prefix, sha256.Sum256(content))
}

// JSON computes the content hash of any JSON-serializable value.
// encoding/json sorts map keys, so two values with identical content hash
// identically regardless of insertion order.
func JSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return Sum(data), nil
}

// Canonical computes the content hash of a raw JSON document after
// normalizing it (whitespace and object key order do not affect the digest).
func Canonical(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return JSON(v)
}
