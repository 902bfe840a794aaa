// Package canonicalize produces RFC 8785 canonical JSON and content hashes
// for node pools, snapshots and event payloads, so that structurally equal
// values always hash identically regardless of map iteration order.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JSON marshals v with the standard library then reduces it to RFC 8785
// canonical form via jcs.Transform (sorted keys, no insignificant
// whitespace, canonical number formatting).
func JSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform: %w", err)
	}
	return out, nil
}

// Hash returns the sha256 hex digest of the canonical JSON form of v.
func Hash(v interface{}) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the sha256 hex digest of raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
