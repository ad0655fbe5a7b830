// Package hashutil provides the canonical JSON hashing used for evidence
// provenance, config fingerprints, and audit chain links.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SHA256Hex returns the lowercase hex SHA-256 of the given bytes.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256JSON hashes the canonical JSON serialization of v. Canonical means
// key-sorted: encoding/json marshals map keys in sorted order, so values
// are normalized through a map round trip before hashing. Two structurally
// equal values always hash the same regardless of field declaration order.
func SHA256JSON(v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

// CanonicalJSON returns the key-sorted JSON serialization of v.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("hashutil: marshal: %w", err)
	}

	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("hashutil: normalize: %w", err)
	}

	canonical, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("hashutil: canonical marshal: %w", err)
	}
	return canonical, nil
}
