// Package fingerprint derives content-addressed identities for configuration
// values: SHA-256 over a canonical JSON encoding with sorted object keys.
//
// Two values with the same exported field values always produce the same
// fingerprint, independent of struct field declaration order, map iteration
// order, or process.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonical returns the canonical JSON encoding of v: object keys sorted,
// no insignificant whitespace, numbers kept verbatim.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("fingerprint: decode: %w", err)
	}

	// encoding/json writes map keys in sorted order
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: canonicalize: %w", err)
	}
	return out, nil
}

// Of returns the hex SHA-256 of the canonical encoding of v
func Of(v any) (string, error) {
	payload, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
