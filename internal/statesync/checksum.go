package statesync

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// checksumLength is the number of hex characters kept from the digest.
const checksumLength = 16

// Checksum returns the first 16 hex characters of the SHA-256 digest of the
// payload's canonical JSON form (sorted keys, no insignificant whitespace).
// Identical content yields an identical checksum regardless of key insertion
// order. It detects changes; it is not an integrity control.
func Checksum(payload map[string]any) (string, error) {
	data, err := canonicalJSON(payload)
	if err != nil {
		return "", &SerializationError{Op: "checksum", Err: err}
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:checksumLength], nil
}

// canonicalJSON relies on encoding/json sorting map keys at every level.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode canonical json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
