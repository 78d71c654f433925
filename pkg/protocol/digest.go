package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PayloadDigest computes the hex-encoded SHA-256 digest of the
// canonical JSON encoding of a payload. json.Marshal sorts map keys,
// so equal payloads always serialize identically.
func PayloadDigest(payload interface{}) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyDigest recomputes the digest of a payload and compares it to a
// transmitted one.
func VerifyDigest(payload interface{}, digest string) (bool, error) {
	computed, err := PayloadDigest(payload)
	if err != nil {
		return false, err
	}
	return computed == digest, nil
}
