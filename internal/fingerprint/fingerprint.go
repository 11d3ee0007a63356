// Package fingerprint produces deterministic content digests used for case
// identity and duplicate detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Bytes returns the SHA-256 hex digest of raw bytes.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Text returns the SHA-256 hex digest of a UTF-8 string.
func Text(s string) string {
	return Bytes([]byte(s))
}

// Case combines the image and report digests into a single case identity
// key, used to detect duplicate submissions.
func Case(imageHash, reportHash string) string {
	return Text(imageHash + ":" + reportHash)
}
