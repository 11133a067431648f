// Package crypto provides content addressing and participant identity
// primitives for the blockmesh: SHA-256 hex digests, ed25519 key pairs
// and hex-encoded signatures.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string.
// Block content addresses and transaction hashes are produced with it.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw SHA-256 bytes of data.
func HashBytes(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}
