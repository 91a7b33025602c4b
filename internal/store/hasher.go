package store

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// HashContent returns the deduplication fingerprint for a content payload.
// The same digest names the payload's object in the blob archive, so
// byte-identical content collapses to a single stored object.
func HashContent(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
