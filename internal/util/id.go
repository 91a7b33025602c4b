package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// SnapshotID builds the document id for a stored content version:
// "<entity>_v<version>_<uuid8>". The uuid suffix keeps ids unique even if a
// version row is deleted and its number reassigned later.
func SnapshotID(entityID string, version int) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_v%d_%s", entityID, version, suffix)
}
