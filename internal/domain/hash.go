package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const versionHashDomain = "thumbforge/composition-version/v1"

// VersionHash is the content hash stored with a snapshot. The domain prefix
// keeps it distinct from any other hash computed over the same bytes.
func VersionHash(compositionID uuid.UUID, versionNumber int, snapshot CompositionSnapshot) (string, error) {
	payload, err := json.Marshal(struct {
		CompositionID uuid.UUID           `json:"composition_id"`
		VersionNumber int                 `json:"version_number"`
		Snapshot      CompositionSnapshot `json:"snapshot"`
	}{compositionID, versionNumber, snapshot})
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot for hashing: %w", err)
	}
	return hashWithDomain(versionHashDomain, payload), nil
}

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
