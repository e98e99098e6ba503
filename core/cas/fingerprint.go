package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"
)

// HashResult contains both SHA-256 and BLAKE3 digests of a document.
type HashResult struct {
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
}

// Fingerprint hashes the document's text and annotations. The document ID is not part
// of the digest, so two decodes of the same input fingerprint identically.
func (d *Document) Fingerprint() (*HashResult, error) {
	data, err := json.Marshal(d.view(false))
	if err != nil {
		return nil, err
	}
	return Hash(data), nil
}

// Hash computes both digests of data.
func Hash(data []byte) *HashResult {
	s := sha256.Sum256(data)
	b := blake3.Sum256(data)
	return &HashResult{
		SHA256: hex.EncodeToString(s[:]),
		BLAKE3: hex.EncodeToString(b[:]),
	}
}

// Equal reports whether both digests match.
func (h *HashResult) Equal(o *HashResult) bool {
	return h != nil && o != nil && h.SHA256 == o.SHA256 && h.BLAKE3 == o.BLAKE3
}
