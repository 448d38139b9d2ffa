package value

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// BlobHash is the content address of an externalized large value.
type BlobHash [32]byte

// HashBlob computes the content address of data.
func HashBlob(data []byte) BlobHash {
	return BlobHash(blake3.Sum256(data))
}

func (h BlobHash) String() string { return hex.EncodeToString(h[:]) }

// BlobStore holds large String/Bytes payloads out of line. Row encodings
// reference them by content hash, so storing the same payload twice is a
// refcount bump, not a second copy.
type BlobStore interface {
	// Insert stores data under h and retains a reference. The caller computes
	// h with HashBlob so encodings stay deterministic across stores.
	Insert(h BlobHash, data []byte)
	// Get returns the payload for h, if present.
	Get(h BlobHash) ([]byte, bool)
	// Free drops one reference to h, deleting the payload on the last one.
	Free(h BlobHash) bool
}
