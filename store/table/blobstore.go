package table

import (
	"sync"

	"github.com/keplerdb/kepler/store/value"
)

// HashMapBlobStore is the in-memory, refcounted value.BlobStore. One instance
// backs the committed state for the life of the process; each transaction
// carries its own private instance for uncommitted rows.
type HashMapBlobStore struct {
	mu    sync.Mutex
	blobs map[value.BlobHash]*blobEntry
}

type blobEntry struct {
	data []byte
	uses uint64
}

func NewHashMapBlobStore() *HashMapBlobStore {
	return &HashMapBlobStore{blobs: make(map[value.BlobHash]*blobEntry)}
}

func (s *HashMapBlobStore) Insert(h value.BlobHash, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.blobs[h]; ok {
		e.uses++
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[h] = &blobEntry{data: cp, uses: 1}
}

func (s *HashMapBlobStore) Get(h value.BlobHash) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blobs[h]
	if !ok {
		return nil, false
	}
	return e.data, true
}

func (s *HashMapBlobStore) Free(h value.BlobHash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blobs[h]
	if !ok {
		return false
	}
	e.uses--
	if e.uses == 0 {
		delete(s.blobs, h)
	}
	return true
}

// Len returns the number of distinct blobs held.
func (s *HashMapBlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
