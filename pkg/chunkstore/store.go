// Package chunkstore implements the content-addressed chunk storage layer:
// an in-memory store (C1), a durable file-backed store (C2), and a layered
// buffered store composing the two (C3), plus the ChunkActionAuthority
// policy interface (C4).
//
// None of the three Store implementations interpret chunk identifiers
// beyond comparing an id against the hash of its bytes to decide whether
// the id is "hash-named"; everything else about chunk meaning is left to
// a ChunkActionAuthority consulted by callers above this package.
package chunkstore

import (
	"crypto/sha256"
)

// Store is the common contract implemented by MemoryChunkStore,
// FileChunkStore and BufferedChunkStore.
type Store interface {
	Store(id, data []byte) error
	Get(id []byte) ([]byte, bool)
	Delete(id []byte) error
	Modify(id, newData []byte) error
	MoveTo(id []byte, other Store) error

	Has(id []byte) bool
	Count() uint64
	CountOf(id []byte) uint64
	Size() uint64
	SizeOf(id []byte) uint64
	Empty() bool
	Clear()
	Capacity() uint64
	SetCapacity(c uint64)
	Vacant(n uint64) bool
}

// HashFunc computes the content hash used to decide whether an id is
// hash-named. The default is SHA-256; it is injectable so tests can use a
// cheap fixture hash.
type HashFunc func(data []byte) []byte

func defaultHash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func isHashNamed(hash HashFunc, id, data []byte) bool {
	return string(hash(data)) == string(id)
}

func key(id []byte) string { return string(id) }

// acceptTransfer is implemented by every Store so MoveTo can move a single
// reference between heterogeneous store implementations without either
// side needing to know the other's concrete type.
type acceptTransfer interface {
	acceptOne(id, data []byte) error
}

func moveTo(self Store, id []byte, other Store, removeOne func() error) error {
	if self == other {
		return errInvalidArgument("MoveTo", "cannot move within the same store")
	}
	if len(id) == 0 {
		return errInvalidArgument("MoveTo", "empty id")
	}
	if !self.Has(id) {
		return errNotFound("MoveTo", id)
	}
	data, _ := self.Get(id)
	acc, ok := other.(acceptTransfer)
	if !ok {
		return errInvalidArgument("MoveTo", "destination store does not support transfer")
	}
	if err := acc.acceptOne(id, data); err != nil {
		return err
	}
	return removeOne()
}

// cloneBytes returns an independent copy of b so stored data is never
// aliased with a caller's slice.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// entry is the value half of a MemoryChunkStore/FileChunkStore-in-memory
// index mapping.
type entry struct {
	data []byte
	refs uint64
}
