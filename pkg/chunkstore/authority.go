package chunkstore

import "crypto/ed25519"

// Authority is the ChunkActionAuthority contract (C4): an external policy
// object consulted by callers above the value-neutral Store
// implementations. Store/MemoryChunkStore/FileChunkStore/
// BufferedChunkStore never call into an Authority themselves.
type Authority interface {
	// IsHashable reports whether id is expected to be a content hash for
	// this chunk's type, derived from the id's leading type-prefix byte.
	IsHashable(id []byte) bool
	// MayModify reports whether actor may Modify id.
	MayModify(id []byte, actor ed25519.PublicKey) bool
	// MayDelete reports whether actor may Delete/MarkForDeletion id.
	MayDelete(id []byte, actor ed25519.PublicKey) bool
}

// ChunkType is the leading id byte used to select a modification policy.
type ChunkType byte

const (
	// TypeImmutable marks ids that must be content hashes (default/zero).
	TypeImmutable ChunkType = 0x00
	// TypeOwnerModifiable marks ids whose owner (identified by an
	// attached public key record) may Modify/Delete without re-proving
	// the content hash.
	TypeOwnerModifiable ChunkType = 0x01
)

// NullAuthority is maximally permissive: every id is treated as
// non-hashable and every actor may modify or delete, reflecting that
// C1/C2/C3 are value-neutral per the design spec. The stores in this
// package do not consult any authority themselves.
type NullAuthority struct{}

func (NullAuthority) IsHashable(id []byte) bool                         { return false }
func (NullAuthority) MayModify(id []byte, actor ed25519.PublicKey) bool { return true }
func (NullAuthority) MayDelete(id []byte, actor ed25519.PublicKey) bool { return true }

// OwnerRecord binds a chunk id to the public key allowed to modify or
// delete it, for chunk types that are not hash-named.
type OwnerRecord struct {
	ID    []byte
	Owner ed25519.PublicKey
}

// DefaultAuthority derives hashability from the id's leading type byte and
// checks modify/delete permission against a registered owner's Ed25519
// public key.
type DefaultAuthority struct {
	owners map[string]ed25519.PublicKey
}

// NewDefaultAuthority builds an authority with no registered owners; use
// RegisterOwner to grant modify/delete rights over a specific id.
func NewDefaultAuthority() *DefaultAuthority {
	return &DefaultAuthority{owners: make(map[string]ed25519.PublicKey)}
}

// RegisterOwner records that owner may modify/delete id.
func (a *DefaultAuthority) RegisterOwner(id []byte, owner ed25519.PublicKey) {
	a.owners[key(id)] = owner
}

func (a *DefaultAuthority) IsHashable(id []byte) bool {
	if len(id) == 0 {
		return true
	}
	return ChunkType(id[0]) == TypeImmutable
}

func (a *DefaultAuthority) MayModify(id []byte, actor ed25519.PublicKey) bool {
	if a.IsHashable(id) {
		return false // hash-named chunks are never modifiable by actor identity
	}
	owner, ok := a.owners[key(id)]
	return ok && ed25519PublicKeyEqual(owner, actor)
}

func (a *DefaultAuthority) MayDelete(id []byte, actor ed25519.PublicKey) bool {
	owner, ok := a.owners[key(id)]
	if !ok {
		return false
	}
	return ed25519PublicKeyEqual(owner, actor)
}

func ed25519PublicKeyEqual(a, b ed25519.PublicKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
