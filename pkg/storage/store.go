package storage

import (
	"github.com/maidsafe/vault-mgr/pkg/types"
)

// Store persists state that outlives a manager restart: chunk-store
// summaries and vault records. Nothing in this module reads them back
// on startup: a FileChunkStore rebuilds its summary by walking its
// directory, and the Invigilator starts with no tracked workers.
type Store interface {
	// Chunk store summaries, keyed by the store's root directory.
	SaveChunkStoreSummary(summary *types.ChunkStoreSummary) error
	GetChunkStoreSummary(root string) (*types.ChunkStoreSummary, error)
	DeleteChunkStoreSummary(root string) error

	// Vault records, keyed by process index.
	SaveVaultRecord(record *types.VaultRecord) error
	GetVaultRecord(processIndex uint32) (*types.VaultRecord, error)
	ListVaultRecords() ([]*types.VaultRecord, error)
	DeleteVaultRecord(processIndex uint32) error

	Close() error
}
