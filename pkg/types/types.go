package types

import (
	"crypto/ed25519"
	"time"
)

// VaultKeys is the Ed25519 identity handed to a vault worker when it
// requests its identity, before it joins the network. Keys are generated
// by the manager and delivered over VaultIdentityResponse.
type VaultKeys struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// VaultStatus tracks a vault record's position in the C7 lifecycle.
type VaultStatus string

const (
	VaultStatusPending VaultStatus = "pending" // spawned, awaiting VaultIdentityRequest
	VaultStatusJoining VaultStatus = "joining" // identity delivered, awaiting VaultJoinedNetwork
	VaultStatusRunning VaultStatus = "running"
	VaultStatusFailed  VaultStatus = "failed" // restart ceiling exceeded, or join reported as failed
	VaultStatusStopped VaultStatus = "stopped"
)

// VaultRecord is the Invigilator's bookkeeping entry for one spawned
// vault worker process, keyed by ProcessIndex. It is persisted so the
// records outlive a manager restart; the Invigilator does not reload
// them when it starts.
type VaultRecord struct {
	ProcessIndex      uint32
	AccountName       string
	Keys              *VaultKeys
	ListeningPort     int // worker's own loopback listener, 0 until VaultIdentityRequest arrives
	ClientConnID      string
	Status            VaultStatus
	JoinConfirmed     bool
	ShutdownRequested bool
	RestartCount      int
	RestartBackoff    time.Duration
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ChunkStoreSummary is the persisted (count, total_size) pair a
// FileChunkStore rebuilds on restart by walking its directory tree.
// NewFileChunkStore always walks; a stored summary is not loaded by
// anything in this module, and RestoreSummary takes only a size.
type ChunkStoreSummary struct {
	Root      string
	Count     uint64
	TotalSize uint64
	UpdatedAt time.Time
}
