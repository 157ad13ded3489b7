package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/maidsafe/vault-mgr/pkg/security"
	"github.com/maidsafe/vault-mgr/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketChunkSummaries = []byte("chunk_summaries")
	bucketVaultRecords   = []byte("vault_records")
)

// BoltStore implements Store using an embedded BoltDB file. Vault key
// material is encrypted at rest (§11.1/§11.3) via secrets before it
// ever reaches BoltDB's pages.
type BoltStore struct {
	db      *bolt.DB
	secrets *security.SecretsManager
}

// NewBoltStore opens (creating if necessary) a BoltDB file under dataDir.
// encryptionKey must be a 32-byte AES-256 key (see
// security.DeriveKeyFromManagerID); it is used to encrypt VaultRecord.Keys
// before SaveVaultRecord and decrypt it on read.
func NewBoltStore(dataDir string, encryptionKey []byte) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "vault-mgr.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketChunkSummaries, bucketVaultRecords} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	secrets, err := security.NewSecretsManager(encryptionKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize secrets manager: %w", err)
	}

	return &BoltStore{db: db, secrets: secrets}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveChunkStoreSummary upserts the summary for summary.Root.
func (s *BoltStore) SaveChunkStoreSummary(summary *types.ChunkStoreSummary) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunkSummaries)
		data, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		return b.Put([]byte(summary.Root), data)
	})
}

// GetChunkStoreSummary returns the persisted summary for root.
func (s *BoltStore) GetChunkStoreSummary(root string) (*types.ChunkStoreSummary, error) {
	var summary types.ChunkStoreSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunkSummaries)
		data := b.Get([]byte(root))
		if data == nil {
			return fmt.Errorf("chunk store summary not found: %s", root)
		}
		return json.Unmarshal(data, &summary)
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// DeleteChunkStoreSummary removes the summary for root, idempotently.
func (s *BoltStore) DeleteChunkStoreSummary(root string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunkSummaries)
		return b.Delete([]byte(root))
	})
}

// storedVaultRecord is VaultRecord's on-disk shape: Keys (which embeds
// the worker's Ed25519 private key) never reaches BoltDB in the clear.
type storedVaultRecord struct {
	ProcessIndex      uint32
	AccountName       string
	EncryptedKeys     []byte // AES-256-GCM ciphertext of a json-marshaled *types.VaultKeys, nil if Keys is nil
	ListeningPort     int
	ClientConnID      string
	Status            types.VaultStatus
	JoinConfirmed     bool
	ShutdownRequested bool
	RestartCount      int
	RestartBackoff    time.Duration
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s *BoltStore) encodeVaultRecord(record *types.VaultRecord) ([]byte, error) {
	stored := storedVaultRecord{
		ProcessIndex:      record.ProcessIndex,
		AccountName:       record.AccountName,
		ListeningPort:     record.ListeningPort,
		ClientConnID:      record.ClientConnID,
		Status:            record.Status,
		JoinConfirmed:     record.JoinConfirmed,
		ShutdownRequested: record.ShutdownRequested,
		RestartCount:      record.RestartCount,
		RestartBackoff:    record.RestartBackoff,
		CreatedAt:         record.CreatedAt,
		UpdatedAt:         record.UpdatedAt,
	}
	if record.Keys != nil {
		plaintext, err := json.Marshal(record.Keys)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal vault keys: %w", err)
		}
		ciphertext, err := s.secrets.EncryptSecret(plaintext)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt vault keys: %w", err)
		}
		stored.EncryptedKeys = ciphertext
	}
	return json.Marshal(stored)
}

func (s *BoltStore) decodeVaultRecord(data []byte) (*types.VaultRecord, error) {
	var stored storedVaultRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	record := &types.VaultRecord{
		ProcessIndex:      stored.ProcessIndex,
		AccountName:       stored.AccountName,
		ListeningPort:     stored.ListeningPort,
		ClientConnID:      stored.ClientConnID,
		Status:            stored.Status,
		JoinConfirmed:     stored.JoinConfirmed,
		ShutdownRequested: stored.ShutdownRequested,
		RestartCount:      stored.RestartCount,
		RestartBackoff:    stored.RestartBackoff,
		CreatedAt:         stored.CreatedAt,
		UpdatedAt:         stored.UpdatedAt,
	}
	if len(stored.EncryptedKeys) > 0 {
		plaintext, err := s.secrets.DecryptSecret(stored.EncryptedKeys)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt vault keys: %w", err)
		}
		var keys types.VaultKeys
		if err := json.Unmarshal(plaintext, &keys); err != nil {
			return nil, fmt.Errorf("failed to unmarshal vault keys: %w", err)
		}
		record.Keys = &keys
	}
	return record, nil
}

// SaveVaultRecord upserts record, keyed by its ProcessIndex. Keys is
// encrypted with the store's secrets manager before it touches disk.
func (s *BoltStore) SaveVaultRecord(record *types.VaultRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVaultRecords)
		data, err := s.encodeVaultRecord(record)
		if err != nil {
			return err
		}
		return b.Put(processIndexKey(record.ProcessIndex), data)
	})
}

// GetVaultRecord looks up a vault record by process index, decrypting
// Keys on the way out.
func (s *BoltStore) GetVaultRecord(processIndex uint32) (*types.VaultRecord, error) {
	var record *types.VaultRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVaultRecords)
		data := b.Get(processIndexKey(processIndex))
		if data == nil {
			return fmt.Errorf("vault record not found: %d", processIndex)
		}
		decoded, err := s.decodeVaultRecord(data)
		if err != nil {
			return err
		}
		record = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListVaultRecords returns every persisted vault record. The
// Invigilator does not call it on startup.
func (s *BoltStore) ListVaultRecords() ([]*types.VaultRecord, error) {
	var records []*types.VaultRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVaultRecords)
		return b.ForEach(func(k, v []byte) error {
			record, err := s.decodeVaultRecord(v)
			if err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}

// DeleteVaultRecord removes the record for processIndex, idempotently.
func (s *BoltStore) DeleteVaultRecord(processIndex uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVaultRecords)
		return b.Delete(processIndexKey(processIndex))
	})
}

// processIndexKey renders a process index as a big-endian fixed-width
// key so BoltDB's byte-ordered cursor iterates records in index order.
func processIndexKey(processIndex uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, processIndex)
	return key
}
