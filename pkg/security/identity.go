package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/maidsafe/vault-mgr/pkg/types"
)

// GenerateVaultKeys creates a fresh Ed25519 keypair for a newly
// spawned vault worker. The manager hands this pair to the worker in
// a VaultIdentityResponse and keeps its own copy for signature checks
// on StopVaultRequest (§4.7 step 6).
func GenerateVaultKeys() (*types.VaultKeys, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate vault keys: %w", err)
	}
	return &types.VaultKeys{PublicKey: pub, PrivateKey: priv}, nil
}

// NewChallenge returns a fresh random nonce for the C6 Unvalidated
// state: the manager sends this to a newly connected client and
// expects a signature over it back in the validation request.
func NewChallenge() ([]byte, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate challenge: %w", err)
	}
	return nonce, nil
}

// Sign signs message with priv. Used by a client to answer a
// challenge, and by a StopVaultRequest caller to prove ownership of
// the vault's public key.
func Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Verify reports whether signature is a valid Ed25519 signature over
// message under pub. Any length mismatch is treated as a verification
// failure rather than a panic.
func Verify(pub ed25519.PublicKey, message, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, message, signature)
}
