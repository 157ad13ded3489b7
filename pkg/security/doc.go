/*
Package security provides the manager's two cryptographic concerns:
Ed25519 vault identities (GenerateVaultKeys, Sign, Verify, NewChallenge
for the C6 challenge/response handshake) and AES-256-GCM encryption of
that key material at rest (SecretsManager's EncryptSecret/DecryptSecret,
keyed by DeriveKeyFromManagerID).

There is no certificate authority here: vault identities are bare
Ed25519 keypairs exchanged over the loopback transport, not X.509
certificates.
*/
package security
