// Package wire defines the loopback wire protocol between a client,
// the Invigilator, and vault workers: a 4-byte big-endian frame length
// followed by an envelope of a uint16 message type and a gob-encoded
// body (§6). Every message type below has a concrete Go struct; a
// schema is not "external" the way the spec treats it, since this
// module has no other language's stub generator to share one with.
package wire

import (
	"crypto/ed25519"

	"github.com/maidsafe/vault-mgr/pkg/types"
)

// MessageType identifies the body that follows in an Envelope.
type MessageType uint16

const (
	TypeClientRegistrationRequest MessageType = iota + 1
	TypeClientRegistrationResponse
	TypeStartVaultRequest
	TypeStartVaultResponse
	TypeStopVaultRequest
	TypeStopVaultResponse
	TypeUpdateIntervalRequest
	TypeUpdateIntervalResponse
	TypeVaultIdentityRequest
	TypeVaultIdentityResponse
	TypeVaultJoinedNetwork
	TypeVaultJoinedNetworkAck
	TypeVaultJoinConfirmation
	TypeVaultJoinConfirmationAck
	TypeVaultShutdownRequest
	TypeVaultShutdownResponse
	TypeNewVersionAvailable
	TypeNewVersionAvailableAck
	TypeValidateConnectionRequest
	TypeValidateConnectionResponse
)

// String names a MessageType for logging.
func (t MessageType) String() string {
	switch t {
	case TypeClientRegistrationRequest:
		return "ClientRegistrationRequest"
	case TypeClientRegistrationResponse:
		return "ClientRegistrationResponse"
	case TypeStartVaultRequest:
		return "StartVaultRequest"
	case TypeStartVaultResponse:
		return "StartVaultResponse"
	case TypeStopVaultRequest:
		return "StopVaultRequest"
	case TypeStopVaultResponse:
		return "StopVaultResponse"
	case TypeUpdateIntervalRequest:
		return "UpdateIntervalRequest"
	case TypeUpdateIntervalResponse:
		return "UpdateIntervalResponse"
	case TypeVaultIdentityRequest:
		return "VaultIdentityRequest"
	case TypeVaultIdentityResponse:
		return "VaultIdentityResponse"
	case TypeVaultJoinedNetwork:
		return "VaultJoinedNetwork"
	case TypeVaultJoinedNetworkAck:
		return "VaultJoinedNetworkAck"
	case TypeVaultJoinConfirmation:
		return "VaultJoinConfirmation"
	case TypeVaultJoinConfirmationAck:
		return "VaultJoinConfirmationAck"
	case TypeVaultShutdownRequest:
		return "VaultShutdownRequest"
	case TypeVaultShutdownResponse:
		return "VaultShutdownResponse"
	case TypeNewVersionAvailable:
		return "NewVersionAvailable"
	case TypeNewVersionAvailableAck:
		return "NewVersionAvailableAck"
	case TypeValidateConnectionRequest:
		return "ValidateConnectionRequest"
	case TypeValidateConnectionResponse:
		return "ValidateConnectionResponse"
	default:
		return "Unknown"
	}
}

// ClientRegistrationRequest is the first message a client sends after
// connecting; the manager answers with a challenge nonce.
type ClientRegistrationRequest struct{}

// ClientRegistrationResponse carries the challenge nonce for C6's
// Unvalidated state.
type ClientRegistrationResponse struct {
	Challenge []byte
}

// ValidateConnectionRequest answers a challenge with a signature,
// moving the connection from Unvalidated to Validated.
type ValidateConnectionRequest struct {
	PublicKey ed25519.PublicKey
	Signature []byte
}

// ValidateConnectionResponse reports whether validation succeeded.
type ValidateConnectionResponse struct {
	Validated bool
	Error     string
}

// StartVaultRequest asks the Invigilator to spawn a new vault worker.
type StartVaultRequest struct {
	AccountName string
}

// StartVaultResponse reports early failure of a StartVaultRequest
// (validation, spawn, or pre-handshake worker exit); Error is always set
// on this path and ProcessIndex identifies which spawn failed once one
// has been assigned. A StartVaultRequest that spawns successfully instead
// reaches its eventual outcome via VaultJoinConfirmation (§4.7 step 5),
// not through this type.
type StartVaultResponse struct {
	ProcessIndex uint32
	Error        string
}

// StopVaultRequest asks the Invigilator to shut down a running vault.
// Signature must verify against the vault's own public key over Blob,
// proving the caller is authorized to stop it.
type StopVaultRequest struct {
	ProcessIndex uint32
	Blob         []byte
	Signature    []byte
}

// StopVaultResponse reports whether the stop succeeded.
type StopVaultResponse struct {
	Stopped bool
	Error   string
}

// UpdateIntervalRequest gets (Set false) or sets (Set true, to
// IntervalSeconds) the periodic version-check interval.
type UpdateIntervalRequest struct {
	Set             bool
	IntervalSeconds uint32
}

// UpdateIntervalResponse echoes the current interval; 0 means failure.
type UpdateIntervalResponse struct {
	IntervalSeconds uint32
}

// VaultIdentityRequest is sent by a newly spawned worker once it has
// its own loopback listener up.
type VaultIdentityRequest struct {
	ProcessIndex  uint32
	ListeningPort int
}

// VaultIdentityResponse hands the worker its keys, account name, and
// bootstrap nodes.
type VaultIdentityResponse struct {
	Keys           *types.VaultKeys
	AccountName    string
	BootstrapNodes []string
	Error          string
}

// VaultJoinedNetwork is sent by the worker once it has joined.
type VaultJoinedNetwork struct {
	ProcessIndex uint32
	PublicKey    ed25519.PublicKey
	Joined       bool
}

// VaultJoinedNetworkAck acknowledges VaultJoinedNetwork.
type VaultJoinedNetworkAck struct{}

// VaultJoinConfirmation is forwarded by the manager to the originating
// client connection once the worker reports VaultJoinedNetwork.
type VaultJoinConfirmation struct {
	ProcessIndex uint32
	PublicKey    ed25519.PublicKey
	Joined       bool
}

// VaultJoinConfirmationAck acknowledges VaultJoinConfirmation.
type VaultJoinConfirmationAck struct{}

// VaultShutdownRequest is sent to a worker's own listening port.
type VaultShutdownRequest struct{}

// VaultShutdownResponse acknowledges a shutdown request.
type VaultShutdownResponse struct{}

// NewVersionAvailable notifies connected clients of a new vault
// executable discovered during the periodic update check.
type NewVersionAvailable struct {
	FilePath string
}

// NewVersionAvailableAck echoes the filepath back.
type NewVersionAvailableAck struct {
	FilePath string
}
