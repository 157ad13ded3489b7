package manager

import (
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/maidsafe/vault-mgr/pkg/metrics"
	"github.com/maidsafe/vault-mgr/pkg/security"
	"github.com/maidsafe/vault-mgr/pkg/transport"
	"github.com/maidsafe/vault-mgr/pkg/vaulterrors"
)

// defaultChallengeTimeout is how long an Unvalidated connection has to
// answer its challenge before it is dropped (§4.6).
const defaultChallengeTimeout = 10 * time.Second

type unvalidatedEntry struct {
	challenge []byte
	timer     *time.Timer
}

type validatedEntry struct {
	identity string // the validating key's name/account handle
}

// ClientConnections is C6: the challenge/signature state machine every
// connection to the Invigilator passes through before it may issue
// StartVaultRequest/StopVaultRequest/UpdateIntervalRequest.
//
// Both maps are guarded by one mutex; the mutex is always
// released before invoking a caller-supplied callback, since that
// callback may re-enter this component (e.g. to Remove the very
// connection it was called about).
type ClientConnections struct {
	mu               sync.Mutex
	unvalidated      map[*transport.Connection]*unvalidatedEntry
	validated        map[*transport.Connection]*validatedEntry
	challengeTimeout time.Duration
}

// NewClientConnections builds an empty registry.
func NewClientConnections() *ClientConnections {
	return &ClientConnections{
		unvalidated:      make(map[*transport.Connection]*unvalidatedEntry),
		validated:        make(map[*transport.Connection]*validatedEntry),
		challengeTimeout: defaultChallengeTimeout,
	}
}

// AddUnvalidated registers conn with a fresh challenge nonce and an
// expiry timer; onExpire is invoked (outside the lock) if the timer
// fires before Validate is called.
func (c *ClientConnections) AddUnvalidated(conn *transport.Connection, onExpire func(*transport.Connection)) ([]byte, error) {
	challenge, err := security.NewChallenge()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	timer := time.AfterFunc(c.challengeTimeout, func() {
		c.mu.Lock()
		_, stillPending := c.unvalidated[conn]
		if stillPending {
			delete(c.unvalidated, conn)
		}
		c.mu.Unlock()
		if stillPending {
			metrics.ChallengeFailuresTotal.Inc()
			if onExpire != nil {
				onExpire(conn)
			}
		}
	})
	c.unvalidated[conn] = &unvalidatedEntry{challenge: challenge, timer: timer}
	c.mu.Unlock()

	return challenge, nil
}

// Validate checks signature over the stored challenge for conn. On
// success, conn moves to Validated under identity and the expiry
// timer is cancelled. On failure the entry is removed and an error
// returned.
func (c *ClientConnections) Validate(conn *transport.Connection, identity string, publicKey ed25519.PublicKey, signature []byte) error {
	c.mu.Lock()
	entry, ok := c.unvalidated[conn]
	if !ok {
		c.mu.Unlock()
		return vaulterrors.New("ClientConnections.Validate", vaulterrors.KindNotFound)
	}

	if !security.Verify(publicKey, entry.challenge, signature) {
		delete(c.unvalidated, conn)
		c.mu.Unlock()
		entry.timer.Stop()
		metrics.ChallengeFailuresTotal.Inc()
		return vaulterrors.New("ClientConnections.Validate", vaulterrors.KindInvalidSignature)
	}

	entry.timer.Stop()
	delete(c.unvalidated, conn)
	c.validated[conn] = &validatedEntry{identity: identity}
	c.mu.Unlock()
	return nil
}

// FindValidated returns the identity bound to conn, or an error if
// conn is still unvalidated or is not registered at all.
func (c *ClientConnections) FindValidated(conn *transport.Connection) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.validated[conn]; ok {
		return v.identity, nil
	}
	if _, ok := c.unvalidated[conn]; ok {
		return "", vaulterrors.New("ClientConnections.FindValidated", vaulterrors.KindInvalidSignature)
	}
	return "", vaulterrors.New("ClientConnections.FindValidated", vaulterrors.KindNotFound)
}

// Remove erases conn from whichever map holds it. Idempotent.
func (c *ClientConnections) Remove(conn *transport.Connection) {
	c.mu.Lock()
	if entry, ok := c.unvalidated[conn]; ok {
		entry.timer.Stop()
		delete(c.unvalidated, conn)
	}
	delete(c.validated, conn)
	c.mu.Unlock()
}

// ValidatedConnections returns a snapshot of every currently validated
// connection, used to broadcast NewVersionAvailable (§4.7 step 8).
func (c *ClientConnections) ValidatedConnections() []*transport.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	conns := make([]*transport.Connection, 0, len(c.validated))
	for conn := range c.validated {
		conns = append(conns, conn)
	}
	return conns
}
