package manager

import (
	"testing"
	"time"

	"github.com/maidsafe/vault-mgr/pkg/security"
	"github.com/maidsafe/vault-mgr/pkg/transport"
)

func dialPair(t *testing.T) (*transport.Transport, *transport.Connection) {
	t.Helper()
	srv, err := transport.Listen(0, nil, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(srv.Close)
	cli, err := srv.Dial(srv.Port())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return srv, cli
}

func TestClientConnections_ValidateSuccess(t *testing.T) {
	_, conn := dialPair(t)
	c := NewClientConnections()

	keys, err := security.GenerateVaultKeys()
	if err != nil {
		t.Fatalf("GenerateVaultKeys: %v", err)
	}

	challenge, err := c.AddUnvalidated(conn, nil)
	if err != nil {
		t.Fatalf("AddUnvalidated: %v", err)
	}

	sig := security.Sign(keys.PrivateKey, challenge)
	if err := c.Validate(conn, "alice", keys.PublicKey, sig); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	identity, err := c.FindValidated(conn)
	if err != nil {
		t.Fatalf("FindValidated: %v", err)
	}
	if identity != "alice" {
		t.Fatalf("identity = %q, want alice", identity)
	}
}

func TestClientConnections_ValidateBadSignatureRemoves(t *testing.T) {
	_, conn := dialPair(t)
	c := NewClientConnections()

	keys, _ := security.GenerateVaultKeys()
	other, _ := security.GenerateVaultKeys()

	challenge, err := c.AddUnvalidated(conn, nil)
	if err != nil {
		t.Fatalf("AddUnvalidated: %v", err)
	}
	badSig := security.Sign(other.PrivateKey, challenge)

	if err := c.Validate(conn, "alice", keys.PublicKey, badSig); err == nil {
		t.Fatalf("Validate with wrong key did not error")
	}

	if _, err := c.FindValidated(conn); err == nil {
		t.Fatalf("FindValidated should error once entry removed after bad signature")
	}
}

func TestClientConnections_FindValidatedUnvalidated(t *testing.T) {
	_, conn := dialPair(t)
	c := NewClientConnections()
	if _, err := c.AddUnvalidated(conn, nil); err != nil {
		t.Fatalf("AddUnvalidated: %v", err)
	}
	if _, err := c.FindValidated(conn); err == nil {
		t.Fatalf("FindValidated should error for a still-unvalidated connection")
	}
}

func TestClientConnections_FindValidatedAbsent(t *testing.T) {
	_, conn := dialPair(t)
	c := NewClientConnections()
	if _, err := c.FindValidated(conn); err == nil {
		t.Fatalf("FindValidated should error for an unregistered connection")
	}
}

func TestClientConnections_ChallengeExpiry(t *testing.T) {
	_, conn := dialPair(t)
	c := NewClientConnections()
	c.challengeTimeout = 30 * time.Millisecond

	expired := make(chan struct{}, 1)
	if _, err := c.AddUnvalidated(conn, func(*transport.Connection) { expired <- struct{}{} }); err != nil {
		t.Fatalf("AddUnvalidated: %v", err)
	}

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not expire")
	}

	if _, err := c.FindValidated(conn); err == nil {
		t.Fatalf("expired connection should no longer be found")
	}
}

func TestClientConnections_RemoveIdempotent(t *testing.T) {
	_, conn := dialPair(t)
	c := NewClientConnections()
	if _, err := c.AddUnvalidated(conn, nil); err != nil {
		t.Fatalf("AddUnvalidated: %v", err)
	}
	c.Remove(conn)
	c.Remove(conn) // must not panic
	if _, err := c.FindValidated(conn); err == nil {
		t.Fatalf("removed connection should not be found")
	}
}
