package vaultcontroller

import (
	"fmt"
	"testing"
	"time"

	"github.com/maidsafe/vault-mgr/pkg/security"
	"github.com/maidsafe/vault-mgr/pkg/transport"
	"github.com/maidsafe/vault-mgr/pkg/types"
	"github.com/maidsafe/vault-mgr/pkg/wire"
)

func TestParseInvigilatorIdentifier(t *testing.T) {
	port, idx, err := ParseInvigilatorIdentifier("4242:7")
	if err != nil {
		t.Fatalf("ParseInvigilatorIdentifier: %v", err)
	}
	if port != 4242 || idx != 7 {
		t.Fatalf("got (%d, %d), want (4242, 7)", port, idx)
	}

	if _, _, err := ParseInvigilatorIdentifier("bad"); err == nil {
		t.Fatalf("expected error for malformed identifier")
	}
}

// fakeManager answers a VaultIdentityRequest with a canned response,
// standing in for pkg/manager's Invigilator.
func newFakeManager(t *testing.T, keys *types.VaultKeys) *transport.Transport {
	t.Helper()
	mgr, err := transport.Listen(0, func(conn *transport.Connection, payload []byte) {
		env, err := wire.Decode(payload)
		if err != nil || env.Type != wire.TypeVaultIdentityRequest {
			return
		}
		transport.SendEnvelope(conn, wire.TypeVaultIdentityResponse, wire.VaultIdentityResponse{
			Keys:           keys,
			AccountName:    "vault-1",
			BootstrapNodes: []string{"127.0.0.1:9000"},
		})
	}, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(mgr.Close)
	return mgr
}

func TestController_StartAndGetIdentity(t *testing.T) {
	keys, err := security.GenerateVaultKeys()
	if err != nil {
		t.Fatalf("GenerateVaultKeys: %v", err)
	}
	mgr := newFakeManager(t, keys)

	c, err := New(fmt.Sprintf("%d:3", mgr.Port()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)

	if err := c.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	gotKeys, account, err := c.GetIdentity()
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if account != "vault-1" {
		t.Fatalf("account = %q, want vault-1", account)
	}
	if string(gotKeys.PublicKey) != string(keys.PublicKey) {
		t.Fatalf("public key mismatch")
	}

	nodes, err := c.GetBootstrapNodes()
	if err != nil {
		t.Fatalf("GetBootstrapNodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0] != "127.0.0.1:9000" {
		t.Fatalf("nodes = %v", nodes)
	}
}

func TestController_ShutdownCallback(t *testing.T) {
	keys, _ := security.GenerateVaultKeys()
	mgr := newFakeManager(t, keys)

	c, err := New(fmt.Sprintf("%d:1", mgr.Port()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)

	stopped := make(chan struct{}, 1)
	if err := c.Start(func() { stopped <- struct{}{} }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, _, err = c.GetIdentity()
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}

	// Simulate Invigilator.requestWorkerShutdown: dial a fresh
	// transport to the controller's own listening port, the one it
	// advertised in its VaultIdentityRequest, and wait for the ack.
	acked := make(chan struct{}, 1)
	dialer, err := transport.Listen(0, func(conn *transport.Connection, payload []byte) {
		env, err := wire.Decode(payload)
		if err == nil && env.Type == wire.TypeVaultShutdownResponse {
			acked <- struct{}{}
		}
	}, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(dialer.Close)

	conn, err := dialer.Dial(c.transport.Port())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := transport.SendEnvelope(conn, wire.TypeVaultShutdownRequest, wire.VaultShutdownRequest{}); err != nil {
		t.Fatalf("SendEnvelope: %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stop callback")
	}
	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for shutdown ack")
	}
}
