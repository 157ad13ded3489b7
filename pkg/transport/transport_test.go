package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/maidsafe/vault-mgr/pkg/wire"
)

func TestTransport_SendReceiveRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var got []byte
	received := make(chan struct{}, 1)

	server, err := Listen(0, func(conn *Connection, payload []byte) {
		mu.Lock()
		got = payload
		mu.Unlock()
		received <- struct{}{}
	}, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	client, err := Listen(0, nil, nil)
	if err != nil {
		t.Fatalf("Listen client: %v", err)
	}
	defer client.Close()

	conn, err := client.Dial(server.Port())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := SendEnvelope(conn, wire.TypeStartVaultRequest, wire.StartVaultRequest{AccountName: "bob"}); err != nil {
		t.Fatalf("SendEnvelope: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}

	env, err := wire.Decode(got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != wire.TypeStartVaultRequest {
		t.Fatalf("Type = %v, want StartVaultRequest", env.Type)
	}
	var req wire.StartVaultRequest
	if err := wire.DecodeBody(env, &req); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if req.AccountName != "bob" {
		t.Fatalf("AccountName = %q, want bob", req.AccountName)
	}
}

func TestTransport_OversizePayloadRejected(t *testing.T) {
	server, err := Listen(0, nil, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	client, err := Listen(0, nil, nil)
	if err != nil {
		t.Fatalf("Listen client: %v", err)
	}
	defer client.Close()

	conn, err := client.Dial(server.Port())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	oversized := make([]byte, MaxFrameSize+1)
	if err := conn.Send(oversized); err == nil {
		t.Fatalf("Send of oversize payload did not error")
	}
}

func TestTransport_CloseIsIdempotent(t *testing.T) {
	server, err := Listen(0, nil, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	client, err := Listen(0, nil, nil)
	if err != nil {
		t.Fatalf("Listen client: %v", err)
	}
	conn, err := client.Dial(server.Port())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	conn.Close()
	conn.Close() // must not panic

	server.Close()
	client.Close()
}

func TestTransport_ErrorHandlerFiresOnPeerClose(t *testing.T) {
	closedCh := make(chan struct{}, 1)

	server, err := Listen(0, nil, func(conn *Connection, err error) {
		closedCh <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	client, err := Listen(0, nil, nil)
	if err != nil {
		t.Fatalf("Listen client: %v", err)
	}

	conn, err := client.Dial(server.Port())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()
	client.Close()

	select {
	case <-closedCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("server-side error handler did not fire after peer close")
	}
}
