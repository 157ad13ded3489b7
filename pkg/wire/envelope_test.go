package wire

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := StartVaultRequest{AccountName: "alice"}
	payload, err := Encode(TypeStartVaultRequest, req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	env, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != TypeStartVaultRequest {
		t.Fatalf("Type = %v, want %v", env.Type, TypeStartVaultRequest)
	}

	var got StartVaultRequest
	if err := DecodeBody(env, &got); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if got.AccountName != "alice" {
		t.Fatalf("AccountName = %q, want alice", got.AccountName)
	}
}

func TestEncodeEmptyBody(t *testing.T) {
	payload, err := Encode(TypeVaultShutdownRequest, VaultShutdownRequest{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != TypeVaultShutdownRequest {
		t.Fatalf("Type = %v, want %v", env.Type, TypeVaultShutdownRequest)
	}
}

func TestMessageTypeString(t *testing.T) {
	if TypeStartVaultRequest.String() != "StartVaultRequest" {
		t.Fatalf("String() = %q", TypeStartVaultRequest.String())
	}
	if MessageType(9999).String() != "Unknown" {
		t.Fatalf("unknown type should stringify to Unknown")
	}
}
