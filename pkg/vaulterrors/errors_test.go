package vaulterrors

import (
	"errors"
	"testing"
)

func TestNewAndIs(t *testing.T) {
	err := New("Store.Get", KindNotFound)

	if !Is(err, KindNotFound) {
		t.Fatalf("Is(err, KindNotFound) = false, want true")
	}
	if Is(err, KindInvalidSignature) {
		t.Fatalf("Is(err, KindInvalidSignature) = true, want false")
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap("op", KindIO, nil) != nil {
		t.Fatalf("Wrap(op, kind, nil) should return nil")
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap("ChunkStore.Store", KindOutOfCapacity, cause)

	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("errors.As failed to find *Error")
	}
	if ve.Kind != KindOutOfCapacity {
		t.Fatalf("Kind = %v, want %v", ve.Kind, KindOutOfCapacity)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false, want true via Unwrap")
	}
}

func TestIsThroughWrappedChain(t *testing.T) {
	inner := New("ClientConnections.Validate", KindInvalidSignature)
	outer := Wrap("Invigilator.StopVault", KindTransport, inner)

	// Is walks Unwrap chains looking for the first *Error it finds, which
	// here is outer itself since Wrap constructs a fresh *Error rather
	// than nesting one inside another's Err field transparently.
	if !Is(outer, KindTransport) {
		t.Fatalf("Is(outer, KindTransport) = false, want true")
	}
}

func TestErrorMessageFormat(t *testing.T) {
	err := New("Invigilator.StopVault", KindNotFound)
	want := "Invigilator.StopVault: not_found"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := Wrap("ChunkStore.Get", KindIO, errors.New("boom"))
	wantWrapped := "ChunkStore.Get: io: boom"
	if wrapped.Error() != wantWrapped {
		t.Fatalf("Error() = %q, want %q", wrapped.Error(), wantWrapped)
	}
}
