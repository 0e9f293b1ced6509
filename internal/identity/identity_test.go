package identity

import (
	"os"
	"testing"
)

func TestLoadGeneratesAndPersistsKeypair(t *testing.T) {
	dir := t.TempDir()
	svc, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if svc.LocalDID() == "" {
		t.Fatal("expected a non-empty DID")
	}
	if _, err := os.Stat(dir + "/identity.json"); err != nil {
		t.Fatalf("expected identity.json to be persisted: %v", err)
	}

	svc2, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if svc2.LocalDID() != svc.LocalDID() {
		t.Fatalf("expected the same DID across restarts, got %q and %q", svc.LocalDID(), svc2.LocalDID())
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	svc, err := Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	msg := []byte("hello duxnet")
	sig := svc.Sign(msg)
	if !Verify(svc.LocalDID(), msg, sig) {
		t.Fatal("expected signature to verify against its own DID")
	}
	if Verify(svc.LocalDID(), []byte("tampered"), sig) {
		t.Fatal("expected signature to fail over a different message")
	}
}

func TestVerifyRejectsMalformedDID(t *testing.T) {
	if Verify(DID("not-a-did"), []byte("x"), []byte("y")) {
		t.Fatal("expected malformed DID to fail verification, not panic or pass")
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	a, err := Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Load a: %v", err)
	}
	b, err := Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Load b: %v", err)
	}
	msg := []byte("payload")
	sigFromA := a.Sign(msg)
	if Verify(b.LocalDID(), msg, sigFromA) {
		t.Fatal("expected a signature made by a to fail against b's DID")
	}
}
