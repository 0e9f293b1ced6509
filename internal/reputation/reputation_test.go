package reputation

import (
	"testing"
	"time"

	"duxnet.io/node/internal/dht"
	"duxnet.io/node/internal/identity"
)

func newStore(t *testing.T) *dht.Store {
	t.Helper()
	s, err := dht.New(10, nil, nil)
	if err != nil {
		t.Fatalf("dht.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestAddAttestationRejectsBadSignature(t *testing.T) {
	acc := New(newStore(t), 100, nil)
	att := Attestation{
		AttesterDID:     "did:duxnet:deadbeef",
		TargetDID:       "did:duxnet:target",
		Score:           0.9,
		InteractionType: "task_completed",
		Timestamp:       time.Now().Unix(),
		Signature:       []byte("not-a-real-signature"),
	}
	if err := acc.AddAttestation(att); err == nil {
		t.Fatal("expected an unsigned attestation to be rejected")
	}
}

func TestGetScoreIsWindowedMean(t *testing.T) {
	attester, err := identity.Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	acc := New(newStore(t), 2, nil)

	scores := []float64{1.0, 0.5, 0.0}
	for i, sc := range scores {
		att := Attestation{
			AttesterDID:     string(attester.LocalDID()),
			TargetDID:       "did:duxnet:target",
			Score:           sc,
			InteractionType: "task_completed",
			Timestamp:       int64(1000 + i),
		}
		att.Signature = attester.Sign(att.CanonicalBytes())
		if err := acc.AddAttestation(att); err != nil {
			t.Fatalf("AddAttestation %d: %v", i, err)
		}
	}

	// window size 2: only the two most recent (0.5, 0.0) should count.
	got := acc.GetScore("did:duxnet:target")
	want := 0.25
	if got != want {
		t.Fatalf("got mean %v, want %v", got, want)
	}
}

func TestGetScoreOfUnknownDIDIsZero(t *testing.T) {
	acc := New(newStore(t), 100, nil)
	if got := acc.GetScore("did:duxnet:nobody"); got != 0.0 {
		t.Fatalf("expected 0.0 for an unknown DID, got %v", got)
	}
}
