package service

import (
	"testing"

	"duxnet.io/node/internal/dht"
)

type fakeReputation struct{ scores map[string]float64 }

func (f fakeReputation) GetScore(did string) float64 { return f.scores[did] }

func newStore(t *testing.T) *dht.Store {
	t.Helper()
	s, err := dht.New(10, nil, nil)
	if err != nil {
		t.Fatalf("dht.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestRegisterRejectsEmptyID(t *testing.T) {
	r := New(newStore(t), nil, nil)
	if _, err := r.Register("", "did:duxnet:p", "n", "d", "e", 10); err == nil {
		t.Fatal("expected an empty id to be rejected")
	}
}

func TestRegisterAndGetRoundTrip(t *testing.T) {
	rep := fakeReputation{scores: map[string]float64{"did:duxnet:p": 0.75}}
	r := New(newStore(t), rep, nil)
	m, err := r.Register("svc1", "did:duxnet:p", "Transcoding", "video transcoding", "https://p.example/svc1", 500)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if m.ReputationScore != 0.75 {
		t.Fatalf("expected reputation score stamped at registration, got %v", m.ReputationScore)
	}
	got, err := r.Get("svc1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Transcoding" {
		t.Fatalf("unexpected name: %q", got.Name)
	}
}

func TestRegisterReplacesPriorEntry(t *testing.T) {
	r := New(newStore(t), nil, nil)
	if _, err := r.Register("svc1", "did:duxnet:p", "Old Name", "old", "e1", 100); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register("svc1", "did:duxnet:p", "New Name", "new", "e2", 200); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := r.Get("svc1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "New Name" || got.Price != 200 {
		t.Fatalf("expected re-registration to replace the prior entry wholesale, got %+v", got)
	}
}

func TestSearchFiltersAndSortsByReputationThenName(t *testing.T) {
	rep := fakeReputation{scores: map[string]float64{
		"did:duxnet:a": 0.2,
		"did:duxnet:b": 0.9,
		"did:duxnet:c": 0.9,
	}}
	r := New(newStore(t), rep, nil)
	if _, err := r.Register("svc-a", "did:duxnet:a", "Video Encoding", "desc", "e", 1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register("svc-b", "did:duxnet:b", "Zeta Encoding", "desc", "e", 1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register("svc-c", "did:duxnet:c", "Alpha Encoding", "desc", "e", 1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register("svc-d", "did:duxnet:a", "Unrelated Storage", "desc", "e", 1); err != nil {
		t.Fatalf("Register: %v", err)
	}

	results := r.Search("encoding")
	if len(results) != 3 {
		t.Fatalf("expected 3 matches for 'encoding', got %d", len(results))
	}
	if results[0].Name != "Alpha Encoding" || results[1].Name != "Zeta Encoding" || results[2].Name != "Video Encoding" {
		names := []string{results[0].Name, results[1].Name, results[2].Name}
		t.Fatalf("expected reputation-desc then name-asc order, got %v", names)
	}
}
