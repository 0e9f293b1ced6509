package dht

import (
	"testing"
	"time"
)

func TestStoreGetRoundTrip(t *testing.T) {
	s, err := New(10, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Store("service:abc", []byte("payload"), 0, "did:duxnet:x"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	v, ok := s.Get("service:abc")
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if string(v) != "payload" {
		t.Fatalf("got %q, want %q", v, "payload")
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	s, err := New(10, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Store("escrow:1", []byte("x"), 0, "did:duxnet:x"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok := s.Get("escrow:1"); !ok {
		t.Fatal("expected a zero-TTL entry to never expire")
	}
}

func TestPositiveTTLExpires(t *testing.T) {
	s, err := New(10, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Store("did_heartbeat:did:duxnet:x", []byte("1"), time.Millisecond, "did:duxnet:x"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, ok := s.Get("did_heartbeat:did:duxnet:x"); ok {
		t.Fatal("expected entry to have expired")
	}
	if active := s.GetActiveDIDs(); len(active) != 0 {
		t.Fatalf("expected no active DIDs after expiry, got %v", active)
	}
}

func TestApplyRemoteLastWriterWins(t *testing.T) {
	s, err := New(10, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.ApplyRemote("service:x", []byte("old"), 0, 100, "did:duxnet:a")
	s.ApplyRemote("service:x", []byte("stale"), 0, 50, "did:duxnet:b")
	v, _ := s.Get("service:x")
	if string(v) != "old" {
		t.Fatalf("expected older-timestamp write to be rejected, got %q", v)
	}

	s.ApplyRemote("service:x", []byte("new"), 0, 200, "did:duxnet:c")
	v, _ = s.Get("service:x")
	if string(v) != "new" {
		t.Fatalf("expected newer-timestamp write to win, got %q", v)
	}
}

func TestApplyRemoteTiebreakByDID(t *testing.T) {
	s, err := New(10, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.ApplyRemote("service:x", []byte("from-b"), 0, 100, "did:duxnet:b")
	s.ApplyRemote("service:x", []byte("from-a"), 0, 100, "did:duxnet:a")
	v, _ := s.Get("service:x")
	if string(v) != "from-b" {
		t.Fatalf("expected the lexicographically larger DID to win a tie, got %q", v)
	}
}

func TestListByPrefixAndStats(t *testing.T) {
	s, err := New(10, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	_ = s.Store("service:1", []byte("a"), 0, "d1")
	_ = s.Store("service:2", []byte("b"), 0, "d1")
	_ = s.Store("escrow:1", []byte("c"), 0, "d1")

	kvs := s.ListByPrefix("service:")
	if len(kvs) != 2 {
		t.Fatalf("expected 2 service entries, got %d", len(kvs))
	}

	stats := s.Stats()
	if stats.CategoryCounts["service"] != 2 || stats.CategoryCounts["escrow"] != 1 {
		t.Fatalf("unexpected category counts: %+v", stats.CategoryCounts)
	}
}

func TestStoreCommunityFundTransactionIsIdempotent(t *testing.T) {
	s, err := New(10, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.StoreCommunityFundTransaction("tx1", "BTC", "did:duxnet:x", 10, []byte("rec1")); err != nil {
		t.Fatalf("first StoreCommunityFundTransaction: %v", err)
	}
	if err := s.StoreCommunityFundTransaction("tx1", "BTC", "did:duxnet:x", 999, []byte("rec2")); err != nil {
		t.Fatalf("second StoreCommunityFundTransaction: %v", err)
	}
	v, ok := s.Get(PrefixFundTx + "tx1")
	if !ok {
		t.Fatal("expected transaction to be stored")
	}
	if string(v) != "rec1" {
		t.Fatalf("expected the first write to stick, got %q", v)
	}
}

func TestRegisterPeerAndPeers(t *testing.T) {
	s, err := New(2, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.RegisterPeer("did:duxnet:a", "/ip4/1.2.3.4/tcp/4001", time.Now())
	s.RegisterPeer("did:duxnet:b", "/ip4/1.2.3.5/tcp/4001", time.Now())
	if len(s.Peers()) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(s.Peers()))
	}
}
