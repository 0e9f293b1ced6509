package transport

import (
	"encoding/json"
	"testing"
)

func TestInMemoryBusDeliversToSubscriber(t *testing.T) {
	b := NewInMemoryBus()
	var gotKind Kind
	var gotKey string
	if err := b.Subscribe("service", func(peerDID string, f Frame) {
		gotKind = f.Kind
		var env struct {
			Key   string `json:"key"`
			Value []byte `json:"value"`
		}
		_ = json.Unmarshal(f.Payload, &env)
		gotKey = env.Key
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := b.Announce("service", "service:abc", []byte("payload")); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if gotKind != KindServiceAnnouncement {
		t.Fatalf("expected a ServiceAnnouncement frame, got %q", gotKind)
	}
	if gotKey != "service:abc" {
		t.Fatalf("expected key %q, got %q", "service:abc", gotKey)
	}
}

func TestInMemoryBusDeliversToEveryCategorySubscriber(t *testing.T) {
	b := NewInMemoryBus()
	var calls int
	for i := 0; i < 3; i++ {
		if err := b.Subscribe("escrow", func(peerDID string, f Frame) { calls++ }); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}
	if err := b.Announce("escrow", "escrow:1", nil); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected all 3 subscribers to be notified, got %d", calls)
	}
}

func TestKindForUnknownCategoryIsNamespaced(t *testing.T) {
	if got := kindForCategory("unknown"); got != "category:unknown" {
		t.Fatalf("expected a namespaced fallback kind, got %q", got)
	}
}
