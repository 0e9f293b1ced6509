package messaging

import (
	"testing"

	"duxnet.io/node/internal/identity"
)

func newService(t *testing.T) (*Service, *identity.Service) {
	t.Helper()
	id, err := identity.Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("identity.Load: %v", err)
	}
	return New(id, nil), id
}

func TestSendMarksOwnMessageRead(t *testing.T) {
	s, _ := newService(t)
	msg, err := s.Send("did:duxnet:peer", "hello", TypeText, "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !msg.IsRead {
		t.Fatal("expected a message sent by this node to be marked read")
	}
	convs := s.Conversations()
	if len(convs) != 1 || convs[0].MessageCount != 1 || convs[0].UnreadCount != 0 {
		t.Fatalf("unexpected conversation state: %+v", convs)
	}
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	s, _ := newService(t)
	other, err := identity.Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("identity.Load: %v", err)
	}
	msg := Message{
		ID:        "m1",
		FromDID:   string(other.LocalDID()),
		ToDID:     "did:duxnet:me",
		Content:   "hi",
		Type:      TypeText,
		Timestamp: 1000,
		Signature: []byte("forged"),
	}
	if err := s.Receive(msg); err == nil {
		t.Fatal("expected a forged signature to be rejected")
	}
}

func TestReceiveAcceptsValidSignatureAndIncrementsUnread(t *testing.T) {
	s, _ := newService(t)
	peer, err := identity.Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("identity.Load: %v", err)
	}
	msg := Message{
		ID:        "m1",
		FromDID:   string(peer.LocalDID()),
		ToDID:     "did:duxnet:me",
		Content:   "hi there",
		Type:      TypeText,
		Timestamp: 1000,
	}
	msg.Signature = peer.Sign(msg.CanonicalBytes())
	if err := s.Receive(msg); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	convs := s.Conversations()
	if len(convs) != 1 || convs[0].UnreadCount != 1 {
		t.Fatalf("expected 1 unread message, got %+v", convs)
	}
	if convs[0].LastPreview != "hi there" {
		t.Fatalf("unexpected preview: %q", convs[0].LastPreview)
	}
}

func TestMarkReadRecomputesConversation(t *testing.T) {
	s, _ := newService(t)
	peer, err := identity.Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("identity.Load: %v", err)
	}
	msg := Message{
		ID:        "m1",
		FromDID:   string(peer.LocalDID()),
		ToDID:     "did:duxnet:me",
		Content:   "hi",
		Timestamp: 1000,
	}
	msg.Signature = peer.Sign(msg.CanonicalBytes())
	if err := s.Receive(msg); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := s.MarkRead("m1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	convs := s.Conversations()
	if convs[0].UnreadCount != 0 {
		t.Fatalf("expected unread_count 0 after MarkRead, got %d", convs[0].UnreadCount)
	}
}

func TestDeleteRemovesMessageAndUpdatesConversation(t *testing.T) {
	s, _ := newService(t)
	if _, err := s.Send("did:duxnet:peer", "first", TypeText, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	second, err := s.Send("did:duxnet:peer", "second", TypeText, "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Delete(second.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	msgs := s.Messages("did:duxnet:peer")
	if len(msgs) != 1 || msgs[0].Content != "first" {
		t.Fatalf("expected only the first message to remain, got %+v", msgs)
	}
	convs := s.Conversations()
	if convs[0].MessageCount != 1 {
		t.Fatalf("expected message_count 1 after delete, got %d", convs[0].MessageCount)
	}
}

func TestDeleteLastMessageRemovesConversation(t *testing.T) {
	s, _ := newService(t)
	msg, err := s.Send("did:duxnet:peer", "only", TypeText, "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Delete(msg.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if convs := s.Conversations(); len(convs) != 0 {
		t.Fatalf("expected no conversations once the last message is deleted, got %+v", convs)
	}
}
