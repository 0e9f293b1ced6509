// Package messaging implements C7: signed, threaded direct messages with
// per-conversation counters. Generalizes core/messages.go's
// queue/dispatch pattern (enqueue, dequeue, process-by-type) into signed
// storage with conversation bookkeeping.
package messaging

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"duxnet.io/node/internal/identity"
	"duxnet.io/node/pkg/errs"
)

// Type enumerates the message kinds.
type Type string

const (
	TypeText              Type = "Text"
	TypeFile              Type = "File"
	TypeServiceRequest     Type = "ServiceRequest"
	TypeTaskUpdate         Type = "TaskUpdate"
	TypeEscrowUpdate       Type = "EscrowUpdate"
	TypeReputationUpdate   Type = "ReputationUpdate"
	TypeSystem             Type = "System"
)

// Message is a signed direct message.
type Message struct {
	ID        string `json:"id"`
	FromDID   string `json:"from_did"`
	ToDID     string `json:"to_did"`
	Content   string `json:"content"`
	Type      Type   `json:"message_type"`
	Timestamp int64  `json:"timestamp"`
	Signature []byte `json:"signature"`
	IsRead    bool   `json:"is_read"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// CanonicalBytes is the deterministic encoding a message signature covers:
// id | from | to | content | timestamp.
func (m Message) CanonicalBytes() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%d", m.ID, m.FromDID, m.ToDID, m.Content, m.Timestamp))
}

const previewLen = 80

// Conversation tracks the per-peer counters a conversation view requires, plus a
// truncated preview of the most recent message — supplemented from the
// original Rust messaging module's last_message_preview field.
type Conversation struct {
	PeerDID      string `json:"peer_did"`
	MessageCount int    `json:"message_count"`
	UnreadCount  int    `json:"unread_count"`
	LastMessage  int64  `json:"last_message"`
	LastPreview  string `json:"last_preview"`
}

// Service owns the local node's sent/received messages and per-peer
// conversation state.
type Service struct {
	id  *identity.Service
	log *log.Entry

	mu            sync.RWMutex
	messages      map[string]*Message   // message id -> message
	byPeer        map[string][]string   // peer DID -> ordered message ids
	conversations map[string]*Conversation
}

// New creates a messaging Service signing outgoing messages with id.
func New(id *identity.Service, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		id:            id,
		log:           logger.WithField("component", "messaging"),
		messages:      make(map[string]*Message),
		byPeer:        make(map[string][]string),
		conversations: make(map[string]*Conversation),
	}
}

// Send signs and persists a new outgoing message, updating the peer's
// conversation counters.
func (s *Service) Send(toDID, content string, typ Type, replyTo string) (*Message, error) {
	msg := &Message{
		ID:        uuid.New().String(),
		FromDID:   string(s.id.LocalDID()),
		ToDID:     toDID,
		Content:   content,
		Type:      typ,
		Timestamp: time.Now().UTC().Unix(),
		ReplyTo:   replyTo,
		IsRead:    true, // the sender has, definitionally, read their own message
	}
	msg.Signature = s.id.Sign(msg.CanonicalBytes())

	s.mu.Lock()
	s.store(msg)
	s.mu.Unlock()
	return msg, nil
}

// Receive verifies an inbound message's signature against the sender's DID
// and, if valid, persists it, incrementing the peer's unread counter.
func (s *Service) Receive(msg Message) error {
	if !identity.Verify(identity.DID(msg.FromDID), msg.CanonicalBytes(), msg.Signature) {
		return errs.New(errs.Auth, "message signature does not verify")
	}
	msg.IsRead = false

	s.mu.Lock()
	s.store(&msg)
	s.mu.Unlock()
	return nil
}

// store assumes the caller holds s.mu; it indexes msg by its remote peer
// (whichever of from/to is not this node) and refreshes that conversation.
func (s *Service) store(msg *Message) {
	s.messages[msg.ID] = msg
	peer := msg.ToDID
	if msg.FromDID != string(s.id.LocalDID()) {
		peer = msg.FromDID
	}
	s.byPeer[peer] = append(s.byPeer[peer], msg.ID)
	s.recomputeConversation(peer)
}

// recomputeConversation assumes the caller holds s.mu.
func (s *Service) recomputeConversation(peer string) {
	ids := s.byPeer[peer]
	conv := &Conversation{PeerDID: peer}
	var newest *Message
	for _, id := range ids {
		m := s.messages[id]
		conv.MessageCount++
		if !m.IsRead {
			conv.UnreadCount++
		}
		if newest == nil || m.Timestamp > newest.Timestamp {
			newest = m
		}
	}
	if newest != nil {
		conv.LastMessage = newest.Timestamp
		conv.LastPreview = truncate(newest.Content, previewLen)
	}
	if conv.MessageCount == 0 {
		delete(s.conversations, peer)
		return
	}
	s.conversations[peer] = conv
}

// MarkRead marks a message read and refreshes its conversation's counters.
func (s *Service) MarkRead(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return errs.New(errs.NotFound, "message not found")
	}
	if m.IsRead {
		return nil
	}
	m.IsRead = true
	peer := m.ToDID
	if m.FromDID != string(s.id.LocalDID()) {
		peer = m.FromDID
	}
	s.recomputeConversation(peer)
	return nil
}

// Delete removes a message and recomputes the affected conversation's
// last_message and unread_count by rescanning.
func (s *Service) Delete(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return errs.New(errs.NotFound, "message not found")
	}
	peer := m.ToDID
	if m.FromDID != string(s.id.LocalDID()) {
		peer = m.FromDID
	}
	delete(s.messages, messageID)
	ids := s.byPeer[peer]
	for i, id := range ids {
		if id == messageID {
			s.byPeer[peer] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	s.recomputeConversation(peer)
	return nil
}

// Conversations returns every conversation, most recently active first.
func (s *Service) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessage > out[j].LastMessage })
	return out
}

// Messages returns every message exchanged with peer, oldest first.
func (s *Service) Messages(peer string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byPeer[peer]
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.messages[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
