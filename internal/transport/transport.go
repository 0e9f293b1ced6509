// Package transport implements the peer-to-peer message bus carrying the
// enumerated message kinds (ServiceAnnouncement, TaskSubmission,
// EscrowSignature, Ping/Pong, ...). Full gossip tuning and connection
// pooling are out of scope here; what's implemented is the thin
// libp2p-gossipsub-backed slice the DHT's announcement dispatch actually
// needs, grounded on core/network.go (libp2p.New + pubsub.NewGossipSub).
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	log "github.com/sirupsen/logrus"

	"duxnet.io/node/pkg/errs"
	"duxnet.io/node/pkg/retry"
)

// Kind enumerates the frame types delivered by the transport. Ping/Pong
// carry no payload.
type Kind string

const (
	KindServiceAnnouncement Kind = "ServiceAnnouncement"
	KindServiceQuery        Kind = "ServiceQuery"
	KindServiceResponse     Kind = "ServiceResponse"
	KindTaskSubmission      Kind = "TaskSubmission"
	KindTaskAcceptance      Kind = "TaskAcceptance"
	KindTaskCompletion      Kind = "TaskCompletion"
	KindEscrowCreation      Kind = "EscrowCreation"
	KindEscrowSignature     Kind = "EscrowSignature"
	KindEscrowStateUpdate   Kind = "EscrowStateUpdate"
	KindReputationAttest    Kind = "ReputationAttestation"
	KindReputationQuery     Kind = "ReputationQuery"
	KindReputationResponse  Kind = "ReputationResponse"
	KindDirectMessage       Kind = "DirectMessage"
	KindMessageAck          Kind = "MessageAck"
	KindMessageDelivery     Kind = "MessageDelivery"
	KindPing                Kind = "Ping"
	KindPong                Kind = "Pong"
)

// Frame is the length-prefix-on-the-wire envelope; encoding is canonical
// JSON (length-prefixing happens at the stream layer, which
// is out of scope here).
type Frame struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler processes an inbound frame from a peer.
type Handler func(peerDID string, f Frame)

// Bus is the minimal libp2p-gossipsub transport the DHT uses for
// announcement dispatch. One topic per DHT category.
type Bus struct {
	ctx    context.Context
	cancel context.CancelFunc
	ps     *pubsub.PubSub
	log    *log.Entry

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription
}

// NewBus creates a libp2p host listening on listenAddr and wraps it with
// gossipsub. It is the node's peer transport for the category-topic
// announcements the DHT emits on every store().
func NewBus(listenAddr string, logger *log.Logger) (*Bus, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, errs.Wrap(errs.External, "create libp2p host", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		return nil, errs.Wrap(errs.External, "create gossipsub", err)
	}
	return &Bus{
		ctx:    ctx,
		cancel: cancel,
		ps:     ps,
		log:    logger.WithField("component", "transport"),
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
	}, nil
}

// topicFor joins (or returns the cached) topic for category. Joining is an
// ExternalError-classified libp2p operation, so it runs under the package's
// default retry policy: transient dial/resource-manager failures during
// topic setup are common on a freshly-started host.
func (b *Bus) topicFor(category string) (*pubsub.Topic, error) {
	b.mu.Lock()
	if t, ok := b.topics[category]; ok {
		b.mu.Unlock()
		return t, nil
	}
	b.mu.Unlock()

	var t *pubsub.Topic
	err := retry.Do(b.ctx, retry.Default, func(ctx context.Context) error {
		joined, err := b.ps.Join("duxnet:" + category)
		if err != nil {
			return errs.Wrap(errs.External, "join topic", err)
		}
		t = joined
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.topics[category]; ok {
		return existing, nil
	}
	b.topics[category] = t
	return t, nil
}

// Announce implements dht.Announcer by publishing to the category's topic,
// retrying the publish itself under the package's default backoff since a
// transient gossipsub publish failure is ExternalError, not a permanent one.
func (b *Bus) Announce(category, key string, value []byte) error {
	t, err := b.topicFor(category)
	if err != nil {
		return err
	}
	frame := Frame{Kind: kindForCategory(category)}
	env := struct {
		Key   string `json:"key"`
		Value []byte `json:"value"`
	}{Key: key, Value: value}
	payload, err := json.Marshal(env)
	if err != nil {
		return errs.Wrap(errs.Serialization, "marshal announce payload", err)
	}
	frame.Payload = payload
	data, err := json.Marshal(frame)
	if err != nil {
		return errs.Wrap(errs.Serialization, "marshal frame", err)
	}
	return retry.Do(b.ctx, retry.Default, func(ctx context.Context) error {
		if err := t.Publish(ctx, data); err != nil {
			return errs.Wrap(errs.External, "publish frame", err)
		}
		return nil
	})
}

// Subscribe registers handler for every frame published on category's
// topic, including this node's own announcements.
func (b *Bus) Subscribe(category string, handler Handler) error {
	t, err := b.topicFor(category)
	if err != nil {
		return err
	}
	var sub *pubsub.Subscription
	err = retry.Do(b.ctx, retry.Default, func(ctx context.Context) error {
		s, err := t.Subscribe()
		if err != nil {
			return errs.Wrap(errs.External, "subscribe topic", err)
		}
		sub = s
		return nil
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.subs[category] = sub
	b.mu.Unlock()

	go func() {
		for {
			msg, err := sub.Next(b.ctx)
			if err != nil {
				return
			}
			var frame Frame
			if err := json.Unmarshal(msg.Data, &frame); err != nil {
				continue
			}
			handler(msg.ReceivedFrom.String(), frame)
		}
	}()
	return nil
}

// Close cancels the bus context, which ends every subscription's receive
// loop. The libp2p host created by NewBus is not closed.
func (b *Bus) Close() {
	b.cancel()
}

func kindForCategory(category string) Kind {
	switch category {
	case "service":
		return KindServiceAnnouncement
	case "escrow":
		return KindEscrowStateUpdate
	case "task":
		return KindTaskSubmission
	case "reputation":
		return KindReputationAttest
	default:
		return Kind(fmt.Sprintf("category:%s", category))
	}
}

// InMemoryBus is a same-process fake transport for tests: Announce
// delivers synchronously to any Subscribe-registered handler.
type InMemoryBus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

// NewInMemoryBus creates an empty fake bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string][]Handler)}
}

// Announce implements dht.Announcer.
func (b *InMemoryBus) Announce(category, key string, value []byte) error {
	env := struct {
		Key   string `json:"key"`
		Value []byte `json:"value"`
	}{Key: key, Value: value}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	frame := Frame{Kind: kindForCategory(category), Payload: payload}
	b.mu.Lock()
	hs := append([]Handler(nil), b.handlers[category]...)
	b.mu.Unlock()
	for _, h := range hs {
		h("local", frame)
	}
	return nil
}

// Subscribe registers handler for category.
func (b *InMemoryBus) Subscribe(category string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[category] = append(b.handlers[category], handler)
	return nil
}
