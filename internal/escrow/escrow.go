// Package escrow implements C4: the multi-party escrow state machine with
// threshold-signature release semantics. Generalizes
// core/escrow.go (module-account deposit/release/cancel) into the
// signed state-transition graph, resolving the open threshold-semantics
// question: normal release
// needs two of {buyer, seller, any arbiter}; dispute resolution is the
// arbiter acting unilaterally.
package escrow

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"duxnet.io/node/internal/dht"
	"duxnet.io/node/internal/identity"
	"duxnet.io/node/pkg/errs"
)

// State is a node in the escrow lifecycle graph.
type State string

const (
	Created    State = "Created"
	Funded     State = "Funded"
	InProgress State = "InProgress"
	Completed  State = "Completed"
	Disputed   State = "Disputed"
	Refunded   State = "Refunded"
)

// Intent distinguishes the two canonical signature payloads a principal can
// sign over: a release or a refund.
type Intent string

const (
	IntentRelease Intent = "release"
	IntentRefund  Intent = "refund"
)

// Contract is the durable, DHT-replicated escrow record.
type Contract struct {
	ID              string            `json:"id"`
	BuyerDID        string            `json:"buyer_did"`
	SellerDID       string            `json:"seller_did"`
	Arbiters        []string          `json:"arbiters"`
	Amount          uint64            `json:"amount"`
	State           State             `json:"state"`
	MultisigAddress string            `json:"multisig_address"`
	Signatures      map[string][]byte `json:"signatures"` // "<signerDID>:<intent>" -> sig
	CreatedAt       int64             `json:"created_at"`
}

func dhtKey(id string) string { return dht.PrefixEscrow + id }

// ReleasePayload returns the canonical bytes a release signature covers:
// escrow_id | "release" | amount.
func ReleasePayload(escrowID string, amount uint64) []byte {
	return canonicalPayload(escrowID, IntentRelease, amount)
}

// RefundPayload returns the canonical bytes a refund signature covers.
func RefundPayload(escrowID string, amount uint64) []byte {
	return canonicalPayload(escrowID, IntentRefund, amount)
}

func canonicalPayload(escrowID string, intent Intent, amount uint64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", escrowID, intent, amount))
}

// Manager is the concurrency-safe escrow state machine shared by every
// component that needs to create, fund or settle contracts.
type Manager struct {
	store *dht.Store
	id    *identity.Service
	log   *log.Entry

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	metricOpenContracts prometheus.Gauge
}

// New creates a Manager backed by store, signing state transitions with id.
func New(store *dht.Store, id *identity.Service, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	m := &Manager{
		store: store,
		id:    id,
		log:   logger.WithField("component", "escrow"),
		locks: make(map[string]*sync.Mutex),
		metricOpenContracts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duxnet_escrow_open_contracts",
			Help: "Number of escrow contracts not yet in a terminal state.",
		}),
	}
	_ = prometheus.Register(m.metricOpenContracts)
	m.refreshMetrics()
	return m
}

// refreshMetrics recomputes the open-contract gauge by scanning every
// persisted contract, mirroring dht.Store's "set after the lock is released"
// posture rather than tracking a running counter that could drift from the
// DHT's authoritative state.
func (m *Manager) refreshMetrics() {
	open := 0
	for _, kv := range m.store.ListByPrefix(dht.PrefixEscrow) {
		var c Contract
		if err := json.Unmarshal(kv.Value, &c); err != nil {
			continue
		}
		switch c.State {
		case Completed, Refunded:
		default:
			open++
		}
	}
	m.metricOpenContracts.Set(float64(open))
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Manager) load(id string) (*Contract, error) {
	raw, ok := m.store.Get(dhtKey(id))
	if !ok {
		return nil, errs.New(errs.NotFound, "escrow not found")
	}
	var c Contract
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errs.Wrap(errs.Serialization, "unmarshal escrow", err)
	}
	return &c, nil
}

// persist writes c to the DHT. On failure the caller must not have already
// committed the in-memory mutation — callers build the next Contract value
// and only persist it, never mutate a shared pointer, so a persist failure
// leaves the authoritative (DHT) state exactly as it was
// failure semantics).
func (m *Manager) persist(c *Contract) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return errs.Wrap(errs.Serialization, "marshal escrow", err)
	}
	if err := m.store.Store(dhtKey(c.ID), raw, 0, string(m.id.LocalDID())); err != nil {
		return err
	}
	m.refreshMetrics()
	return nil
}

// Create seeds a new contract in Created and persists it.
func (m *Manager) Create(buyerDID, sellerDID string, arbiters []string, amount uint64) (*Contract, error) {
	if amount == 0 {
		return nil, errs.New(errs.Precondition, "amount must be >0")
	}
	if len(arbiters) == 0 {
		return nil, errs.New(errs.Precondition, "at least one arbiter required")
	}
	c := &Contract{
		ID:              uuid.New().String(),
		BuyerDID:        buyerDID,
		SellerDID:       sellerDID,
		Arbiters:        append([]string(nil), arbiters...),
		Amount:          amount,
		State:           Created,
		MultisigAddress: "duxnet-escrow:" + uuid.New().String(),
		Signatures:      make(map[string][]byte),
		CreatedAt:       time.Now().UTC().Unix(),
	}
	if err := m.persist(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Fund transitions Created -> Funded, invoked once the buyer's outbound
// wallet transaction has been confirmed by the external wallet collaborator.
func (m *Manager) Fund(escrowID string) error {
	l := m.lockFor(escrowID)
	l.Lock()
	defer l.Unlock()

	c, err := m.load(escrowID)
	if err != nil {
		return err
	}
	if c.State != Created {
		return errs.New(errs.State, fmt.Sprintf("cannot fund escrow in state %s", c.State))
	}
	c.State = Funded
	return m.persist(c)
}

func (m *Manager) isPrincipal(c *Contract, did string) bool {
	return did == c.BuyerDID || did == c.SellerDID
}

func (m *Manager) isArbiter(c *Contract, did string) bool {
	for _, a := range c.Arbiters {
		if a == did {
			return true
		}
	}
	return false
}

func (m *Manager) isAuthorizedSigner(c *Contract, did string) bool {
	return m.isPrincipal(c, did) || m.isArbiter(c, did)
}

// AddSignature verifies signerDID is authorized and sig is valid over the
// canonical payload for intent, records it idempotently, and attempts the
// corresponding state transition once the two-of-three threshold is met.
func (m *Manager) AddSignature(escrowID, signerDID string, sig []byte, intent Intent) (*Contract, error) {
	l := m.lockFor(escrowID)
	l.Lock()
	defer l.Unlock()

	c, err := m.load(escrowID)
	if err != nil {
		return nil, err
	}
	if !m.isAuthorizedSigner(c, signerDID) {
		return nil, errs.New(errs.Auth, "signer not authorized for this escrow")
	}
	var payload []byte
	switch intent {
	case IntentRelease:
		payload = ReleasePayload(c.ID, c.Amount)
	case IntentRefund:
		payload = RefundPayload(c.ID, c.Amount)
	default:
		return nil, errs.New(errs.Precondition, "unknown intent")
	}
	if !identity.Verify(identity.DID(signerDID), payload, sig) {
		return nil, errs.New(errs.Auth, "signature does not verify")
	}
	if c.State != Funded && c.State != InProgress {
		return nil, errs.New(errs.State, fmt.Sprintf("cannot sign escrow in state %s", c.State))
	}

	sigKey := signerDID + ":" + string(intent)
	c.Signatures[sigKey] = sig // idempotent: re-signing overwrites the same key

	if c.State == Funded {
		c.State = InProgress
	}

	if intent == IntentRelease && m.thresholdMet(c, IntentRelease) {
		c.State = Completed
	} else if intent == IntentRefund && m.thresholdMet(c, IntentRefund) {
		c.State = Refunded
	}

	if err := m.persist(c); err != nil {
		return nil, err
	}
	return c, nil
}

// thresholdMet implements the fixed two-of-three rule: buyer+seller,
// buyer+arbiter, or seller+arbiter must have signed the same intent.
func (m *Manager) thresholdMet(c *Contract, intent Intent) bool {
	_, buyerSigned := c.Signatures[c.BuyerDID+":"+string(intent)]
	_, sellerSigned := c.Signatures[c.SellerDID+":"+string(intent)]
	arbiterSigned := false
	for _, a := range c.Arbiters {
		if _, ok := c.Signatures[a+":"+string(intent)]; ok {
			arbiterSigned = true
			break
		}
	}
	count := 0
	if buyerSigned {
		count++
	}
	if sellerSigned {
		count++
	}
	if arbiterSigned {
		count++
	}
	return count >= 2
}

// RaiseDispute transitions Funded|InProgress -> Disputed. Only a principal
// (buyer or seller) may raise a dispute.
func (m *Manager) RaiseDispute(escrowID, byDID string) (*Contract, error) {
	l := m.lockFor(escrowID)
	l.Lock()
	defer l.Unlock()

	c, err := m.load(escrowID)
	if err != nil {
		return nil, err
	}
	if !m.isPrincipal(c, byDID) {
		return nil, errs.New(errs.Auth, "only buyer or seller may raise a dispute")
	}
	if c.State != Funded && c.State != InProgress {
		return nil, errs.New(errs.State, fmt.Sprintf("cannot dispute escrow in state %s", c.State))
	}
	c.State = Disputed
	if err := m.persist(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ResolveDispute applies an arbiter's unilateral decision: "buyer" refunds,
// "seller" completes (releases to seller).
func (m *Manager) ResolveDispute(escrowID, arbiterDID string, arbiterSig []byte, decision string) (*Contract, error) {
	l := m.lockFor(escrowID)
	l.Lock()
	defer l.Unlock()

	c, err := m.load(escrowID)
	if err != nil {
		return nil, err
	}
	if c.State != Disputed {
		return nil, errs.New(errs.State, fmt.Sprintf("cannot resolve dispute on escrow in state %s", c.State))
	}
	if !m.isArbiter(c, arbiterDID) {
		return nil, errs.New(errs.Auth, "signer is not an arbiter of this escrow")
	}

	var payload []byte
	var next State
	switch decision {
	case "buyer":
		payload = RefundPayload(c.ID, c.Amount)
		next = Refunded
	case "seller":
		payload = ReleasePayload(c.ID, c.Amount)
		next = Completed
	default:
		return nil, errs.New(errs.Precondition, "decision must be buyer or seller")
	}
	if !identity.Verify(identity.DID(arbiterDID), payload, arbiterSig) {
		return nil, errs.New(errs.Auth, "arbiter signature does not verify")
	}
	c.Signatures[arbiterDID+":dispute:"+decision] = arbiterSig
	c.State = next
	if err := m.persist(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Cancel refunds a Funded contract that has not yet entered InProgress.
// Only the buyer may request a pre-work cancellation.
func (m *Manager) Cancel(escrowID, byDID string) (*Contract, error) {
	l := m.lockFor(escrowID)
	l.Lock()
	defer l.Unlock()

	c, err := m.load(escrowID)
	if err != nil {
		return nil, err
	}
	if byDID != c.BuyerDID {
		return nil, errs.New(errs.Auth, "only the buyer may cancel before work starts")
	}
	if c.State != Funded {
		return nil, errs.New(errs.State, fmt.Sprintf("cannot cancel escrow in state %s", c.State))
	}
	c.State = Refunded
	if err := m.persist(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get loads an escrow contract by id.
func (m *Manager) Get(escrowID string) (*Contract, error) {
	return m.load(escrowID)
}

// HasReleaseSignatureFrom reports whether processorDID signed a release for
// escrowID, i.e. whether a completed task's escrow history includes a
// release signature from its processor.
func (m *Manager) HasReleaseSignatureFrom(escrowID, processorDID string) bool {
	c, err := m.load(escrowID)
	if err != nil {
		return false
	}
	_, ok := c.Signatures[processorDID+":"+string(IntentRelease)]
	return ok
}
