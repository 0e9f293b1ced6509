// Package reputation implements C3: signed attestations persisted to the
// DHT, aggregated into a fixed-window per-identity mean score. Generalizes
// core/governance_reputation_voting.go (token-balance
// aggregation keyed by address) into attestation-window aggregation keyed
// by DID.
package reputation

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"duxnet.io/node/internal/dht"
	"duxnet.io/node/internal/identity"
	"duxnet.io/node/pkg/errs"
)

// Attestation is a signed assertion by one DID about another's score in a
// named interaction type.
type Attestation struct {
	AttesterDID     string  `json:"attester_did"`
	TargetDID       string  `json:"target_did"`
	Score           float64 `json:"score"`
	InteractionType string  `json:"interaction_type"`
	Timestamp       int64   `json:"timestamp"`
	Signature       []byte  `json:"signature"`
}

// CanonicalBytes is the deterministic byte encoding signed over, per
// verify(attester_did, canonical_bytes, signature).
func (a Attestation) CanonicalBytes() []byte {
	return []byte(fmt.Sprintf("%s|%s|%f|%s|%d", a.AttesterDID, a.TargetDID, a.Score, a.InteractionType, a.Timestamp))
}

func key(target, attester string, ts int64) string {
	return fmt.Sprintf("%s%s:%s:%d", dht.PrefixReputation, target, attester, ts)
}

// Stats is the observable reputation-network snapshot.
type Stats struct {
	TotalNodes        int     `json:"total_nodes"`
	TotalAttestations int     `json:"total_attestations"`
	AverageScore      float64 `json:"average_score"`
}

// Accumulator stores attestations in the DHT and derives per-DID scores.
type Accumulator struct {
	store      *dht.Store
	windowSize int
	ttl        int64 // seconds; 0 means "no expiry" (attestations are append-only history)

	mu    sync.Mutex
	cache map[string]float64 // target DID -> cached mean, invalidated on add
	log   *log.Entry
}

// New creates an Accumulator backed by store with the given fixed-window
// size (default 100).
func New(store *dht.Store, windowSize int, logger *log.Logger) *Accumulator {
	if windowSize <= 0 {
		windowSize = 100
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Accumulator{
		store:      store,
		windowSize: windowSize,
		cache:      make(map[string]float64),
		log:        logger.WithField("component", "reputation"),
	}
}

// AddAttestation verifies att against the attester's DID public key and,
// if valid, persists it at its deterministic key. Duplicates with the same
// (attester, target, timestamp) overwrite the prior entry (same key), so
// storage is naturally de-duplicated.
func (a *Accumulator) AddAttestation(att Attestation) error {
	if !identity.Verify(identity.DID(att.AttesterDID), att.CanonicalBytes(), att.Signature) {
		return errs.New(errs.Auth, "attestation signature does not verify")
	}
	raw, err := json.Marshal(&att)
	if err != nil {
		return errs.Wrap(errs.Serialization, "marshal attestation", err)
	}
	k := key(att.TargetDID, att.AttesterDID, att.Timestamp)
	// Persist with no TTL: attestation history backs the fixed-window mean
	// and must survive at least one reputation window's worth of traffic.
	if err := a.store.Store(k, raw, 0, att.AttesterDID); err != nil {
		return err
	}
	a.mu.Lock()
	delete(a.cache, att.TargetDID)
	a.mu.Unlock()
	return nil
}

// attestationsFor loads every stored attestation targeting did, newest
// first.
func (a *Accumulator) attestationsFor(did string) []Attestation {
	kvs := a.store.ListByPrefix(dht.PrefixReputation + did + ":")
	out := make([]Attestation, 0, len(kvs))
	for _, kv := range kvs {
		var att Attestation
		if err := json.Unmarshal(kv.Value, &att); err != nil {
			continue
		}
		out = append(out, att)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

// GetScore returns the arithmetic mean of the last windowSize attestations
// for did, or 0.0 if none exist.
func (a *Accumulator) GetScore(did string) float64 {
	a.mu.Lock()
	if v, ok := a.cache[did]; ok {
		a.mu.Unlock()
		return v
	}
	a.mu.Unlock()

	atts := a.attestationsFor(did)
	if len(atts) > a.windowSize {
		atts = atts[:a.windowSize]
	}
	if len(atts) == 0 {
		return 0.0
	}
	var sum float64
	for _, att := range atts {
		sum += att.Score
	}
	mean := sum / float64(len(atts))

	a.mu.Lock()
	a.cache[did] = mean
	a.mu.Unlock()
	return mean
}

// GetStats aggregates totals across every DID observed in the reputation
// category of the DHT.
func (a *Accumulator) GetStats() Stats {
	kvs := a.store.ListByPrefix(dht.PrefixReputation)
	targets := make(map[string]struct{})
	var sum float64
	for _, kv := range kvs {
		var att Attestation
		if err := json.Unmarshal(kv.Value, &att); err != nil {
			continue
		}
		targets[att.TargetDID] = struct{}{}
	}
	for did := range targets {
		sum += a.GetScore(did)
	}
	avg := 0.0
	if len(targets) > 0 {
		avg = sum / float64(len(targets))
	}
	return Stats{TotalNodes: len(targets), TotalAttestations: len(kvs), AverageScore: avg}
}
