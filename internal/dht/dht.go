// Package dht implements C2: a process-local, replicated key-value store
// keyed by content category, plus the bounded peer registry and
// announcement dispatch every other component builds on. It generalizes
// core/kademlia.go's hash-bucketed in-memory store into a flat, TTL'd,
// last-writer-wins map, deliberately scoping out Kademlia routing and
// churn handling in favor of a simpler replicated-KV design sufficient
// for a read-mostly marketplace.
package dht

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
	"github.com/prometheus/client_golang/prometheus"

	"duxnet.io/node/pkg/errs"
)

// Category key prefixes.
const (
	PrefixService       = "service:"
	PrefixReputation    = "reputation:"
	PrefixEscrow        = "escrow:"
	PrefixTask          = "task:"
	PrefixAOI           = "aoi:"
	PrefixFundState     = "community_fund_state_"
	PrefixFundTx        = "community_fund_tx_"
	PrefixHeartbeat     = "did_heartbeat:"
)

type entry struct {
	value      []byte
	expiresAt  time.Time
	updatedAt  int64  // unix seconds, last-writer-wins clock
	writerDID  string // LWW tiebreak key
}

// expired reports whether e has passed its TTL. A zero expiresAt means
// "store with ttl<=0", which never expires.
func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// expiryFor computes the expiresAt value Store/ApplyRemote persist: the
// zero time for ttl<=0 (no expiry), or now+ttl otherwise.
func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// KV is a single key/value pair returned by ListByPrefix.
type KV struct {
	Key   string
	Value []byte
}

// PeerInfo is a registered peer's last-known address and liveness.
type PeerInfo struct {
	DID      string
	Endpoint string
	LastSeen time.Time
}

// Announcer publishes store events to the rest of the swarm. It is the
// DHT's "announcement dispatch" responsibility; the in-process Store never
// blocks on it, dispatching fire-and-forget.
type Announcer interface {
	Announce(category, key string, value []byte) error
}

// noopAnnouncer is used when the node runs without network transport
// (single-node tests, simulation mode).
type noopAnnouncer struct{}

func (noopAnnouncer) Announce(string, string, []byte) error { return nil }

// Stats is the observable replication-store snapshot.
type Stats struct {
	TotalEntries      int            `json:"total_entries"`
	TotalPeers        int            `json:"total_peers"`
	CategoryCounts    map[string]int `json:"category_counts"`
}

// Store is the concurrency-safe replicated key-value map plus peer
// registry. One Store is shared by every component under a node.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	peersMu sync.RWMutex
	peers   *lru.Cache[string, PeerInfo]

	announcer Announcer
	log       *log.Entry

	metricEntries prometheus.Gauge
	metricPeers   prometheus.Gauge

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New creates a Store with the given bounded peer-registry capacity. A nil
// Announcer installs a no-op (local-only) announcer.
func New(peerCapacity int, announcer Announcer, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if announcer == nil {
		announcer = noopAnnouncer{}
	}
	if peerCapacity <= 0 {
		peerCapacity = 200
	}
	cache, err := lru.New[string, PeerInfo](peerCapacity)
	if err != nil {
		return nil, errs.Wrap(errs.External, "create peer registry", err)
	}
	s := &Store{
		entries:   make(map[string]entry),
		peers:     cache,
		announcer: announcer,
		log:       logger.WithField("component", "dht"),
		metricEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duxnet_dht_entries_total",
			Help: "Number of stored DHT entries; expired entries count until the sweeper removes them.",
		}),
		metricPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duxnet_dht_peers_total",
			Help: "Number of peers tracked in the local registry.",
		}),
		stopSweep: make(chan struct{}),
	}
	_ = prometheus.Register(s.metricEntries)
	_ = prometheus.Register(s.metricPeers)
	return s, nil
}

// Store overwrites any existing entry for key and resets its TTL. This is
// the authoritative local write path used by the owning component; it
// always wins (it is, by definition, the newest local state).
func (s *Store) Store(key string, value []byte, ttl time.Duration, writerDID string) error {
	now := time.Now().UTC()
	s.mu.Lock()
	s.entries[key] = entry{
		value:     append([]byte(nil), value...),
		expiresAt: expiryFor(now, ttl),
		updatedAt: now.Unix(),
		writerDID: writerDID,
	}
	n := len(s.entries)
	s.mu.Unlock()
	s.metricEntries.Set(float64(n))

	category := categoryOf(key)
	if err := s.announcer.Announce(category, key, value); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("announce failed")
	}
	return nil
}

// ApplyRemote merges a replicated write using last-writer-by-timestamp,
// ties broken by lexicographically larger DID. It never
// announces further — remote writes do not re-propagate through this node.
func (s *Store) ApplyRemote(key string, value []byte, ttl time.Duration, remoteUpdatedAt int64, remoteDID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entries[key]
	if ok {
		if existing.updatedAt > remoteUpdatedAt {
			return
		}
		if existing.updatedAt == remoteUpdatedAt && existing.writerDID >= remoteDID {
			return
		}
	}
	s.entries[key] = entry{
		value:     append([]byte(nil), value...),
		expiresAt: expiryFor(time.Now().UTC(), ttl),
		updatedAt: remoteUpdatedAt,
		writerDID: remoteDID,
	}
}

// Get returns the value for key if present and unexpired.
func (s *Store) Get(key string) ([]byte, bool) {
	now := time.Now().UTC()
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || e.expired(now) {
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

// Delete removes key unconditionally.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	n := len(s.entries)
	s.mu.Unlock()
	s.metricEntries.Set(float64(n))
}

// ListByPrefix enumerates all unexpired entries whose key starts with
// prefix, sorted by key for deterministic iteration.
func (s *Store) ListByPrefix(prefix string) []KV {
	now := time.Now().UTC()
	s.mu.RLock()
	out := make([]KV, 0, 16)
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			out = append(out, KV{Key: k, Value: append([]byte(nil), e.value...)})
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RegisterPeer updates the bounded peer registry. Eviction is purely local
// (LRU by last-seen) and never touches stored values.
func (s *Store) RegisterPeer(did, endpoint string, lastSeen time.Time) {
	s.peersMu.Lock()
	s.peers.Add(did, PeerInfo{DID: did, Endpoint: endpoint, LastSeen: lastSeen})
	n := s.peers.Len()
	s.peersMu.Unlock()
	s.metricPeers.Set(float64(n))
}

// Peers returns a snapshot of the peer registry.
func (s *Store) Peers() []PeerInfo {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	out := make([]PeerInfo, 0, s.peers.Len())
	for _, did := range s.peers.Keys() {
		if pi, ok := s.peers.Peek(did); ok {
			out = append(out, pi)
		}
	}
	return out
}

// GetActiveDIDs returns every DID whose did_heartbeat:<did> entry is
// non-expired, i.e. alive within the freshness window it was stored with.
func (s *Store) GetActiveDIDs() []string {
	kvs := s.ListByPrefix(PrefixHeartbeat)
	out := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, strings.TrimPrefix(kv.Key, PrefixHeartbeat))
	}
	return out
}

// StoreCommunityFundTransaction idempotently appends a distribution record
// to the audit log. Re-appending the same tx_id is a no-op: the log entry
// is content-addressed by tx_id, so duplicate calls never create a second
// record (an idempotent append).
func (s *Store) StoreCommunityFundTransaction(txID, currency, recipientDID string, amount uint64, payload []byte) error {
	key := PrefixFundTx + txID
	if _, ok := s.Get(key); ok {
		return nil
	}
	return s.Store(key, payload, 0 /* audit entries never expire */, recipientDID)
}

// Stats returns the observable replication-store counters.
func (s *Store) Stats() Stats {
	now := time.Now().UTC()
	s.mu.RLock()
	counts := map[string]int{"service": 0, "reputation": 0, "escrow": 0}
	total := 0
	for k, e := range s.entries {
		if e.expired(now) {
			continue
		}
		total++
		switch {
		case strings.HasPrefix(k, PrefixService):
			counts["service"]++
		case strings.HasPrefix(k, PrefixReputation):
			counts["reputation"]++
		case strings.HasPrefix(k, PrefixEscrow):
			counts["escrow"]++
		}
	}
	s.mu.RUnlock()

	s.peersMu.RLock()
	peerCount := s.peers.Len()
	s.peersMu.RUnlock()

	return Stats{TotalEntries: total, TotalPeers: peerCount, CategoryCounts: counts}
}

// RunSweeper starts the background TTL eviction loop, running at least
// once per minute by default. It exits when Close is called, and restarts
// itself on panic rather than aborting the node: isolated sweeper failures
// are logged, not fatal.
func (s *Store) RunSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go s.sweepLoop(interval)
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("dht sweeper panicked, restarting")
			go s.sweepLoop(interval)
		}
	}()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweepOnce2()
		}
	}
}

func (s *Store) sweepOnce2() {
	now := time.Now().UTC()
	s.mu.Lock()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
	n := len(s.entries)
	s.mu.Unlock()
	s.metricEntries.Set(float64(n))
}

// Close stops the background sweeper. Idempotent.
func (s *Store) Close() {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
}

func categoryOf(key string) string {
	switch {
	case strings.HasPrefix(key, PrefixService):
		return "service"
	case strings.HasPrefix(key, PrefixReputation):
		return "reputation"
	case strings.HasPrefix(key, PrefixEscrow):
		return "escrow"
	case strings.HasPrefix(key, PrefixTask):
		return "task"
	case strings.HasPrefix(key, PrefixAOI):
		return "aoi"
	case strings.HasPrefix(key, PrefixFundState):
		return "community_fund_state"
	case strings.HasPrefix(key, PrefixFundTx):
		return "community_fund_tx"
	case strings.HasPrefix(key, PrefixHeartbeat):
		return "did_heartbeat"
	default:
		return "other"
	}
}
