// Package service implements service advertisement and discovery: the
// thin wrapper around C2 that lets a provider publish a ServiceMetadata
// record and lets anyone search the currently advertised set. Generalizes
// the reputation and escrow packages' "thin typed view over dht.Store"
// shape to a third DHT-backed record kind.
package service

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"duxnet.io/node/internal/dht"
	"duxnet.io/node/pkg/errs"
)

// Metadata is the durable, DHT-replicated service advertisement.
type Metadata struct {
	ID              string  `json:"id"`
	ProviderDID     string  `json:"provider_did"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Endpoint        string  `json:"endpoint"`
	Price           uint64  `json:"price"`
	ReputationScore float64 `json:"reputation_score"`
	LastUpdated     int64   `json:"last_updated"`
}

func dhtKey(id string) string { return dht.PrefixService + id }

// reputationSource is the subset of reputation.Accumulator a search needs
// to refresh each listing's score before returning it.
type reputationSource interface {
	GetScore(did string) float64
}

// Registry is the concurrency-safe (delegated to the underlying Store)
// facade over service advertisements.
type Registry struct {
	store *dht.Store
	rep   reputationSource
	log   *log.Entry
}

// New creates a Registry backed by store, refreshing reputation_score from
// rep at search time.
func New(store *dht.Store, rep reputationSource, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{store: store, rep: rep, log: logger.WithField("component", "service")}
}

// Register publishes or updates a ServiceMetadata record. Re-registering
// the same id replaces the prior entry wholesale.
func (r *Registry) Register(id, providerDID, name, description, endpoint string, price uint64) (*Metadata, error) {
	if id == "" {
		return nil, errs.New(errs.Precondition, "service id required")
	}
	m := &Metadata{
		ID:          id,
		ProviderDID: providerDID,
		Name:        name,
		Description: description,
		Endpoint:    endpoint,
		Price:       price,
		LastUpdated: time.Now().UTC().Unix(),
	}
	if r.rep != nil {
		m.ReputationScore = r.rep.GetScore(providerDID)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "marshal service metadata", err)
	}
	if err := r.store.Store(dhtKey(id), raw, 0, providerDID); err != nil {
		return nil, err
	}
	return m, nil
}

// Get loads a single service by id.
func (r *Registry) Get(id string) (*Metadata, error) {
	raw, ok := r.store.Get(dhtKey(id))
	if !ok {
		return nil, errs.New(errs.NotFound, "service not found")
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errs.Wrap(errs.Serialization, "unmarshal service metadata", err)
	}
	return &m, nil
}

// Search returns every advertised service whose name or description
// contains query (case-insensitive), refreshing reputation_score from the
// reputation accumulator, sorted by descending reputation then name.
func (r *Registry) Search(query string) []Metadata {
	kvs := r.store.ListByPrefix(dht.PrefixService)
	q := strings.ToLower(query)
	out := make([]Metadata, 0, len(kvs))
	for _, kv := range kvs {
		var m Metadata
		if err := json.Unmarshal(kv.Value, &m); err != nil {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(m.Name), q) && !strings.Contains(strings.ToLower(m.Description), q) {
			continue
		}
		if r.rep != nil {
			m.ReputationScore = r.rep.GetScore(m.ProviderDID)
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReputationScore != out[j].ReputationScore {
			return out[i].ReputationScore > out[j].ReputationScore
		}
		return out[i].Name < out[j].Name
	})
	return out
}
