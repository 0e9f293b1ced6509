// Package communityfund implements C6: per-currency tax accumulation and
// periodic equal distribution among active identities. Generalizes the
// teacher's internal/charity_pool_management.go (a single pool wrapping a
// ledger with a mutex and logger) into one fund per currency, keyed in the
// DHT, consuming C2.GetActiveDIDs for recipients. The crash-safety ordering
// (log transactions before mutating fund state) follows
// the original Rust distribute_fund, read from original_source/.
package communityfund

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"duxnet.io/node/internal/dht"
	"duxnet.io/node/internal/wallet"
	"duxnet.io/node/pkg/errs"
)

// Fund is the durable, per-currency community fund record.
type Fund struct {
	Currency          string `json:"currency"`
	Balance           uint64 `json:"balance"`
	LastDistribution  int64  `json:"last_distribution"`
	TotalDistributed  uint64 `json:"total_distributed"`
	DistributionCount int    `json:"distribution_count"`
}

func stateKey(currency string) string { return dht.PrefixFundState + currency }

// DistributionRecord is the audit entry written to C2 for every successful
// per-recipient transaction.
type DistributionRecord struct {
	TxID         string `json:"tx_id"`
	Currency     string `json:"currency"`
	RecipientDID string `json:"recipient_did"`
	Amount       uint64 `json:"amount"`
	Timestamp    int64  `json:"timestamp"`
}

// activeDIDSource narrows *dht.Store to what distribution needs, so tests
// can fake the active-DID set directly.
type activeDIDSource interface {
	GetActiveDIDs() []string
}

// Manager owns one Fund per configured currency and serializes
// distribution per currency (per-fund distribution is
// serialized by holding the write lock for the full distribute call").
type Manager struct {
	store *dht.Store
	dids  activeDIDSource
	log   *log.Entry

	locks sync.Map // currency -> *sync.Mutex, one lock per fund

	metricBalance       *prometheus.GaugeVec
	metricDistributions *prometheus.CounterVec
}

// New creates a Manager for the given currencies, loading any persisted
// fund state from the DHT and persisting an empty fund for each currency
// that has none. The wallet's tax hook is obtained separately via TaxHook.
func New(store *dht.Store, dids activeDIDSource, currencies []string, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	m := &Manager{
		store: store,
		dids:  dids,
		log:   logger.WithField("component", "community_fund"),
		metricBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "duxnet_community_fund_balance",
			Help: "Current undistributed tax balance per currency.",
		}, []string{"currency"}),
		metricDistributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duxnet_community_fund_distributions_total",
			Help: "Count of completed distribution rounds per currency.",
		}, []string{"currency"}),
	}
	_ = prometheus.Register(m.metricBalance)
	_ = prometheus.Register(m.metricDistributions)
	for _, c := range currencies {
		if f, ok := m.load(c); ok {
			m.metricBalance.WithLabelValues(c).Set(float64(f.Balance))
			continue
		}
		_ = m.persist(&Fund{Currency: c})
	}
	return m
}

// TaxHook returns a wallet.TaxHook that credits the corresponding fund on
// every outgoing wallet transaction.
func (m *Manager) TaxHook() wallet.TaxHook {
	return func(currency string, tax uint64) {
		if err := m.AddTaxToFund(currency, tax); err != nil {
			m.log.WithError(err).WithField("currency", currency).Error("add_tax_to_fund failed")
		}
	}
}

func (m *Manager) lockFor(currency string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(currency, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (m *Manager) load(currency string) (*Fund, bool) {
	raw, ok := m.store.Get(stateKey(currency))
	if !ok {
		return nil, false
	}
	var f Fund
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}
	return &f, true
}

func (m *Manager) persist(f *Fund) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return errs.Wrap(errs.Serialization, "marshal community fund", err)
	}
	if err := m.store.Store(stateKey(f.Currency), raw, 0, ""); err != nil {
		return err
	}
	m.metricBalance.WithLabelValues(f.Currency).Set(float64(f.Balance))
	return nil
}

// AddTaxToFund is additive: balance_after == balance_before + tax. Invoked
// by the wallet for every outgoing transaction with exactly
// floor(amount*5/100), enforced by wallet.TaxRate.
func (m *Manager) AddTaxToFund(currency string, taxAmount uint64) error {
	l := m.lockFor(currency)
	l.Lock()
	defer l.Unlock()

	f, ok := m.load(currency)
	if !ok {
		f = &Fund{Currency: currency}
	}
	f.Balance += taxAmount
	return m.persist(f)
}

// Get returns the current fund state for currency.
func (m *Manager) Get(currency string) (*Fund, error) {
	f, ok := m.load(currency)
	if !ok {
		return nil, errs.New(errs.NotFound, "no community fund for currency")
	}
	return f, nil
}

// Distribute runs the fund's five-step distribution algorithm. It is the
// single-writer critical section for currency: the lock is held for the
// entire call, including every per-recipient transaction attempt.
func (m *Manager) Distribute(currency string, now time.Time, interval time.Duration, createTx func(currency, did string, amount uint64) (string, error)) (*DistributionRecord, error) {
	l := m.lockFor(currency)
	l.Lock()
	defer l.Unlock()

	f, ok := m.load(currency)
	if !ok {
		return nil, errs.New(errs.NotFound, "no community fund for currency")
	}
	nowUnix := now.UTC().Unix()
	if f.LastDistribution != 0 && nowUnix-f.LastDistribution < int64(interval.Seconds()) {
		return nil, errs.New(errs.Precondition, "distribution interval has not elapsed")
	}

	activeDIDs := m.dids.GetActiveDIDs()
	if len(activeDIDs) == 0 {
		return nil, errs.New(errs.Precondition, "no-recipients")
	}

	amountPerUser := f.Balance / uint64(len(activeDIDs))
	if amountPerUser == 0 {
		return nil, errs.New(errs.Precondition, "insufficient-balance")
	}

	var successes int
	var lastTxID string
	for _, did := range activeDIDs {
		txID := distributionTxID(currency, did, nowUnix)
		if _, err := createTx(currency, did, amountPerUser); err != nil {
			m.log.WithError(err).WithField("did", did).Warn("distribution transaction failed")
			continue
		}
		rec := DistributionRecord{TxID: txID, Currency: currency, RecipientDID: did, Amount: amountPerUser, Timestamp: nowUnix}
		raw, err := json.Marshal(&rec)
		if err != nil {
			continue
		}
		// Log before mutating fund state: a crash here leaves an audit
		// trail with last_distribution unchanged. New does not reconcile
		// such logged transactions against the fund balance on restart.
		if err := m.store.StoreCommunityFundTransaction(txID, currency, did, amountPerUser, raw); err != nil {
			m.log.WithError(err).WithField("tx_id", txID).Error("failed to log distribution transaction")
			continue
		}
		successes++
		lastTxID = txID
	}

	if successes == 0 {
		return nil, errs.New(errs.External, "failed to create any distribution transactions")
	}

	totalDistributed := amountPerUser * uint64(successes)
	f.Balance -= totalDistributed
	f.LastDistribution = nowUnix
	f.TotalDistributed += totalDistributed
	f.DistributionCount++
	if err := m.persist(f); err != nil {
		return nil, err
	}
	m.metricDistributions.WithLabelValues(currency).Inc()

	return &DistributionRecord{TxID: lastTxID, Currency: currency, Amount: amountPerUser, Timestamp: nowUnix}, nil
}

// distributionTxID builds the deterministic id:
// cf-dist-<sym>-<did-with-colons-normalized>-<now>.
func distributionTxID(currency, did string, now int64) string {
	normalized := strings.ReplaceAll(did, ":", "_")
	return fmt.Sprintf("cf-dist-%s-%s-%d", currency, normalized, now)
}
