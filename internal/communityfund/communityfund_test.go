package communityfund

import (
	"testing"
	"time"

	"duxnet.io/node/internal/dht"
)

type fakeDIDSource struct{ dids []string }

func (f fakeDIDSource) GetActiveDIDs() []string { return f.dids }

func newStore(t *testing.T) *dht.Store {
	t.Helper()
	s, err := dht.New(10, nil, nil)
	if err != nil {
		t.Fatalf("dht.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestAddTaxToFundIsAdditive(t *testing.T) {
	m := New(newStore(t), fakeDIDSource{}, []string{"BTC"}, nil)
	if err := m.AddTaxToFund("BTC", 10); err != nil {
		t.Fatalf("AddTaxToFund: %v", err)
	}
	if err := m.AddTaxToFund("BTC", 5); err != nil {
		t.Fatalf("AddTaxToFund: %v", err)
	}
	f, err := m.Get("BTC")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.Balance != 15 {
		t.Fatalf("expected additive balance 15, got %d", f.Balance)
	}
}

func TestDistributeRejectsWithNoActiveDIDs(t *testing.T) {
	m := New(newStore(t), fakeDIDSource{}, []string{"BTC"}, nil)
	_ = m.AddTaxToFund("BTC", 100)
	_, err := m.Distribute("BTC", time.Now().UTC(), time.Hour, noopCreateTx)
	if err == nil {
		t.Fatal("expected distribution with zero active DIDs to fail")
	}
}

func TestDistributeRejectsInsufficientBalance(t *testing.T) {
	dids := fakeDIDSource{dids: []string{"did:duxnet:a", "did:duxnet:b", "did:duxnet:c"}}
	m := New(newStore(t), dids, []string{"BTC"}, nil)
	_ = m.AddTaxToFund("BTC", 2) // 2/3 active DIDs -> 0 per user
	_, err := m.Distribute("BTC", time.Now().UTC(), time.Hour, noopCreateTx)
	if err == nil {
		t.Fatal("expected distribution with insufficient per-recipient balance to fail")
	}
}

func TestDistributeSplitsEquallyAndResetsBalance(t *testing.T) {
	dids := fakeDIDSource{dids: []string{"did:duxnet:a", "did:duxnet:b"}}
	m := New(newStore(t), dids, []string{"BTC"}, nil)
	_ = m.AddTaxToFund("BTC", 100)

	rec, err := m.Distribute("BTC", time.Now().UTC(), time.Hour, noopCreateTx)
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	if rec.Amount != 50 {
		t.Fatalf("expected 50 per recipient, got %d", rec.Amount)
	}
	f, err := m.Get("BTC")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.Balance != 0 {
		t.Fatalf("expected balance drained to 0, got %d", f.Balance)
	}
	if f.DistributionCount != 1 {
		t.Fatalf("expected distribution_count 1, got %d", f.DistributionCount)
	}
}

func TestDistributeEnforcesInterval(t *testing.T) {
	dids := fakeDIDSource{dids: []string{"did:duxnet:a"}}
	m := New(newStore(t), dids, []string{"BTC"}, nil)
	_ = m.AddTaxToFund("BTC", 1000)

	now := time.Now().UTC()
	if _, err := m.Distribute("BTC", now, time.Hour, noopCreateTx); err != nil {
		t.Fatalf("first Distribute: %v", err)
	}
	if _, err := m.Distribute("BTC", now.Add(time.Minute), time.Hour, noopCreateTx); err == nil {
		t.Fatal("expected a second distribution before the interval elapses to fail")
	}
	// The first distribution drained the fund; refill it so only the
	// interval decides whether the next round runs.
	_ = m.AddTaxToFund("BTC", 1000)
	if _, err := m.Distribute("BTC", now.Add(2*time.Hour), time.Hour, noopCreateTx); err != nil {
		t.Fatalf("expected distribution after the interval has elapsed to succeed: %v", err)
	}
}

func noopCreateTx(currency, did string, amount uint64) (string, error) {
	return "tx-" + did, nil
}
