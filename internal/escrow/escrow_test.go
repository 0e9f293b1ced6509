package escrow

import (
	"testing"

	"duxnet.io/node/internal/dht"
	"duxnet.io/node/internal/identity"
)

type parties struct {
	buyer, seller, arbiter *identity.Service
}

func newParties(t *testing.T) parties {
	t.Helper()
	buyer, err := identity.Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("load buyer: %v", err)
	}
	seller, err := identity.Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("load seller: %v", err)
	}
	arbiter, err := identity.Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("load arbiter: %v", err)
	}
	return parties{buyer, seller, arbiter}
}

func newManager(t *testing.T) (*Manager, *identity.Service) {
	t.Helper()
	s, err := dht.New(10, nil, nil)
	if err != nil {
		t.Fatalf("dht.New: %v", err)
	}
	t.Cleanup(s.Close)
	id, err := identity.Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("identity.Load: %v", err)
	}
	return New(s, id, nil), id
}

func TestCreateRejectsZeroAmountOrNoArbiters(t *testing.T) {
	m, _ := newManager(t)
	p := newParties(t)

	if _, err := m.Create(string(p.buyer.LocalDID()), string(p.seller.LocalDID()), []string{string(p.arbiter.LocalDID())}, 0); err == nil {
		t.Fatal("expected zero amount to be rejected")
	}
	if _, err := m.Create(string(p.buyer.LocalDID()), string(p.seller.LocalDID()), nil, 100); err == nil {
		t.Fatal("expected no arbiters to be rejected")
	}
}

func TestFullReleaseLifecycle(t *testing.T) {
	m, _ := newManager(t)
	p := newParties(t)

	c, err := m.Create(string(p.buyer.LocalDID()), string(p.seller.LocalDID()), []string{string(p.arbiter.LocalDID())}, 1000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.State != Created {
		t.Fatalf("expected Created, got %s", c.State)
	}

	if err := m.Fund(c.ID); err != nil {
		t.Fatalf("Fund: %v", err)
	}

	payload := ReleasePayload(c.ID, c.Amount)
	buyerSig := p.buyer.Sign(payload)
	c, err = m.AddSignature(c.ID, string(p.buyer.LocalDID()), buyerSig, IntentRelease)
	if err != nil {
		t.Fatalf("buyer AddSignature: %v", err)
	}
	if c.State != InProgress {
		t.Fatalf("expected InProgress after one signature, got %s", c.State)
	}

	sellerSig := p.seller.Sign(payload)
	c, err = m.AddSignature(c.ID, string(p.seller.LocalDID()), sellerSig, IntentRelease)
	if err != nil {
		t.Fatalf("seller AddSignature: %v", err)
	}
	if c.State != Completed {
		t.Fatalf("expected Completed after the second release signature, got %s", c.State)
	}
}

func TestAddSignatureIsIdempotent(t *testing.T) {
	m, _ := newManager(t)
	p := newParties(t)
	c, err := m.Create(string(p.buyer.LocalDID()), string(p.seller.LocalDID()), []string{string(p.arbiter.LocalDID())}, 500)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Fund(c.ID); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	payload := ReleasePayload(c.ID, c.Amount)
	sig := p.buyer.Sign(payload)

	if _, err := m.AddSignature(c.ID, string(p.buyer.LocalDID()), sig, IntentRelease); err != nil {
		t.Fatalf("first AddSignature: %v", err)
	}
	c2, err := m.AddSignature(c.ID, string(p.buyer.LocalDID()), sig, IntentRelease)
	if err != nil {
		t.Fatalf("repeat AddSignature: %v", err)
	}
	if c2.State != InProgress {
		t.Fatalf("expected re-signing to be a no-op on state, got %s", c2.State)
	}
}

func TestAddSignatureRejectsUnauthorizedSigner(t *testing.T) {
	m, _ := newManager(t)
	p := newParties(t)
	stranger, err := identity.Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("load stranger: %v", err)
	}
	c, err := m.Create(string(p.buyer.LocalDID()), string(p.seller.LocalDID()), []string{string(p.arbiter.LocalDID())}, 500)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = m.Fund(c.ID)
	payload := ReleasePayload(c.ID, c.Amount)
	sig := stranger.Sign(payload)
	if _, err := m.AddSignature(c.ID, string(stranger.LocalDID()), sig, IntentRelease); err == nil {
		t.Fatal("expected a non-principal, non-arbiter signer to be rejected")
	}
}

func TestDisputeResolutionIsArbiterUnilateral(t *testing.T) {
	m, _ := newManager(t)
	p := newParties(t)
	c, err := m.Create(string(p.buyer.LocalDID()), string(p.seller.LocalDID()), []string{string(p.arbiter.LocalDID())}, 500)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = m.Fund(c.ID)

	c, err = m.RaiseDispute(c.ID, string(p.buyer.LocalDID()))
	if err != nil {
		t.Fatalf("RaiseDispute: %v", err)
	}
	if c.State != Disputed {
		t.Fatalf("expected Disputed, got %s", c.State)
	}

	refundPayload := RefundPayload(c.ID, c.Amount)
	arbiterSig := p.arbiter.Sign(refundPayload)
	c, err = m.ResolveDispute(c.ID, string(p.arbiter.LocalDID()), arbiterSig, "buyer")
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if c.State != Refunded {
		t.Fatalf("expected Refunded from a unilateral arbiter 'buyer' decision, got %s", c.State)
	}
}

func TestCancelOnlyByBuyerBeforeWorkStarts(t *testing.T) {
	m, _ := newManager(t)
	p := newParties(t)
	c, err := m.Create(string(p.buyer.LocalDID()), string(p.seller.LocalDID()), []string{string(p.arbiter.LocalDID())}, 500)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = m.Fund(c.ID)

	if _, err := m.Cancel(c.ID, string(p.seller.LocalDID())); err == nil {
		t.Fatal("expected cancel by the seller to be rejected")
	}
	c, err = m.Cancel(c.ID, string(p.buyer.LocalDID()))
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if c.State != Refunded {
		t.Fatalf("expected Refunded after cancel, got %s", c.State)
	}
}
