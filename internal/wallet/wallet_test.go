package wallet

import "testing"

func TestTaxRateFloorsDivision(t *testing.T) {
	cases := []struct {
		amount, num, denom uint64
		want               uint64
	}{
		{100, 5, 100, 5},
		{101, 5, 100, 5},
		{19, 5, 100, 0},
	}
	for _, c := range cases {
		got := TaxRate(c.amount, int(c.num), int(c.denom))
		if got != c.want {
			t.Fatalf("TaxRate(%d, %d, %d) = %d, want %d", c.amount, c.num, c.denom, got, c.want)
		}
	}
}

func TestTaxRateZeroDenominatorIsZero(t *testing.T) {
	if got := TaxRate(100, 5, 0); got != 0 {
		t.Fatalf("expected a zero denominator to yield 0, got %d", got)
	}
}

func TestSendRejectsInsufficientBalance(t *testing.T) {
	w := NewMockWallet(5, 100, nil)
	w.Fund("BTC", 10)
	if _, err := w.Send("did:duxnet:peer", 100, "BTC", "", 0); err == nil {
		t.Fatal("expected a send exceeding balance to be rejected")
	}
}

func TestSendFiresTaxHookAndDebitsBalance(t *testing.T) {
	var gotCurrency string
	var gotTax uint64
	w := NewMockWallet(5, 100, func(currency string, tax uint64) {
		gotCurrency = currency
		gotTax = tax
	})
	w.Fund("BTC", 1000)

	res, err := w.Send("did:duxnet:peer", 100, "BTC", "payment", 0)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Success {
		t.Fatal("expected Send to succeed")
	}
	if gotCurrency != "BTC" || gotTax != 5 {
		t.Fatalf("expected a 5%% tax hook call of 5 BTC, got currency=%q tax=%d", gotCurrency, gotTax)
	}
	bal, err := w.GetBalance("BTC")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal != 900 {
		t.Fatalf("expected balance debited by amount+fee (100), got %d", bal)
	}
}

func TestSendSkipsTaxHookWhenTaxIsZero(t *testing.T) {
	called := false
	w := NewMockWallet(5, 100, func(currency string, tax uint64) { called = true })
	w.Fund("BTC", 1000)
	if _, err := w.Send("did:duxnet:peer", 1, "BTC", "", 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if called {
		t.Fatal("expected the tax hook not to fire when the computed tax rounds to 0")
	}
}

func TestGetAddressIsStablePerCurrency(t *testing.T) {
	w := NewMockWallet(5, 100, nil)
	a1, err := w.GetAddress("BTC")
	if err != nil {
		t.Fatalf("GetAddress: %v", err)
	}
	a2, err := w.GetAddress("BTC")
	if err != nil {
		t.Fatalf("GetAddress: %v", err)
	}
	if a1 != a2 {
		t.Fatalf("expected the same address on repeated lookups, got %q and %q", a1, a2)
	}
}
