// Package wallet defines the external wallet collaborator's fixed
// interface: balance/address lookups and outgoing transactions, plus the
// tax-hook callback the community fund (C6) consumes on every outflow.
// The real wallet materializing on-chain transactions is explicitly out
// of scope for this module; MockWallet below is the in-memory stand-in
// used by tests and the simulation loop, grounded on walletserver/services
// layering (a Service behind a narrow interface, wired into controllers
// rather than called directly).
package wallet

import (
	"strconv"
	"sync"

	"duxnet.io/node/pkg/errs"
)

// TaxHook is invoked by Send for every outgoing transaction, carrying the
// currency and the 5% tax amount due to the community fund.
type TaxHook func(currency string, taxAmount uint64)

// TxReceipt is returned by CreateTransaction.
type TxReceipt struct {
	ID  string
	Fee uint64
}

// SendResult is returned by Send.
type SendResult struct {
	TransactionID string
	Fee           uint64
	Success       bool
	Message       string
}

// Wallet is the fixed external collaborator interface the node depends on.
type Wallet interface {
	GetAddress(currency string) (string, error)
	GetBalance(currency string) (uint64, error)
	CreateTransaction(to string, amount uint64, currency string) (TxReceipt, error)
	Send(to string, amount uint64, currency string, memo string, fee uint64) (SendResult, error)
}

// TaxRate computes floor(amount * numerator / denominator); with the
// default 5/100 rate this is exactly floor(amount * 5 / 100).
func TaxRate(amount uint64, numerator, denominator int) uint64 {
	if denominator <= 0 {
		return 0
	}
	return amount * uint64(numerator) / uint64(denominator)
}

// MockWallet is an in-memory wallet used by tests and the simulation loop.
// Every Send debits amount+fee from the balance and then fires the tax hook
// with the computed tax (skipped when the tax rounds to 0), mirroring the
// real wallet's fixed external behavior.
type MockWallet struct {
	mu         sync.Mutex
	addresses  map[string]string
	balances   map[string]uint64
	taxNum     int
	taxDenom   int
	onTax      TaxHook
	nextTxSeq  uint64
}

// NewMockWallet creates an empty wallet with the given tax rate
// (numerator/denominator, e.g. 5/100); GetAddress creates each currency's
// address on first lookup.
func NewMockWallet(taxNumerator, taxDenominator int, onTax TaxHook) *MockWallet {
	return &MockWallet{
		addresses: make(map[string]string),
		balances:  make(map[string]uint64),
		taxNum:    taxNumerator,
		taxDenom:  taxDenominator,
		onTax:     onTax,
	}
}

// Fund credits the wallet's own balance for currency, for test setup and
// the simulation loop.
func (w *MockWallet) Fund(currency string, amount uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[currency] += amount
}

func (w *MockWallet) GetAddress(currency string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if addr, ok := w.addresses[currency]; ok {
		return addr, nil
	}
	addr := "duxw1" + currency
	w.addresses[currency] = addr
	return addr, nil
}

func (w *MockWallet) GetBalance(currency string) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[currency], nil
}

func (w *MockWallet) CreateTransaction(to string, amount uint64, currency string) (TxReceipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextTxSeq++
	return TxReceipt{ID: txID(currency, w.nextTxSeq), Fee: 0}, nil
}

func (w *MockWallet) Send(to string, amount uint64, currency string, memo string, fee uint64) (SendResult, error) {
	w.mu.Lock()
	bal := w.balances[currency]
	total := amount + fee
	if total > bal {
		w.mu.Unlock()
		return SendResult{}, errs.New(errs.Precondition, "insufficient wallet balance")
	}
	w.balances[currency] = bal - total
	w.nextTxSeq++
	txid := txID(currency, w.nextTxSeq)
	tax := TaxRate(amount, w.taxNum, w.taxDenom)
	hook := w.onTax
	w.mu.Unlock()

	if hook != nil && tax > 0 {
		hook(currency, tax)
	}
	return SendResult{TransactionID: txid, Fee: fee, Success: true, Message: "sent"}, nil
}

func txID(currency string, seq uint64) string {
	return "tx-" + currency + "-" + strconv.FormatUint(seq, 10)
}
