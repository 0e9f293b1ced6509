package node

import (
	"fmt"
	"time"

	"duxnet.io/node/internal/escrow"
	"duxnet.io/node/internal/reputation"
	"duxnet.io/node/internal/task"
	"duxnet.io/node/internal/wallet"
)

// runSimulationLoop periodically injects synthetic activity: a wallet
// transaction, a service listing, a self-dealing escrow+task pair, and a
// self-attested reputation score. It exists purely so an operator can watch
// every component under load without real counterparties, and is gated on
// cfg.Simulation.Enabled — left unset, no goroutine is ever started.
func (n *Node) runSimulationLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go n.simulationLoop(interval)
}

func (n *Node) simulationLoop(interval time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			n.Log.WithField("panic", r).Error("simulation loop panicked, restarting")
			go n.simulationLoop(interval)
		}
	}()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-n.stopSimulation:
			return
		case <-ticker.C:
			seq++
			n.simulateTick(seq)
		}
	}
}

// simulateTick drives one synthetic round. The node deals with itself as
// both principals. A failed wallet send, service registration, task
// acceptance, release signature or attestation is logged and skipped; a
// failed escrow creation, escrow funding or task submission is logged and
// ends the round, since the later steps depend on it.
func (n *Node) simulateTick(seq int) {
	did := string(n.Identity.LocalDID())
	currency := "BTC"
	if len(n.Config.CommunityFund.Currencies) > 0 {
		currency = n.Config.CommunityFund.Currencies[seq%len(n.Config.CommunityFund.Currencies)]
	}
	entry := n.Log.WithField("component", "simulation").WithField("seq", seq)

	// MockWallet starts at a zero balance for every currency; the
	// simulation is the only caller that ever needs to top it up, so it
	// funds itself just enough to cover the send below.
	if mw, ok := n.Wallet.(*wallet.MockWallet); ok {
		mw.Fund(currency, 10)
	}

	if _, err := n.Wallet.Send(did, 1, currency, fmt.Sprintf("sim-%d", seq), 0); err != nil {
		entry.WithError(err).Debug("simulated wallet send skipped")
	}

	svcID := fmt.Sprintf("sim-service-%d", seq)
	if _, err := n.Service.Register(svcID, did, "Simulated Service", "synthetic listing for load testing", "sim://local", 10); err != nil {
		entry.WithError(err).Debug("simulated service registration failed")
	}

	contract, err := n.Escrow.Create(did, did, []string{did}, 100)
	if err != nil {
		entry.WithError(err).Debug("simulated escrow creation failed")
		return
	}
	if err := n.Escrow.Fund(contract.ID); err != nil {
		entry.WithError(err).Debug("simulated escrow funding failed")
		return
	}
	t, err := n.Task.Submit(svcID, []byte("synthetic payload"), task.Requirements{CPUCores: 1, MemoryMB: 64, TimeoutSeconds: 60}, contract.ID)
	if err != nil {
		entry.WithError(err).Debug("simulated task submission failed")
		return
	}
	if _, err := n.Task.Accept(t.ID, did); err != nil {
		entry.WithError(err).Debug("simulated task acceptance failed")
	}

	releaseSig := n.Identity.Sign(escrow.ReleasePayload(contract.ID, contract.Amount))
	if _, err := n.Escrow.AddSignature(contract.ID, did, releaseSig, escrow.IntentRelease); err != nil {
		entry.WithError(err).Debug("simulated release signature failed")
	}

	att := reputation.Attestation{
		AttesterDID:     did,
		TargetDID:       did,
		Score:           4.5,
		InteractionType: "simulated",
		Timestamp:       time.Now().UTC().Unix(),
	}
	att.Signature = n.Identity.Sign(att.CanonicalBytes())
	if err := n.Reputation.AddAttestation(att); err != nil {
		entry.WithError(err).Debug("simulated attestation failed")
	}
}
