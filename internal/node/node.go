// Package node constructs and owns every component of a running duxnet
// node. It is the single allocation root: every component is built once
// here and handed out to callers (the HTTP API, the CLI, the simulation
// loop) as a thin reference, so no component ever reaches for another's
// internals directly.
package node

import (
	"time"

	log "github.com/sirupsen/logrus"

	"duxnet.io/node/internal/communityfund"
	"duxnet.io/node/internal/config"
	"duxnet.io/node/internal/dht"
	"duxnet.io/node/internal/escrow"
	"duxnet.io/node/internal/identity"
	"duxnet.io/node/internal/messaging"
	"duxnet.io/node/internal/reputation"
	"duxnet.io/node/internal/service"
	"duxnet.io/node/internal/task"
	"duxnet.io/node/internal/transport"
	"duxnet.io/node/internal/wallet"
	"duxnet.io/node/pkg/errs"
)

// Node owns every component. All fields are safe for concurrent use
// through their own synchronization; Node itself adds none.
type Node struct {
	Config *config.Config
	Log    *log.Logger

	Identity      *identity.Service
	DHT           *dht.Store
	Reputation    *reputation.Accumulator
	Escrow        *escrow.Manager
	Task          *task.Manager
	CommunityFund *communityfund.Manager
	Messaging     *messaging.Service
	Service       *service.Registry
	Wallet        wallet.Wallet
	Bus           *transport.Bus

	stopHeartbeat  chan struct{}
	stopSimulation chan struct{}
}

// New wires every component from cfg. A nil Bus is tolerated (single-node
// / offline mode): the DHT falls back to a no-op announcer internally.
func New(cfg *config.Config, logger *log.Logger) (*Node, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	id, err := identity.Load(cfg.DataDir, logger)
	if err != nil {
		return nil, errs.Wrap(errs.External, "load identity", err)
	}

	var bus *transport.Bus
	var announcer dht.Announcer
	if cfg.Network.ListenAddr != "" {
		bus, err = transport.NewBus(cfg.Network.ListenAddr, logger)
		if err != nil {
			logger.WithError(err).Warn("transport unavailable, running offline")
		} else {
			announcer = bus
		}
	}

	store, err := dht.New(cfg.Network.MaxPeers, announcer, logger)
	if err != nil {
		return nil, errs.Wrap(errs.External, "create dht store", err)
	}
	store.RunSweeper(config.Duration(cfg.DHT.SweepInterval, time.Minute))

	rep := reputation.New(store, cfg.Reputation.WindowSize, logger)
	svcRegistry := service.New(store, rep, logger)
	escrows := escrow.New(store, id, logger)
	tasks := task.New(store, escrows, cfg.Task.RetryBudget, logger)
	tasks.RunTimeoutSweeper(30 * time.Second)
	msgs := messaging.New(id, logger)

	fund := communityfund.New(store, store, cfg.CommunityFund.Currencies, logger)

	mw := wallet.NewMockWallet(cfg.CommunityFund.TaxRateNumerator, cfg.CommunityFund.TaxRateDenominator, fund.TaxHook())

	n := &Node{
		Config:         cfg,
		Log:            logger,
		Identity:       id,
		DHT:            store,
		Reputation:     rep,
		Escrow:         escrows,
		Task:           tasks,
		CommunityFund:  fund,
		Messaging:      msgs,
		Service:        svcRegistry,
		Wallet:         mw,
		Bus:            bus,
		stopHeartbeat:  make(chan struct{}),
		stopSimulation: make(chan struct{}),
	}
	n.runHeartbeat(config.Duration(cfg.Network.HeartbeatPeriod, 5*time.Minute))

	if cfg.Simulation.Enabled {
		logger.WithField("component", "simulation").Warn("synthetic activity simulation loop enabled")
		n.runSimulationLoop(config.Duration(cfg.Simulation.Interval, 30*time.Second))
	}
	return n, nil
}

// runHeartbeat periodically republishes this node's did_heartbeat: entry,
// the mechanism C6.Distribute's "active participants" set is built from.
func (n *Node) runHeartbeat(interval time.Duration) {
	n.beat()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-n.stopHeartbeat:
				return
			case <-ticker.C:
				n.beat()
			}
		}
	}()
}

func (n *Node) beat() {
	key := dht.PrefixHeartbeat + string(n.Identity.LocalDID())
	ttl := config.Duration(n.Config.DHT.ActiveWindow, 24*time.Hour)
	if err := n.DHT.Store(key, []byte("1"), ttl, string(n.Identity.LocalDID())); err != nil {
		n.Log.WithError(err).Warn("heartbeat failed")
	}
}

// Close tears down every background goroutine owned by the node.
func (n *Node) Close() {
	close(n.stopHeartbeat)
	close(n.stopSimulation)
	n.Task.Close()
	n.DHT.Close()
	if n.Bus != nil {
		n.Bus.Close()
	}
}
