// Package httpapi exposes the node's command surface as JSON-over-HTTP:
// most handlers decode a narrow request struct and call exactly one
// component method (status and fund stats aggregate several), and every
// handler renders {success, message?, ...} without leaking
// internal error detail. Status codes mirror the error taxonomy in
// pkg/errs.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"duxnet.io/node/internal/communityfund"
	"duxnet.io/node/internal/escrow"
	"duxnet.io/node/internal/messaging"
	"duxnet.io/node/internal/node"
	"duxnet.io/node/internal/reputation"
	"duxnet.io/node/internal/task"
	"duxnet.io/node/internal/wallet"
	"duxnet.io/node/pkg/errs"
	"duxnet.io/node/pkg/retry"
)

// NewRouter builds the mux router exposing n's command surface.
func NewRouter(n *node.Node) http.Handler {
	r := mux.NewRouter()
	r.Use(recoverer(n.Log))
	r.Use(requestLogger(n.Log))

	r.HandleFunc("/status", handleStatus(n)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/services/register", handleServicesRegister(n)).Methods(http.MethodPost)
	r.HandleFunc("/services/search", handleServicesSearch(n)).Methods(http.MethodGet)

	r.HandleFunc("/tasks/submit", handleTasksSubmit(n)).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/accept", handleTasksAccept(n)).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/complete", handleTasksComplete(n)).Methods(http.MethodPost)

	r.HandleFunc("/escrow/create", handleEscrowCreate(n)).Methods(http.MethodPost)
	r.HandleFunc("/escrow/{id}/fund", handleEscrowFund(n)).Methods(http.MethodPost)
	r.HandleFunc("/escrow/{id}/sign", handleEscrowSign(n)).Methods(http.MethodPost)
	r.HandleFunc("/escrow/{id}/dispute", handleEscrowDispute(n)).Methods(http.MethodPost)
	r.HandleFunc("/escrow/{id}/resolve", handleEscrowResolve(n)).Methods(http.MethodPost)
	r.HandleFunc("/escrow/{id}", handleEscrowGet(n)).Methods(http.MethodGet)

	r.HandleFunc("/reputation/{did}", handleReputationGet(n)).Methods(http.MethodGet)
	r.HandleFunc("/reputation/attest", handleReputationAttest(n)).Methods(http.MethodPost)

	r.HandleFunc("/community_fund/distribute/{sym}", handleFundDistribute(n)).Methods(http.MethodPost)
	r.HandleFunc("/community_fund/stats", handleFundStats(n)).Methods(http.MethodGet)

	r.HandleFunc("/messaging/send", handleMessagingSend(n)).Methods(http.MethodPost)
	r.HandleFunc("/messaging/conversations", handleMessagingConversations(n)).Methods(http.MethodGet)
	r.HandleFunc("/messaging/messages/{peer}", handleMessagingMessages(n)).Methods(http.MethodGet)

	r.HandleFunc("/wallet/balance/{currency}", handleWalletBalance(n)).Methods(http.MethodGet)
	r.HandleFunc("/wallet/address/{currency}", handleWalletAddress(n)).Methods(http.MethodGet)
	r.HandleFunc("/wallet/send", handleWalletSend(n)).Methods(http.MethodPost)

	return r
}

// requestLogger mirrors walletserver/middleware.Logger: one structured log
// line per request, fields instead of Infof's formatted string.
func requestLogger(logger *log.Logger) mux.MiddlewareFunc {
	entry := logger.WithField("component", "httpapi")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			entry.WithField("method", r.Method).WithField("path", r.URL.Path).WithField("took", time.Since(start)).Debug("request handled")
		})
	}
}

// recoverer converts a handler panic into a 500 response instead of
// crashing the listener goroutine.
func recoverer(logger *log.Logger) mux.MiddlewareFunc {
	entry := logger.WithField("component", "httpapi")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					entry.WithField("panic", rec).Error("handler panic")
					writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Message: "internal error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// envelope is every response's shape, per the fixed command-surface contract.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// writeErr maps a pkg/errs Code onto an HTTP status without exposing the
// underlying cause, per the command surface's "no internal stack locations"
// requirement.
func writeErr(w http.ResponseWriter, err error) {
	code, _ := errs.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errs.Auth:
		status = http.StatusForbidden
	case errs.NotFound:
		status = http.StatusNotFound
	case errs.Precondition, errs.Serialization:
		status = http.StatusBadRequest
	case errs.State:
		status = http.StatusConflict
	case errs.External:
		status = http.StatusBadGateway
	}
	msg := err.Error()
	var ce *errs.CodedError
	if errors.As(err, &ce) {
		msg = ce.Message
	}
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "malformed request body"})
		return false
	}
	return true
}

func handleStatus(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, map[string]interface{}{
			"did":       string(n.Identity.LocalDID()),
			"dht":       n.DHT.Stats(),
			"tasks":     n.Task.Stats(),
			"peers":     len(n.DHT.Peers()),
			"uptime_ok": true,
		})
	}
}

type servicesRegisterReq struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Endpoint    string `json:"endpoint"`
	Price       uint64 `json:"price"`
}

func handleServicesRegister(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req servicesRegisterReq
		if !decode(w, r, &req) {
			return
		}
		m, err := n.Service.Register(req.ID, string(n.Identity.LocalDID()), req.Name, req.Description, req.Endpoint, req.Price)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, m)
	}
}

func handleServicesSearch(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, n.Service.Search(r.URL.Query().Get("q")))
	}
}

type tasksSubmitReq struct {
	ServiceID string              `json:"service_id"`
	Payload   []byte              `json:"payload"`
	EscrowID  string              `json:"escrow_id"`
	Reqs      task.Requirements   `json:"requirements"`
}

func handleTasksSubmit(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tasksSubmitReq
		if !decode(w, r, &req) {
			return
		}
		t, err := n.Task.Submit(req.ServiceID, req.Payload, req.Reqs, req.EscrowID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, t)
	}
}

type tasksAcceptReq struct {
	ProcessorDID string `json:"processor_did"`
}

func handleTasksAccept(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tasksAcceptReq
		if !decode(w, r, &req) {
			return
		}
		t, err := n.Task.Accept(mux.Vars(r)["id"], req.ProcessorDID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, t)
	}
}

type tasksCompleteReq struct {
	ProcessorDID  string `json:"processor_did"`
	Result        []byte `json:"result"`
	Proof         []byte `json:"proof"`
	ProcessorSig  []byte `json:"processor_sig"`
}

func handleTasksComplete(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tasksCompleteReq
		if !decode(w, r, &req) {
			return
		}
		res := task.Result{
			TaskID:       mux.Vars(r)["id"],
			ProcessorDID: req.ProcessorDID,
			Result:       req.Result,
			Proof:        req.Proof,
			CompletedAt:  time.Now().UTC().Unix(),
		}
		t, err := n.Task.Complete(res, req.ProcessorSig)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, t)
	}
}

type escrowCreateReq struct {
	BuyerDID  string   `json:"buyer_did"`
	SellerDID string   `json:"seller_did"`
	Arbiters  []string `json:"arbiters"`
	Amount    uint64   `json:"amount"`
}

func handleEscrowCreate(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req escrowCreateReq
		if !decode(w, r, &req) {
			return
		}
		c, err := n.Escrow.Create(req.BuyerDID, req.SellerDID, req.Arbiters, req.Amount)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, c)
	}
}

func handleEscrowFund(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := n.Escrow.Fund(mux.Vars(r)["id"]); err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, nil)
	}
}

type escrowSignReq struct {
	SignerDID string        `json:"signer_did"`
	Signature []byte        `json:"signature"`
	Intent    escrow.Intent `json:"intent"`
}

func handleEscrowSign(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req escrowSignReq
		if !decode(w, r, &req) {
			return
		}
		c, err := n.Escrow.AddSignature(mux.Vars(r)["id"], req.SignerDID, req.Signature, req.Intent)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, c)
	}
}

type escrowDisputeReq struct {
	ByDID string `json:"by_did"`
}

func handleEscrowDispute(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req escrowDisputeReq
		if !decode(w, r, &req) {
			return
		}
		c, err := n.Escrow.RaiseDispute(mux.Vars(r)["id"], req.ByDID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, c)
	}
}

type escrowResolveReq struct {
	ArbiterDID string `json:"arbiter_did"`
	Signature  []byte `json:"signature"`
	Decision   string `json:"decision"`
}

func handleEscrowResolve(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req escrowResolveReq
		if !decode(w, r, &req) {
			return
		}
		c, err := n.Escrow.ResolveDispute(mux.Vars(r)["id"], req.ArbiterDID, req.Signature, req.Decision)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, c)
	}
}

func handleEscrowGet(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := n.Escrow.Get(mux.Vars(r)["id"])
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, c)
	}
}

func handleReputationGet(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, map[string]interface{}{
			"did":   mux.Vars(r)["did"],
			"score": n.Reputation.GetScore(mux.Vars(r)["did"]),
		})
	}
}

type reputationAttestReq struct {
	AttesterDID     string  `json:"attester_did"`
	TargetDID       string  `json:"target_did"`
	Score           float64 `json:"score"`
	InteractionType string  `json:"interaction_type"`
	Timestamp       int64   `json:"timestamp"`
	Signature       []byte  `json:"signature"`
}

func handleReputationAttest(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reputationAttestReq
		if !decode(w, r, &req) {
			return
		}
		att := reputation.Attestation{
			AttesterDID:     req.AttesterDID,
			TargetDID:       req.TargetDID,
			Score:           req.Score,
			InteractionType: req.InteractionType,
			Timestamp:       req.Timestamp,
			Signature:       req.Signature,
		}
		if err := n.Reputation.AddAttestation(att); err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, nil)
	}
}

type communityFundDistributeReq struct {
	Interval string `json:"interval"`
}

func handleFundDistribute(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req communityFundDistributeReq
		_ = json.NewDecoder(r.Body).Decode(&req) // body is optional; default interval applies

		interval := 12 * time.Hour
		if req.Interval != "" {
			if d, err := time.ParseDuration(req.Interval); err == nil {
				interval = d
			}
		}
		rec, err := n.CommunityFund.Distribute(mux.Vars(r)["sym"], time.Now().UTC(), interval, makeCreateTx(n))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, rec)
	}
}

func makeCreateTx(n *node.Node) func(currency, did string, amount uint64) (string, error) {
	return func(currency, did string, amount uint64) (string, error) {
		var id string
		err := retry.Do(context.Background(), retry.Default, func(ctx context.Context) error {
			receipt, err := n.Wallet.CreateTransaction(did, amount, currency)
			if err != nil {
				return err
			}
			id = receipt.ID
			return nil
		})
		if err != nil {
			return "", err
		}
		return id, nil
	}
}

func handleFundStats(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currencies := n.Config.CommunityFund.Currencies
		out := make(map[string]*communityfund.Fund, len(currencies))
		for _, c := range currencies {
			f, err := n.CommunityFund.Get(c)
			if err != nil {
				continue
			}
			out[c] = f
		}
		writeOK(w, out)
	}
}

type messagingSendReq struct {
	ToDID   string          `json:"to_did"`
	Content string          `json:"content"`
	Type    messaging.Type  `json:"message_type"`
	ReplyTo string          `json:"reply_to"`
}

func handleMessagingSend(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messagingSendReq
		if !decode(w, r, &req) {
			return
		}
		msg, err := n.Messaging.Send(req.ToDID, req.Content, req.Type, req.ReplyTo)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, msg)
	}
}

func handleMessagingConversations(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, n.Messaging.Conversations())
	}
}

func handleMessagingMessages(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, n.Messaging.Messages(mux.Vars(r)["peer"]))
	}
}

func handleWalletBalance(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bal, err := n.Wallet.GetBalance(mux.Vars(r)["currency"])
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, map[string]uint64{"balance": bal})
	}
}

func handleWalletAddress(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := n.Wallet.GetAddress(mux.Vars(r)["currency"])
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, map[string]string{"address": addr})
	}
}

type walletSendReq struct {
	To       string `json:"to"`
	Amount   uint64 `json:"amount"`
	Currency string `json:"currency"`
	Memo     string `json:"memo"`
	Fee      uint64 `json:"fee"`
}

func handleWalletSend(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req walletSendReq
		if !decode(w, r, &req) {
			return
		}
		var res wallet.SendResult
		err := retry.Do(r.Context(), retry.Default, func(ctx context.Context) error {
			sent, sendErr := n.Wallet.Send(req.To, req.Amount, req.Currency, req.Memo, req.Fee)
			if sendErr != nil {
				return sendErr
			}
			res = sent
			return nil
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, res)
	}
}

