// Package task implements C5: binding tasks to escrow contracts and
// tracking them through pending/processing/completed, including the
// timeout sweeper that reclaims stalled processors. Generalizes the
// teacher's core/messages.go FIFO MessageQueue pattern into the three
// indexed sets a task lifecycle requires.
package task

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"duxnet.io/node/internal/dht"
	"duxnet.io/node/internal/escrow"
	"duxnet.io/node/pkg/errs"
)

// Requirements are the resource/timeout needs a task declares at submission.
type Requirements struct {
	CPUCores       uint32 `json:"cpu_cores"`
	MemoryMB       uint32 `json:"memory_mb"`
	TimeoutSeconds uint32 `json:"timeout_seconds"`
}

// Status enumerates the lifecycle state a persisted Task record is in;
// stored alongside the task so a restarting node can classify it back into
// pending/processing/completed/failed without re-deriving it from anything
// else in the DHT.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Task is the durable, DHT-replicated task record.
type Task struct {
	ID           string       `json:"id"`
	EscrowID     string       `json:"escrow_id"`
	ServiceID    string       `json:"service_id"`
	Payload      []byte       `json:"payload"`
	Requirements Requirements `json:"requirements"`
	CreatedAt    int64        `json:"created_at"`
	Status       string       `json:"status"`

	ProcessorDID string  `json:"processor_did,omitempty"`
	AcceptedAt   int64   `json:"accepted_at,omitempty"`
	Attempts     int     `json:"attempts"`
	Result       *Result `json:"result,omitempty"`
}

// Result is the outcome a processor submits for a completed task.
type Result struct {
	TaskID       string `json:"task_id"`
	ProcessorDID string `json:"processor_did"`
	Result       []byte `json:"result"`
	Proof        []byte `json:"proof"`
	CompletedAt  int64  `json:"completed_at"`
}

// Stats is the observable task-queue snapshot.
type Stats struct {
	PendingCount    int `json:"pending_count"`
	ProcessingCount int `json:"processing_count"`
	CompletedCount  int `json:"completed_count"`
	TotalTasks      int `json:"total_tasks"`
}

// escrowView is the subset of escrow.Manager the task manager needs,
// narrowed so tests can fake it without a full escrow store.
type escrowView interface {
	Get(escrowID string) (*escrow.Contract, error)
	AddSignature(escrowID, signerDID string, sig []byte, intent escrow.Intent) (*escrow.Contract, error)
}

// Manager tracks pending/processing/completed tasks and drives the escrow
// release flow on completion.
type Manager struct {
	store       *dht.Store
	escrows     escrowView
	retryBudget int
	log         *log.Entry

	mu         sync.RWMutex
	pending    map[string]*Task
	processing map[string]*Task
	completed  map[string]*Result
	failed     map[string]*Task

	stop chan struct{}
	once sync.Once
}

// New creates a Manager bound to store and escrows, with the given retry
// budget for stalled processors (default 2). Any tasks already persisted
// under dht.PrefixTask are rehydrated into the matching in-memory set.
func New(store *dht.Store, escrows escrowView, retryBudget int, logger *log.Logger) *Manager {
	if retryBudget <= 0 {
		retryBudget = 2
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	m := &Manager{
		store:       store,
		escrows:     escrows,
		retryBudget: retryBudget,
		log:         logger.WithField("component", "task"),
		pending:     make(map[string]*Task),
		processing:  make(map[string]*Task),
		completed:   make(map[string]*Result),
		failed:      make(map[string]*Task),
		stop:        make(chan struct{}),
	}
	m.rehydrate()
	return m
}

// rehydrate scans dht.PrefixTask and classifies every persisted task back
// into pending/processing/completed/failed by its stored Status, mirroring
// communityfund.New's "durably reconstructed at startup" load pattern.
func (m *Manager) rehydrate() {
	for _, kv := range m.store.ListByPrefix(dht.PrefixTask) {
		var t Task
		if err := json.Unmarshal(kv.Value, &t); err != nil {
			m.log.WithError(err).Warn("rehydrate: unmarshal task")
			continue
		}
		switch t.Status {
		case StatusProcessing:
			tc := t
			m.processing[t.ID] = &tc
		case StatusCompleted:
			if t.Result != nil {
				rc := *t.Result
				m.completed[t.ID] = &rc
			}
		case StatusFailed:
			tc := t
			m.failed[t.ID] = &tc
		default:
			tc := t
			tc.Status = StatusPending
			m.pending[t.ID] = &tc
		}
	}
}

func (m *Manager) announce(t *Task) {
	raw, err := json.Marshal(t)
	if err != nil {
		m.log.WithError(err).Warn("marshal task for announce")
		return
	}
	if err := m.store.Store(dht.PrefixTask+t.ID, raw, 0, t.ProcessorDID); err != nil {
		m.log.WithError(err).Warn("announce task")
	}
}

// Submit requires an extant Funded escrow bound at submission; the task is
// durably tied to the escrow via escrow_id.
func (m *Manager) Submit(serviceID string, payload []byte, reqs Requirements, escrowID string) (*Task, error) {
	c, err := m.escrows.Get(escrowID)
	if err != nil {
		return nil, err
	}
	if c.State != escrow.Funded {
		return nil, errs.New(errs.State, fmt.Sprintf("escrow must be Funded to submit a task, is %s", c.State))
	}

	t := &Task{
		ID:           uuid.New().String(),
		EscrowID:     escrowID,
		ServiceID:    serviceID,
		Payload:      payload,
		Requirements: reqs,
		CreatedAt:    time.Now().UTC().Unix(),
		Status:       StatusPending,
	}

	m.mu.Lock()
	m.pending[t.ID] = t
	m.mu.Unlock()

	m.announce(t)
	return t, nil
}

// Accept moves a pending task to processing, stamping the processor. Only
// allowed while the task exists in pending.
func (m *Manager) Accept(taskID, processorDID string) (*Task, error) {
	m.mu.Lock()
	t, ok := m.pending[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, errs.New(errs.NotFound, "task not pending")
	}
	delete(m.pending, taskID)
	t.ProcessorDID = processorDID
	t.AcceptedAt = time.Now().UTC().Unix()
	t.Status = StatusProcessing
	m.processing[taskID] = t
	m.mu.Unlock()

	m.announce(t)
	return t, nil
}

// Complete verifies the result's processor matches the accepted processor,
// moves the task to completed, and triggers the escrow's release flow by
// adding a release signature on behalf of the seller. The caller supplies
// the seller's signature over the release payload (the task manager itself
// holds no keys; signing is the identity component's job).
func (m *Manager) Complete(result Result, processorSig []byte) (*Task, error) {
	m.mu.Lock()
	t, ok := m.processing[result.TaskID]
	if !ok {
		m.mu.Unlock()
		return nil, errs.New(errs.NotFound, "task not processing")
	}
	if t.ProcessorDID != result.ProcessorDID {
		m.mu.Unlock()
		return nil, errs.New(errs.Auth, "result processor does not match accepted processor")
	}
	cp := *t
	m.mu.Unlock()

	c, err := m.escrows.Get(cp.EscrowID)
	if err != nil {
		return nil, err
	}
	if c.State != escrow.Funded && c.State != escrow.InProgress {
		return nil, errs.New(errs.State, fmt.Sprintf("escrow must be Funded or InProgress to complete, is %s", c.State))
	}

	// Persist the task as completed, with its result, before requesting the
	// escrow release signature: AddSignature is idempotent, so a crash or
	// failure after this point leaves a durable record of the submitted
	// work that a retried Complete call can safely re-announce.
	cp.Status = StatusCompleted
	cp.Result = &result
	m.announce(&cp)

	if _, err := m.escrows.AddSignature(cp.EscrowID, result.ProcessorDID, processorSig, escrow.IntentRelease); err != nil {
		return nil, err
	}

	m.mu.Lock()
	delete(m.processing, result.TaskID)
	m.completed[result.TaskID] = &result
	m.mu.Unlock()

	return &cp, nil
}

// Stats returns the observable task-queue counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := len(m.pending) + len(m.processing) + len(m.completed) + len(m.failed)
	return Stats{
		PendingCount:    len(m.pending),
		ProcessingCount: len(m.processing),
		CompletedCount:  len(m.completed),
		TotalTasks:      total,
	}
}

// RunTimeoutSweeper starts the background loop that demotes stalled
// processing tasks back to pending, or to failed once the retry budget is
// exhausted.
func (m *Manager) RunTimeoutSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go m.sweepLoop(interval)
}

func (m *Manager) sweepLoop(interval time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Error("task sweeper panicked, restarting")
			go m.sweepLoop(interval)
		}
	}()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	now := time.Now().UTC().Unix()
	m.mu.Lock()
	var toAnnounce []*Task
	for id, t := range m.processing {
		deadline := t.AcceptedAt + int64(t.Requirements.TimeoutSeconds)
		if t.Requirements.TimeoutSeconds == 0 || now < deadline {
			continue
		}
		delete(m.processing, id)
		t.Attempts++
		t.ProcessorDID = ""
		t.AcceptedAt = 0
		if t.Attempts > m.retryBudget {
			t.Status = StatusFailed
			m.failed[id] = t
		} else {
			t.Status = StatusPending
			m.pending[id] = t
		}
		toAnnounce = append(toAnnounce, t)
	}
	m.mu.Unlock()

	for _, t := range toAnnounce {
		m.announce(t)
	}
}

// Close stops the timeout sweeper. Idempotent.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.stop) })
}
