package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/payment"
)

// State is the state of the batch run.
type State string

const (
	StateIdle       State = "idle"
	StateEncrypting State = "encrypting"
	StateCreating   State = "creating"
	StateConfirming State = "confirming"
	StateConfirmed  State = "confirmed"
	StateFailed     State = "failed"
)

// IsTerminal checks if state will not change anymore.
func (s State) IsTerminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Event is a state transition of the batch run. InvoiceIndex is -1 for batch level events.
type Event struct {
	BatchID       string            `json:"batch_id"`
	State         State             `json:"state"`
	InvoiceIndex  int               `json:"invoice_index"`
	Phase         payment.PhaseKind `json:"phase,omitempty"`
	Detail        string            `json:"detail"`
	SignRequestID string            `json:"sign_request_id,omitempty"`
	SubmissionID  string            `json:"submission_id,omitempty"`
	Signature     string            `json:"signature,omitempty"`
	RecordID      string            `json:"record_id,omitempty"`
	Error         *Error            `json:"error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Status is a snapshot of the batch run.
type Status struct {
	BatchID      string            `json:"batch_id"`
	State        State             `json:"state"`
	InvoiceIndex int               `json:"invoice_index"`
	Phase        payment.PhaseKind `json:"phase,omitempty"`
	Invoices     int               `json:"invoices"`
	Records      []string          `json:"records"`
	Error        *Error            `json:"error,omitempty"`
}

// Run is a single execution of the batch. Events are delivered in order on the Events channel
// and the channel is closed after the terminal event.
type Run struct {
	batchID  string
	approver address.Address
	invoices int
	events   chan Event
	cancel   context.CancelFunc
	done     chan struct{}

	mux     sync.RWMutex
	status  Status
	records []string
	err     *Error
}

func newRun(batchID string, approver address.Address, invoices int, cancel context.CancelFunc) *Run {
	return &Run{
		batchID:  batchID,
		approver: approver,
		invoices: invoices,
		events:   make(chan Event, 3+16*invoices),
		cancel:   cancel,
		done:     make(chan struct{}),
		status:   Status{BatchID: batchID, State: StateIdle, InvoiceIndex: -1, Invoices: invoices},
	}
}

// BatchID returns id of the executed batch.
func (r *Run) BatchID() string {
	return r.batchID
}

// Approver returns the address of the approver of the batch.
func (r *Run) Approver() address.Address {
	return r.approver
}

// Events returns the event stream of the run.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Cancel requests cancellation. Phases already handed to the fee payer are not cancelled,
// the run stops before the next phase is submitted.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed when the run reaches the terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run reaches the terminal state and returns its error.
func (r *Run) Wait() error {
	<-r.done
	r.mux.RLock()
	defer r.mux.RUnlock()
	if r.err == nil {
		return nil
	}
	return r.err
}

// State returns current state of the run.
func (r *Run) State() State {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.status.State
}

// Records returns ids of audit records persisted by the run.
func (r *Run) Records() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return append([]string(nil), r.records...)
}

// Status returns snapshot of the run.
func (r *Run) Status() Status {
	r.mux.RLock()
	defer r.mux.RUnlock()
	s := r.status
	s.Records = append([]string{}, r.records...)
	s.Error = r.err
	return s
}

func (r *Run) update(e Event) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.status.State = e.State
	r.status.InvoiceIndex = e.InvoiceIndex
	r.status.Phase = e.Phase
	if e.RecordID != "" {
		r.records = append(r.records, e.RecordID)
	}
	if e.Error != nil {
		r.err = e.Error
	}
}
