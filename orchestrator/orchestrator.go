package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bartossh/Settlementis/audit"
	"github.com/bartossh/Settlementis/confirmation"
	"github.com/bartossh/Settlementis/feepayer"
	"github.com/bartossh/Settlementis/logger"
	"github.com/bartossh/Settlementis/multisig"
	"github.com/bartossh/Settlementis/payment"
	"github.com/bartossh/Settlementis/transaction"
	"github.com/bartossh/Settlementis/validator"
	"github.com/bartossh/Settlementis/walletbridge"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Metric names reported to the Measurer.
const (
	MetricPhaseBuildTime    = "settlement_phase_build_time"
	MetricSignatureWaitTime = "settlement_signature_wait_time"
	MetricConfirmationTime  = "settlement_confirmation_time"
	MetricBatchesInFlight   = "settlement_batches_in_flight"
	MetricRejections        = "settlement_validator_rejections_total"
	MetricSettledInvoices   = "settlement_settled_invoices_total"
	MetricFailedBatches     = "settlement_failed_batches_total"
)

// PhaseBuilder builds unsigned phase transactions.
type PhaseBuilder interface {
	Resolve(ctx context.Context, batch *payment.PaymentBatch) (*multisig.Plan, error)
	Create(ctx context.Context, p *multisig.Plan, invoice int, memo []byte, withFee bool) (multisig.Phase, error)
	ProposeApprove(ctx context.Context, p *multisig.Plan, created *multisig.Phase) (multisig.Phase, error)
	Execute(ctx context.Context, p *multisig.Plan, created *multisig.Phase) (multisig.Phase, error)
}

// WalletSigner obtains the approver signature of the phase transaction.
type WalletSigner interface {
	Sign(ctx context.Context, req walletbridge.Request) (transaction.Transaction, error)
}

// Validator validates the client signed transaction before the custodial key co-signs it.
type Validator interface {
	CheckBatchFee(fee decimal.Decimal) error
	Validate(ctx context.Context, tx transaction.Transaction) (validator.ValidatedPayload, error)
}

// FeePayer co-signs and submits validated transactions.
type FeePayer interface {
	SignAndSubmit(ctx context.Context, p validator.ValidatedPayload) (feepayer.Submission, error)
}

// Confirmer awaits finality of the submission.
type Confirmer interface {
	Await(ctx context.Context, id string) (confirmation.Outcome, error)
}

// Encoder precomputes audit data of the invoice.
type Encoder interface {
	Prepare(batch *payment.PaymentBatch, index int) (audit.Draft, error)
}

// RecordStore is the append-only audit record store.
type RecordStore interface {
	Put(ctx context.Context, id string, r audit.Record) error
}

// Notifier receives every event of every run. Notify must not block.
type Notifier interface {
	Notify(e Event)
}

// Measurer collects telemetry.
type Measurer interface {
	RecordHistogramTime(name string, t time.Duration) bool
	IncrementGauge(name string) bool
	DecrementGauge(name string) bool
	IncrementCounter(name string) bool
}

type nopMeasurer struct{}

func (nopMeasurer) RecordHistogramTime(string, time.Duration) bool { return false }
func (nopMeasurer) IncrementGauge(string) bool                     { return false }
func (nopMeasurer) DecrementGauge(string) bool                     { return false }
func (nopMeasurer) IncrementCounter(string) bool                   { return false }

// DefaultRetention is how long a finished run stays available for Lookup.
const DefaultRetention = 15 * time.Minute

// Components are the collaborators of the orchestrator. Notifiers, Measurer and Retention are optional.
type Components struct {
	Builder   PhaseBuilder
	Wallet    WalletSigner
	Validator Validator
	FeePayer  FeePayer
	Confirmer Confirmer
	Encoder   Encoder
	Store     RecordStore
	Notifiers []Notifier
	Measurer  Measurer
	Retention time.Duration
}

// Orchestrator drives payment batches through the three phase signing ceremony, one invoice at a time.
// Different batches run concurrently. A batch id is executed at most once, finished runs are evicted
// after the retention period but their ids are remembered.
type Orchestrator struct {
	c   Components
	log logger.Logger

	mux  sync.RWMutex
	runs map[string]*Run
	seen map[string]struct{}
}

// New creates new Orchestrator.
func New(c Components, log logger.Logger) *Orchestrator {
	if c.Measurer == nil {
		c.Measurer = nopMeasurer{}
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	return &Orchestrator{c: c, log: log, runs: make(map[string]*Run), seen: make(map[string]struct{})}
}

// Lookup returns the run of the batch.
func (o *Orchestrator) Lookup(batchID string) (*Run, bool) {
	o.mux.RLock()
	defer o.mux.RUnlock()
	r, ok := o.runs[batchID]
	return r, ok
}

// Execute starts the batch run. The batch is copied, batch without id gets a fresh one.
// A batch id that was executed before is refused, whatever the outcome of the earlier run.
// Cancelling ctx has the same effect as Run.Cancel.
func (o *Orchestrator) Execute(ctx context.Context, batch *payment.PaymentBatch) (*Run, error) {
	if batch == nil {
		return nil, ErrNilBatch
	}
	b := *batch
	b.Invoices = append([]payment.Invoice(nil), batch.Invoices...)
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	o.mux.Lock()
	if r, ok := o.runs[b.ID]; ok && !r.State().IsTerminal() {
		o.mux.Unlock()
		return nil, errors.Join(ErrBatchRunning, fmt.Errorf("batch %s", b.ID))
	}
	if _, ok := o.seen[b.ID]; ok {
		o.mux.Unlock()
		return nil, errors.Join(ErrBatchExists, fmt.Errorf("batch %s", b.ID))
	}
	ctx, cancel := context.WithCancel(ctx)
	r := newRun(b.ID, b.Approver, len(b.Invoices), cancel)
	o.runs[b.ID] = r
	o.seen[b.ID] = struct{}{}
	o.mux.Unlock()

	go o.run(ctx, r, &b)
	return r, nil
}

func (o *Orchestrator) emit(r *Run, e Event) {
	e.BatchID = r.batchID
	e.CreatedAt = time.Now().UTC()
	r.update(e)
	r.events <- e
	for _, n := range o.c.Notifiers {
		n.Notify(e)
	}
}

func (o *Orchestrator) fail(r *Run, err *Error) {
	o.c.Measurer.IncrementCounter(MetricFailedBatches)
	o.log.Error(fmt.Sprintf("batch %s failed, %s", r.batchID, err))
	o.emit(r, Event{State: StateFailed, InvoiceIndex: err.InvoiceIndex, Phase: err.Phase, Detail: string(err.Kind), Error: err})
}

func (o *Orchestrator) run(ctx context.Context, r *Run, batch *payment.PaymentBatch) {
	o.c.Measurer.IncrementGauge(MetricBatchesInFlight)
	defer func() {
		o.c.Measurer.DecrementGauge(MetricBatchesInFlight)
		r.cancel()
		close(r.events)
		close(r.done)
		time.AfterFunc(o.c.Retention, func() { o.evict(r) })
	}()

	if err := o.settle(ctx, r, batch); err != nil {
		o.fail(r, err)
		return
	}
	o.log.Info(fmt.Sprintf("batch %s confirmed, %d invoice(s) settled", r.batchID, len(batch.Invoices)))
	o.emit(r, Event{State: StateConfirmed, InvoiceIndex: -1, Detail: "batch settled"})
}

func (o *Orchestrator) evict(r *Run) {
	o.mux.Lock()
	defer o.mux.Unlock()
	if o.runs[r.batchID] == r {
		delete(o.runs, r.batchID)
	}
}

func (o *Orchestrator) settle(ctx context.Context, r *Run, batch *payment.PaymentBatch) *Error {
	o.emit(r, Event{State: StateEncrypting, InvoiceIndex: -1, Detail: "preparing audit data"})

	if err := batch.Validate(); err != nil {
		return newError(BuildError, -1, 0, err)
	}
	if err := o.c.Validator.CheckBatchFee(batch.TotalFee); err != nil {
		return newError(ValidationRejected, -1, 0, err)
	}
	drafts := make([]audit.Draft, 0, len(batch.Invoices))
	for i := range batch.Invoices {
		d, err := o.c.Encoder.Prepare(batch, i)
		if err != nil {
			return newError(BuildError, i, 0, err)
		}
		drafts = append(drafts, d)
	}

	if err := ctx.Err(); err != nil {
		return newError(Cancelled, -1, 0, err)
	}
	plan, err := o.c.Builder.Resolve(ctx, batch)
	if err != nil {
		return classify(ctx, BuildError, -1, 0, err)
	}

	for i := range batch.Invoices {
		if err := o.settleInvoice(ctx, r, batch, plan, &drafts[i], i); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) settleInvoice(
	ctx context.Context, r *Run, batch *payment.PaymentBatch, plan *multisig.Plan, draft *audit.Draft, i int,
) *Error {
	fee := decimal.Zero
	if i == 0 {
		fee = batch.TotalFee
	}
	memo, err := draft.Memo(fee)
	if err != nil {
		return newError(BuildError, i, payment.PhaseCreate, err)
	}

	created, _, failure := o.phase(ctx, r, i, payment.PhaseCreate, func(ctx context.Context) (multisig.Phase, error) {
		return o.c.Builder.Create(ctx, plan, i, memo, i == 0)
	})
	if failure != nil {
		return failure
	}
	_, _, failure = o.phase(ctx, r, i, payment.PhaseProposeApprove, func(ctx context.Context) (multisig.Phase, error) {
		return o.c.Builder.ProposeApprove(ctx, plan, &created)
	})
	if failure != nil {
		return failure
	}
	_, sub, failure := o.phase(ctx, r, i, payment.PhaseExecute, func(ctx context.Context) (multisig.Phase, error) {
		return o.c.Builder.Execute(ctx, plan, &created)
	})
	if failure != nil {
		return failure
	}

	rec, err := draft.Seal(created.Memo, sub.Signature, sub.ID, time.Now())
	if err != nil {
		return newError(RecordError, i, payment.PhaseExecute, err)
	}
	if err := o.c.Store.Put(context.WithoutCancel(ctx), rec.ID, rec); err != nil {
		return newError(RecordError, i, payment.PhaseExecute, err)
	}
	o.c.Measurer.IncrementCounter(MetricSettledInvoices)
	o.log.Info(fmt.Sprintf("batch %s invoice %s settled, record %s, signature %s", r.batchID, rec.Essential.InvoiceNumber, rec.ID, rec.Signature))
	o.emit(r, Event{
		State: StateConfirming, InvoiceIndex: i, Phase: payment.PhaseExecute,
		Detail: "invoice settled", SubmissionID: sub.ID, Signature: sub.Signature, RecordID: rec.ID,
	})
	return nil
}

// phase builds, gets signed, validates, submits and confirms a single phase.
// Cancellation is honored until the phase is handed to the fee payer.
func (o *Orchestrator) phase(
	ctx context.Context, r *Run, i int, kind payment.PhaseKind, build func(context.Context) (multisig.Phase, error),
) (multisig.Phase, feepayer.Submission, *Error) {
	if err := ctx.Err(); err != nil {
		return multisig.Phase{}, feepayer.Submission{}, newError(Cancelled, i, kind, err)
	}

	o.emit(r, Event{State: StateCreating, InvoiceIndex: i, Phase: kind, Detail: "building phase"})
	start := time.Now()
	ph, err := build(ctx)
	if err != nil {
		return ph, feepayer.Submission{}, classify(ctx, BuildError, i, kind, err)
	}
	o.c.Measurer.RecordHistogramTime(MetricPhaseBuildTime, time.Since(start))

	req := walletbridge.Request{
		ID:           uuid.NewString(),
		BatchID:      r.batchID,
		InvoiceIndex: i,
		Phase:        kind,
		Signers:      ph.Signers(),
		Transaction:  ph.Transaction.Clone(),
		CreatedAt:    time.Now().UTC(),
	}
	o.emit(r, Event{State: StateCreating, InvoiceIndex: i, Phase: kind, Detail: "awaiting signature", SignRequestID: req.ID})
	start = time.Now()
	signed, err := o.c.Wallet.Sign(ctx, req)
	if err != nil {
		return ph, feepayer.Submission{}, classify(ctx, BuildError, i, kind, err)
	}
	o.c.Measurer.RecordHistogramTime(MetricSignatureWaitTime, time.Since(start))
	if err := ctx.Err(); err != nil {
		return ph, feepayer.Submission{}, newError(Cancelled, i, kind, err)
	}

	payload, err := o.c.Validator.Validate(ctx, signed)
	if err != nil {
		o.c.Measurer.IncrementCounter(MetricRejections)
		return ph, feepayer.Submission{}, classify(ctx, ValidationRejected, i, kind, err)
	}
	if err := ctx.Err(); err != nil {
		return ph, feepayer.Submission{}, newError(Cancelled, i, kind, err)
	}

	// Phase reaches the fee payer, from here on it runs to the terminal outcome.
	ctx = context.WithoutCancel(ctx)
	sub, err := o.c.FeePayer.SignAndSubmit(ctx, payload)
	if err != nil {
		return ph, sub, newError(SubmissionError, i, kind, err)
	}
	o.emit(r, Event{
		State: StateConfirming, InvoiceIndex: i, Phase: kind,
		Detail: "awaiting confirmation", SubmissionID: sub.ID, Signature: sub.Signature,
	})

	start = time.Now()
	out, err := o.c.Confirmer.Await(ctx, sub.ID)
	o.c.Measurer.RecordHistogramTime(MetricConfirmationTime, time.Since(start))
	if err != nil {
		failure := classify(ctx, SubmissionError, i, kind, err)
		failure.SubmissionID = sub.ID
		return ph, sub, failure
	}
	o.emit(r, Event{
		State: StateConfirming, InvoiceIndex: i, Phase: kind,
		Detail: fmt.Sprintf("confirmed after %d poll(s)", out.Polls), SubmissionID: sub.ID, Signature: sub.Signature,
	})
	return ph, sub, nil
}
