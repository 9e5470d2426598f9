package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bartossh/Settlementis/confirmation"
	"github.com/bartossh/Settlementis/payment"
	"github.com/bartossh/Settlementis/validator"
	"github.com/bartossh/Settlementis/walletbridge"
)

// Kind is the class of the batch failure.
type Kind string

const (
	BuildError          Kind = "build_error"
	ValidationRejected  Kind = "validation_rejected"
	SubmissionError     Kind = "submission_error"
	ConfirmationTimeout Kind = "confirmation_timeout"
	OnChainFailure      Kind = "on_chain_failure"
	Cancelled           Kind = "cancelled"
	RecordError         Kind = "record_error"
)

var (
	ErrNilBatch     = errors.New("batch is nil")
	ErrBatchRunning = errors.New("batch with the same id is already running")
	ErrBatchExists  = errors.New("batch with the same id was already executed")
)

// Error is the terminal error of the batch run.
// InvoiceIndex is -1 when the failure is not bound to any invoice.
type Error struct {
	Kind         Kind              `json:"kind"`
	Reason       string            `json:"reason"`
	InvoiceIndex int               `json:"invoice_index"`
	Phase        payment.PhaseKind `json:"phase,omitempty"`
	SubmissionID string            `json:"submission_id,omitempty"`
	Err          error             `json:"-"`
}

func (e *Error) Error() string {
	if e.InvoiceIndex < 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s at invoice %d phase %s: %s", e.Kind, e.InvoiceIndex, e.Phase, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the outcome of the failed phase is known. Timeout is the only
// failure where funds may have moved.
func (e *Error) IsFatal() bool {
	return e.Kind != ConfirmationTimeout
}

func reason(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", ": ")
}

func newError(kind Kind, invoice int, phase payment.PhaseKind, err error) *Error {
	return &Error{Kind: kind, Reason: reason(err), InvoiceIndex: invoice, Phase: phase, Err: err}
}

// classify maps the error of a phase step that happens before submission.
// Any failure while ctx is cancelled is a cancellation.
func classify(ctx context.Context, fallback Kind, invoice int, phase payment.PhaseKind, err error) *Error {
	switch {
	case ctx.Err() != nil:
		return newError(Cancelled, invoice, phase, errors.Join(ctx.Err(), err))
	case errors.Is(err, walletbridge.ErrUserRejected),
		errors.Is(err, context.Canceled):
		return newError(Cancelled, invoice, phase, err)
	case errors.Is(err, validator.ErrRejected):
		return newError(ValidationRejected, invoice, phase, err)
	case errors.Is(err, confirmation.ErrOnChainFailure):
		return newError(OnChainFailure, invoice, phase, err)
	case errors.Is(err, confirmation.ErrTimeout):
		return newError(ConfirmationTimeout, invoice, phase, err)
	default:
		return newError(fallback, invoice, phase, err)
	}
}
