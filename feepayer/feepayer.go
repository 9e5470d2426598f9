package feepayer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/ledger"
	"github.com/bartossh/Settlementis/logger"
	"github.com/bartossh/Settlementis/transaction"
	"github.com/bartossh/Settlementis/validator"
	"github.com/bartossh/Settlementis/wallet"
	"github.com/mr-tron/base58"
)

const (
	defaultRetries = 3
	defaultBackoff = 500 * time.Millisecond
)

var (
	ErrSubmission       = errors.New("transaction submission failed")
	ErrRetriesExhausted = errors.New("submission retries exhausted")
	ErrNotFeePayer      = errors.New("transaction fee payer is not the custodial key")
)

// Submitter submits fully signed transactions to the ledger.
type Submitter interface {
	Submit(ctx context.Context, tx transaction.Transaction) (string, error)
}

// Config contains configuration of the fee payer signer.
type Config struct {
	SubmitRetries int `yaml:"submit_retries"` // retries of transient submission failures
	BackoffMillis int `yaml:"backoff_millis"` // first retry delay, doubled on every next retry
}

// Submission is the accepted submission of the co-signed transaction.
type Submission struct {
	ID          string
	Signature   string
	Attempts    int
	Transaction transaction.Transaction
}

// Signer holds the custodial key. It signs only payloads validated by the security validator.
// Signer is safe for concurrent use.
type Signer struct {
	w       wallet.Wallet
	sub     Submitter
	retries int
	backoff time.Duration
	log     logger.Logger
}

// New creates new Signer.
func New(cfg Config, w wallet.Wallet, sub Submitter, log logger.Logger) *Signer {
	retries := cfg.SubmitRetries
	if retries <= 0 {
		retries = defaultRetries
	}
	backoff := defaultBackoff
	if cfg.BackoffMillis > 0 {
		backoff = time.Duration(cfg.BackoffMillis) * time.Millisecond
	}
	return &Signer{w: w, sub: sub, retries: retries, backoff: backoff, log: log}
}

// Address returns address of the custodial key.
func (s *Signer) Address() address.Address {
	return s.w.Address()
}

// SignAndSubmit appends the custodial signature and submits the transaction retrying transient failures.
// Once signing starts the submission is not cancelled by the context.
func (s *Signer) SignAndSubmit(ctx context.Context, p validator.ValidatedPayload) (Submission, error) {
	tx, err := p.Consume()
	if err != nil {
		return Submission{}, err
	}
	feePayer, err := tx.Message.FeePayer()
	if err != nil || feePayer != s.w.Address() {
		return Submission{}, ErrNotFeePayer
	}
	if err := tx.Sign(&s.w); err != nil {
		return Submission{}, err
	}
	if err := tx.Verify(); err != nil {
		return Submission{}, errors.Join(ErrSubmission, err)
	}
	signature := base58.Encode(tx.FeePayerSignature())

	ctx = context.WithoutCancel(ctx)
	delay := s.backoff
	var last error
	for attempt := 1; attempt <= s.retries+1; attempt++ {
		id, err := s.sub.Submit(ctx, tx)
		if err == nil {
			s.log.Info(fmt.Sprintf("fee payer submitted transaction %s as %s after %d attempt(s)", signature, id, attempt))
			return Submission{ID: id, Signature: signature, Attempts: attempt, Transaction: tx}, nil
		}
		if !errors.Is(err, ledger.ErrTransient) {
			s.log.Error(fmt.Sprintf("fee payer submission of %s failed, %s", signature, err))
			return Submission{}, errors.Join(ErrSubmission, err)
		}
		last = err
		if attempt <= s.retries {
			s.log.Warn(fmt.Sprintf("fee payer submission of %s attempt %d failed, retrying in %s, %s", signature, attempt, delay, err))
			time.Sleep(delay)
			delay *= 2
		}
	}
	s.log.Error(fmt.Sprintf("fee payer submission of %s failed after %d attempts, %s", signature, s.retries+1, last))
	return Submission{}, errors.Join(ErrSubmission, ErrRetriesExhausted, last)
}
