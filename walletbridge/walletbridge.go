package walletbridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/logger"
	"github.com/bartossh/Settlementis/payment"
	"github.com/bartossh/Settlementis/transaction"
	"github.com/google/uuid"
)

var (
	ErrUserRejected    = errors.New("user rejected signing in the wallet")
	ErrRequestNotFound = errors.New("sign request not found")
	ErrMessageTampered = errors.New("signed message differs from the requested one")
	ErrNotSigned       = errors.New("signed transaction misses required signature")
)

// Request is a request to sign the unsigned phase transaction.
type Request struct {
	ID           string                  `json:"id"`
	BatchID      string                  `json:"batch_id"`
	InvoiceIndex int                     `json:"invoice_index"`
	Phase        payment.PhaseKind       `json:"phase"`
	Signers      []address.Address       `json:"signers"`
	Transaction  transaction.Transaction `json:"transaction"`
	CreatedAt    time.Time               `json:"created_at"`
}

type reply struct {
	tx  transaction.Transaction
	err error
}

type parked struct {
	req   Request
	reply chan reply
}

// Bridge is the wallet signer of the remote approver. Sign requests are parked until
// the approver wallet posts the signed transaction or rejects the request.
// Bridge is safe for concurrent use.
type Bridge struct {
	mux     sync.Mutex
	pending map[string]*parked
	log     logger.Logger
}

// New creates new Bridge.
func New(log logger.Logger) *Bridge {
	return &Bridge{pending: make(map[string]*parked), log: log}
}

// Sign parks the request and blocks until it is resolved, rejected or ctx is done.
func (b *Bridge) Sign(ctx context.Context, req Request) (transaction.Transaction, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	p := &parked{req: req, reply: make(chan reply, 1)}

	b.mux.Lock()
	b.pending[req.ID] = p
	b.mux.Unlock()

	b.log.Debug(fmt.Sprintf("sign request %s of batch %s invoice %d phase %s parked", req.ID, req.BatchID, req.InvoiceIndex, req.Phase))

	select {
	case r := <-p.reply:
		return r.tx, r.err
	case <-ctx.Done():
		b.mux.Lock()
		delete(b.pending, req.ID)
		b.mux.Unlock()
		return transaction.Transaction{}, ctx.Err()
	}
}

// Pending returns parked requests of the batch, oldest first.
func (b *Bridge) Pending(batchID string) []Request {
	b.mux.Lock()
	defer b.mux.Unlock()
	reqs := make([]Request, 0, len(b.pending))
	for _, p := range b.pending {
		if p.req.BatchID == batchID {
			reqs = append(reqs, p.req)
		}
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	return reqs
}

// Resolve hands the signed transaction to the waiting signer. The signed message must be byte equal
// to the requested one and carry valid signatures of every required signer other than the fee payer.
// A refused transaction leaves the request parked.
func (b *Bridge) Resolve(id string, signed transaction.Transaction) error {
	b.mux.Lock()
	defer b.mux.Unlock()
	p, ok := b.pending[id]
	if !ok {
		return errors.Join(ErrRequestNotFound, fmt.Errorf("request %s", id))
	}
	if !bytes.Equal(p.req.Transaction.Message.Serialize(), signed.Message.Serialize()) {
		b.log.Warn(fmt.Sprintf("sign request %s of batch %s resolved with tampered message", id, p.req.BatchID))
		return ErrMessageTampered
	}
	feePayer, _ := signed.Message.FeePayer()
	for _, s := range p.req.Signers {
		if s == feePayer {
			continue
		}
		if err := signed.VerifySignature(s); err != nil {
			return errors.Join(ErrNotSigned, fmt.Errorf("signer %s", s), err)
		}
	}
	delete(b.pending, id)
	p.reply <- reply{tx: signed.Clone()}
	return nil
}

// Reject rejects the request as the user declined to sign it.
func (b *Bridge) Reject(id string) error {
	b.mux.Lock()
	defer b.mux.Unlock()
	p, ok := b.pending[id]
	if !ok {
		return errors.Join(ErrRequestNotFound, fmt.Errorf("request %s", id))
	}
	delete(b.pending, id)
	p.reply <- reply{err: ErrUserRejected}
	b.log.Info(fmt.Sprintf("sign request %s of batch %s rejected by the user", id, p.req.BatchID))
	return nil
}
