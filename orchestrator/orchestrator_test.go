package orchestrator

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/aeswrapper"
	"github.com/bartossh/Settlementis/audit"
	"github.com/bartossh/Settlementis/confirmation"
	"github.com/bartossh/Settlementis/emulator"
	"github.com/bartossh/Settlementis/feepayer"
	"github.com/bartossh/Settlementis/multisig"
	"github.com/bartossh/Settlementis/payment"
	"github.com/bartossh/Settlementis/token"
	"github.com/bartossh/Settlementis/transaction"
	"github.com/bartossh/Settlementis/validator"
	"github.com/bartossh/Settlementis/vendorlookup"
	"github.com/bartossh/Settlementis/wallet"
	"github.com/bartossh/Settlementis/walletbridge"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type nopLogger struct{}

func (nopLogger) Debug(string) {}
func (nopLogger) Info(string)  {}
func (nopLogger) Warn(string)  {}
func (nopLogger) Error(string) {}
func (nopLogger) Fatal(string) {}

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

type fixture struct {
	n        *emulator.Network
	feePayer wallet.Wallet
	approver wallet.Wallet
	usdc     token.Type
	multisig address.Address
	treasury address.Address
	payee    address.Address
	store    *audit.MemoryStore
	c        Components
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	feePayer, err := wallet.New()
	assert.Nil(t, err)
	approver, err := wallet.New()
	assert.Nil(t, err)
	f := &fixture{
		feePayer: feePayer,
		approver: approver,
		usdc:     token.Type{Symbol: "USDC", Mint: address.FromSeed("usdc"), Decimals: 6},
		multisig: address.FromSeed("acme multisig"),
		treasury: address.FromSeed("treasury"),
		payee:    address.FromSeed("vendor settlement"),
		store:    audit.NewMemoryStore(),
	}
	f.n, err = emulator.New(1, emulator.Genesis{
		Mints: []emulator.Mint{{Address: f.usdc.Mint, Decimals: f.usdc.Decimals}},
		Multisigs: []emulator.Multisig{{
			Address: f.multisig, Threshold: 1, Members: []address.Address{approver.Address()},
			Balances: []emulator.Balance{{Mint: f.usdc.Mint, Amount: 10_000_000_000}},
		}},
	})
	assert.Nil(t, err)

	fee := decimal.RequireFromString("1")
	f.c = Components{
		Builder:   multisig.New(multisig.Config{Treasury: f.treasury}, feePayer.Address(), f.n, vendorlookup.Static{"vendor-1": f.payee}, nopLogger{}),
		Wallet:    walletbridge.NewLocal(&f.approver),
		Validator: validator.New(validator.Config{Fee: fee, Treasury: f.treasury}, feePayer.Address(), f.n, nopLogger{}),
		FeePayer:  feepayer.New(feepayer.Config{SubmitRetries: 2, BackoffMillis: 1}, feePayer, f.n, nopLogger{}),
		Confirmer: confirmation.New(confirmation.Config{MaxPolls: 5, TimeoutSeconds: 5, IntervalMillis: 1}, f.n, nopLogger{}),
		Encoder:   audit.NewEncoder(aeswrapper.New()),
		Store:     f.store,
	}
	return f
}

func (f *fixture) batch(amounts ...string) *payment.PaymentBatch {
	b := &payment.PaymentBatch{
		ID:            "batch-1",
		Currency:      f.usdc,
		PayerAccount:  payment.AccountRef{Address: f.multisig, Name: "ACME"},
		PayeeAccount:  payment.AccountRef{CounterpartyID: "vendor-1", Name: "Vendor"},
		Approver:      f.approver.Address(),
		TotalFee:      decimal.RequireFromString("1"),
		PaymentMethod: "multisig",
	}
	for i, a := range amounts {
		b.Invoices = append(b.Invoices, payment.Invoice{
			Number: "INV-" + string(rune('1'+i)),
			Amount: decimal.RequireFromString(a),
		})
	}
	return b
}

func drain(r *Run) []Event {
	var events []Event
	for e := range r.Events() {
		events = append(events, e)
	}
	return events
}

func asError(t *testing.T, err error) *Error {
	t.Helper()
	var e *Error
	assert.True(t, errors.As(err, &e), "error %v is not *Error", err)
	return e
}

func createMemos(t *testing.T, n *emulator.Network) []audit.Memo {
	t.Helper()
	var memos []audit.Memo
	for _, tx := range n.Submitted() {
		if tx.Message.Instructions[0].Kind != transaction.KindVaultTransactionCreate {
			continue
		}
		raws := tx.Memos()
		assert.Len(t, raws, 1)
		m, err := audit.DecodeMemo(raws[0])
		assert.Nil(t, err)
		memos = append(memos, m)
	}
	return memos
}

func TestSingleInvoiceRecord(t *testing.T) {
	f := newFixture(t)
	o := New(f.c, nopLogger{})
	r, err := o.Execute(context.Background(), f.batch("100.00"))
	assert.Nil(t, err)

	events := drain(r)
	assert.Nil(t, r.Wait())
	assert.Equal(t, StateConfirmed, r.State())
	assert.Equal(t, StateEncrypting, events[0].State)
	assert.Equal(t, StateConfirmed, events[len(events)-1].State)
	for _, e := range events[:len(events)-1] {
		assert.NotEqual(t, StateConfirmed, e.State)
	}

	records := f.store.Records()
	assert.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "INV-1", rec.Essential.InvoiceNumber)
	assert.True(t, hexDigest.MatchString(rec.EssentialHash.String()))
	assert.Contains(t, string(rec.Memo), rec.EssentialHash.String())
	assert.Nil(t, audit.VerifyRecord(&rec))
	assert.Equal(t, []string{rec.ID}, r.Records())

	onLedger := createMemos(t, f.n)
	assert.Len(t, onLedger, 1)
	assert.Equal(t, rec.EssentialHash.String(), onLedger[0].Hash)

	assert.Equal(t, uint64(100_000_000), f.n.Balance(f.payee, f.usdc.Mint))
	assert.Equal(t, uint64(1_000_000), f.n.Balance(f.treasury, f.usdc.Mint))

	comprehensive, err := audit.Open(&rec, aeswrapper.New())
	assert.Nil(t, err)
	assert.Equal(t, "ACME", comprehensive.Payer.Name)
}

func TestFeeInFirstCreateMemoOnly(t *testing.T) {
	f := newFixture(t)
	o := New(f.c, nopLogger{})
	r, err := o.Execute(context.Background(), f.batch("10", "20", "30", "40"))
	assert.Nil(t, err)
	drain(r)
	assert.Nil(t, r.Wait())

	memos := createMemos(t, f.n)
	assert.Len(t, memos, 4)
	assert.Equal(t, "1", memos[0].Fee)
	for _, m := range memos[1:] {
		assert.Empty(t, m.Fee)
	}
	assert.Equal(t, uint64(1_000_000), f.n.Balance(f.treasury, f.usdc.Mint))
	assert.Equal(t, uint64(100_000_000), f.n.Balance(f.payee, f.usdc.Mint))
	assert.Equal(t, 4, f.store.Len())
}

// drainingWallet signs honestly except for the Create phase of the target invoice,
// where it smuggles a transfer out of the fee payer token account.
type drainingWallet struct {
	honest   *walletbridge.Local
	approver *wallet.Wallet
	feePayer address.Address
	mint     address.Address
	target   int
}

func (w *drainingWallet) Sign(ctx context.Context, req walletbridge.Request) (transaction.Transaction, error) {
	if req.InvoiceIndex != w.target || req.Phase != payment.PhaseCreate {
		return w.honest.Sign(ctx, req)
	}
	ixs := append(transaction.CloneInstructions(req.Transaction.Message.Instructions), transaction.NewTransfer(transaction.Transfer{
		Source:      transaction.AssociatedTokenAddress(w.feePayer, w.mint),
		Destination: address.FromSeed("attacker"),
		Authority:   w.approver.Address(),
		Mint:        w.mint,
		Amount:      1,
		Decimals:    6,
	}))
	msg, err := transaction.NewMessage(w.feePayer, req.Transaction.Message.RecentBlockhash, ixs...)
	if err != nil {
		return transaction.Transaction{}, err
	}
	tx := transaction.New(msg)
	if err := tx.Sign(w.approver); err != nil {
		return transaction.Transaction{}, err
	}
	return tx, nil
}

func TestRejectionAtInvoiceKeepsEarlierRecords(t *testing.T) {
	for _, k := range []int{1, 2, 3} {
		f := newFixture(t)
		f.c.Wallet = &drainingWallet{
			honest: walletbridge.NewLocal(&f.approver), approver: &f.approver,
			feePayer: f.feePayer.Address(), mint: f.usdc.Mint, target: k,
		}
		o := New(f.c, nopLogger{})
		r, err := o.Execute(context.Background(), f.batch("10", "20", "30", "40"))
		assert.Nil(t, err)
		drain(r)

		e := asError(t, r.Wait())
		assert.Equal(t, ValidationRejected, e.Kind)
		assert.Equal(t, k, e.InvoiceIndex)
		assert.Equal(t, payment.PhaseCreate, e.Phase)
		assert.Contains(t, e.Reason, validator.ReasonDrainAttempt)
		assert.ErrorIs(t, r.Wait(), validator.ErrRejected)
		assert.Equal(t, StateFailed, r.State())

		records := f.store.Records()
		assert.Len(t, records, k)
		for i, rec := range records {
			assert.Equal(t, i, rec.InvoiceIndex)
		}
		assert.Len(t, r.Records(), k)
	}
}

func TestTimeoutIsNotOnChainFailure(t *testing.T) {
	f := newFixture(t)
	f.n.Stall(true)
	o := New(f.c, nopLogger{})
	r, err := o.Execute(context.Background(), f.batch("100.00"))
	assert.Nil(t, err)
	drain(r)

	e := asError(t, r.Wait())
	assert.Equal(t, ConfirmationTimeout, e.Kind)
	assert.False(t, e.IsFatal())
	assert.NotEmpty(t, e.SubmissionID)
	assert.ErrorIs(t, e, confirmation.ErrTimeout)
	assert.False(t, errors.Is(e, confirmation.ErrOnChainFailure))
	assert.Equal(t, 0, f.store.Len())
}

func TestOnChainFailureHaltsBatch(t *testing.T) {
	f := newFixture(t)
	f.n.SetOnChainFault(func(tx *transaction.Transaction) error {
		for _, ix := range tx.Message.Instructions {
			if ix.Kind == transaction.KindVaultTransactionExecute {
				return errors.New("compute budget exceeded")
			}
		}
		return nil
	})
	o := New(f.c, nopLogger{})
	r, err := o.Execute(context.Background(), f.batch("10", "20"))
	assert.Nil(t, err)
	drain(r)

	e := asError(t, r.Wait())
	assert.Equal(t, OnChainFailure, e.Kind)
	assert.True(t, e.IsFatal())
	assert.Equal(t, 0, e.InvoiceIndex)
	assert.Equal(t, payment.PhaseExecute, e.Phase)
	assert.False(t, errors.Is(e, confirmation.ErrTimeout))
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, uint64(0), f.n.Balance(f.payee, f.usdc.Mint))
}

func TestCancelBeforeSubmission(t *testing.T) {
	f := newFixture(t)
	bridge := walletbridge.New(nopLogger{})
	f.c.Wallet = bridge
	o := New(f.c, nopLogger{})
	r, err := o.Execute(context.Background(), f.batch("10", "20"))
	assert.Nil(t, err)

	assert.Eventually(t, func() bool { return len(bridge.Pending("batch-1")) == 1 }, time.Second, time.Millisecond)
	r.Cancel()
	drain(r)

	e := asError(t, r.Wait())
	assert.Equal(t, Cancelled, e.Kind)
	assert.Equal(t, 0, e.InvoiceIndex)
	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, f.n.Submitted())
	assert.Empty(t, bridge.Pending("batch-1"))
}

func TestUserRejectionCancels(t *testing.T) {
	f := newFixture(t)
	bridge := walletbridge.New(nopLogger{})
	f.c.Wallet = bridge
	o := New(f.c, nopLogger{})
	r, err := o.Execute(context.Background(), f.batch("10"))
	assert.Nil(t, err)

	var reqs []walletbridge.Request
	assert.Eventually(t, func() bool {
		reqs = bridge.Pending("batch-1")
		return len(reqs) == 1
	}, time.Second, time.Millisecond)
	assert.Nil(t, bridge.Reject(reqs[0].ID))
	drain(r)

	e := asError(t, r.Wait())
	assert.Equal(t, Cancelled, e.Kind)
	assert.ErrorIs(t, e, walletbridge.ErrUserRejected)
}

// cancellingFeePayer cancels the run right after the Execute phase of the first invoice is submitted.
type cancellingFeePayer struct {
	FeePayer
	once   sync.Once
	cancel context.CancelFunc
}

func (c *cancellingFeePayer) SignAndSubmit(ctx context.Context, p validator.ValidatedPayload) (feepayer.Submission, error) {
	sub, err := c.FeePayer.SignAndSubmit(ctx, p)
	if err == nil && sub.Transaction.Message.Instructions[len(sub.Transaction.Message.Instructions)-1].Kind == transaction.KindVaultTransactionExecute {
		c.once.Do(c.cancel)
	}
	return sub, err
}

func TestCancelAfterExecuteSubmittedPersistsRecord(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.c.FeePayer = &cancellingFeePayer{FeePayer: f.c.FeePayer, cancel: cancel}
	o := New(f.c, nopLogger{})
	r, err := o.Execute(ctx, f.batch("10", "20", "30"))
	assert.Nil(t, err)
	drain(r)

	e := asError(t, r.Wait())
	assert.Equal(t, Cancelled, e.Kind)
	assert.Equal(t, 1, e.InvoiceIndex)

	records := f.store.Records()
	assert.Len(t, records, 1)
	assert.Equal(t, "INV-1", records[0].Essential.InvoiceNumber)
	assert.Nil(t, audit.VerifyRecord(&records[0]))
	assert.Equal(t, uint64(10_000_000), f.n.Balance(f.payee, f.usdc.Mint))
}

func TestBuildErrorBeforeAnySignature(t *testing.T) {
	f := newFixture(t)
	bridge := walletbridge.New(nopLogger{})
	f.c.Wallet = bridge
	o := New(f.c, nopLogger{})
	b := f.batch("10")
	b.PayeeAccount.CounterpartyID = "unknown vendor"
	r, err := o.Execute(context.Background(), b)
	assert.Nil(t, err)
	events := drain(r)

	e := asError(t, r.Wait())
	assert.Equal(t, BuildError, e.Kind)
	assert.Equal(t, -1, e.InvoiceIndex)
	assert.ErrorIs(t, e, multisig.ErrNoSettlementAddress)
	for _, ev := range events {
		assert.Empty(t, ev.SignRequestID)
	}
	assert.Empty(t, f.n.Submitted())
}

func TestBatchFeeMismatch(t *testing.T) {
	f := newFixture(t)
	o := New(f.c, nopLogger{})
	b := f.batch("10")
	b.TotalFee = decimal.RequireFromString("2")
	r, err := o.Execute(context.Background(), b)
	assert.Nil(t, err)
	drain(r)

	e := asError(t, r.Wait())
	assert.Equal(t, ValidationRejected, e.Kind)
	assert.True(t, strings.Contains(e.Reason, validator.ReasonFeeMismatch))
}

func TestTransientSubmissionIsRetried(t *testing.T) {
	f := newFixture(t)
	f.n.FailSubmits(2)
	f.n.FailStatusReads(2)
	o := New(f.c, nopLogger{})
	r, err := o.Execute(context.Background(), f.batch("10"))
	assert.Nil(t, err)
	drain(r)
	assert.Nil(t, r.Wait())
	assert.Equal(t, 1, f.store.Len())
}

func TestBatchAlreadyRunning(t *testing.T) {
	f := newFixture(t)
	bridge := walletbridge.New(nopLogger{})
	f.c.Wallet = bridge
	o := New(f.c, nopLogger{})
	r, err := o.Execute(context.Background(), f.batch("10"))
	assert.Nil(t, err)

	_, err = o.Execute(context.Background(), f.batch("10"))
	assert.ErrorIs(t, err, ErrBatchRunning)

	got, ok := o.Lookup("batch-1")
	assert.True(t, ok)
	assert.Equal(t, r, got)

	r.Cancel()
	drain(r)
	assert.NotNil(t, r.Wait())

	_, err = o.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilBatch)
}

type recorder struct {
	mux    sync.Mutex
	events []Event
}

func (rc *recorder) Notify(e Event) {
	rc.mux.Lock()
	defer rc.mux.Unlock()
	rc.events = append(rc.events, e)
}

func TestNotifiersSeeEveryEvent(t *testing.T) {
	f := newFixture(t)
	rc := &recorder{}
	f.c.Notifiers = []Notifier{rc}
	o := New(f.c, nopLogger{})
	r, err := o.Execute(context.Background(), f.batch("10", "20"))
	assert.Nil(t, err)
	events := drain(r)
	assert.Nil(t, r.Wait())

	rc.mux.Lock()
	defer rc.mux.Unlock()
	assert.Equal(t, events, rc.events)

	st := r.Status()
	assert.Equal(t, StateConfirmed, st.State)
	assert.Len(t, st.Records, 2)
	assert.Nil(t, st.Error)
}

func TestFinishedBatchIsNeverExecutedAgain(t *testing.T) {
	f := newFixture(t)
	honest := f.c.Wallet
	f.c.Wallet = &drainingWallet{
		honest: walletbridge.NewLocal(&f.approver), approver: &f.approver,
		feePayer: f.feePayer.Address(), mint: f.usdc.Mint, target: 1,
	}
	o := New(f.c, nopLogger{})
	r, err := o.Execute(context.Background(), f.batch("10", "20"))
	assert.Nil(t, err)
	drain(r)
	assert.Equal(t, ValidationRejected, asError(t, r.Wait()).Kind)

	o.c.Wallet = honest
	_, err = o.Execute(context.Background(), f.batch("10", "20"))
	assert.ErrorIs(t, err, ErrBatchExists)

	assert.Equal(t, uint64(10_000_000), f.n.Balance(f.payee, f.usdc.Mint))
	assert.Equal(t, uint64(1_000_000), f.n.Balance(f.treasury, f.usdc.Mint))
	assert.Equal(t, 1, f.store.Len())
}

func TestFinishedRunIsEvictedButIdRemembered(t *testing.T) {
	f := newFixture(t)
	f.c.Retention = 10 * time.Millisecond
	o := New(f.c, nopLogger{})
	r, err := o.Execute(context.Background(), f.batch("10"))
	assert.Nil(t, err)
	drain(r)
	assert.Nil(t, r.Wait())
	assert.Equal(t, f.approver.Address(), r.Approver())

	assert.Eventually(t, func() bool {
		_, ok := o.Lookup("batch-1")
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, err = o.Execute(context.Background(), f.batch("10"))
	assert.ErrorIs(t, err, ErrBatchExists)
	assert.Equal(t, 1, f.store.Len())
}
