package validator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/audit"
	"github.com/bartossh/Settlementis/ledger"
	"github.com/bartossh/Settlementis/transaction"
	"github.com/bartossh/Settlementis/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type nopLogger struct{}

func (nopLogger) Debug(string) {}
func (nopLogger) Info(string)  {}
func (nopLogger) Warn(string)  {}
func (nopLogger) Error(string) {}
func (nopLogger) Fatal(string) {}

type resolverMock struct {
	owners map[address.Address]address.Address
	err    error
}

func (r resolverMock) ResolveAccount(_ context.Context, a address.Address) (ledger.AccountState, error) {
	if r.err != nil {
		return ledger.AccountState{}, r.err
	}
	owner, ok := r.owners[a]
	if !ok {
		return ledger.AccountState{}, ledger.ErrAccountNotFound
	}
	return ledger.AccountState{Address: a, Exists: true, Kind: ledger.KindTokenAccount, Owner: owner}, nil
}

var (
	mint     = address.FromSeed("usdc")
	multisig = address.FromSeed("multisig")
	vault    = transaction.VaultAddress(multisig, 0)
	treasury = address.FromSeed("treasury")
	payee    = address.FromSeed("payee")
)

type env struct {
	feePayer wallet.Wallet
	approver wallet.Wallet
	v        *Validator
}

func newEnv(t *testing.T, r AccountResolver) env {
	t.Helper()
	feePayer, err := wallet.New()
	assert.Nil(t, err)
	approver, err := wallet.New()
	assert.Nil(t, err)
	cfg := Config{Fee: decimal.RequireFromString("1"), Treasury: treasury}
	return env{feePayer: feePayer, approver: approver, v: New(cfg, feePayer.Address(), r, nopLogger{})}
}

func transfer(source, destination, authority address.Address, amount uint64) transaction.Instruction {
	return transaction.NewTransfer(transaction.Transfer{
		Source: source, Destination: destination, Authority: authority, Mint: mint, Amount: amount, Decimals: 6,
	})
}

func memo(t *testing.T, fee string) transaction.Instruction {
	raw, err := audit.EncodeMemo(audit.Memo{Hash: strings.Repeat("ab", 32), Version: audit.SchemaVersion, Invoice: "INV-1", Fee: fee})
	assert.Nil(t, err)
	return transaction.NewMemo(raw)
}

func (e env) create(t *testing.T, feePayer address.Address, inner ...transaction.Instruction) transaction.Transaction {
	t.Helper()
	msg, err := transaction.NewMessage(feePayer, [32]byte{1},
		transaction.NewVaultTransactionCreate(multisig, e.approver.Address(), feePayer, 1, 0, inner))
	assert.Nil(t, err)
	tx := transaction.New(msg)
	assert.Nil(t, tx.Sign(&e.approver))
	return tx
}

func (e env) honest(t *testing.T) transaction.Transaction {
	return e.create(t, e.feePayer.Address(),
		transfer(transaction.AssociatedTokenAddress(vault, mint), transaction.AssociatedTokenAddress(payee, mint), vault, 100_000_000),
		transfer(transaction.AssociatedTokenAddress(vault, mint), transaction.AssociatedTokenAddress(treasury, mint), vault, 1_000_000),
		memo(t, "1"),
	)
}

func hasReason(v Verdict, reason string) bool {
	for _, r := range v.Reasons {
		if strings.HasPrefix(r, reason) {
			return true
		}
	}
	return false
}

func TestHonestTransactionIsAllowedOnce(t *testing.T) {
	e := newEnv(t, nil)
	p, err := e.v.Validate(context.Background(), e.honest(t))
	assert.Nil(t, err)

	tx, err := p.Consume()
	assert.Nil(t, err)
	assert.True(t, tx.IsSignedBy(e.approver.Address()))
	_, err = p.Consume()
	assert.ErrorIs(t, err, ErrAlreadyConsumed)

	_, err = ValidatedPayload{}.Consume()
	assert.ErrorIs(t, err, ErrNotValidated)
}

func TestFeePayerMismatchIsAlwaysRejected(t *testing.T) {
	e := newEnv(t, nil)
	for i := 0; i < 8; i++ {
		other, err := wallet.New()
		assert.Nil(t, err)
		tx := e.create(t, other.Address(),
			transfer(transaction.AssociatedTokenAddress(vault, mint), transaction.AssociatedTokenAddress(payee, mint), vault, 1),
			memo(t, ""),
		)
		_, err = e.v.Validate(context.Background(), tx)
		assert.ErrorIs(t, err, ErrRejected)
		assert.True(t, hasReason(e.v.Check(context.Background(), &tx), ReasonFeePayerMismatch))
	}
}

func TestTransferFromCustodialAccountIsAlwaysRejected(t *testing.T) {
	e := newEnv(t, nil)
	fpTokenAccount := transaction.AssociatedTokenAddress(e.feePayer.Address(), mint)
	destinations := []address.Address{
		transaction.AssociatedTokenAddress(payee, mint),
		transaction.AssociatedTokenAddress(vault, mint),
		transaction.AssociatedTokenAddress(treasury, mint),
		address.FromSeed("anything"),
	}
	for _, src := range []address.Address{fpTokenAccount, e.feePayer.Address()} {
		for _, dst := range destinations {
			tx := e.create(t, e.feePayer.Address(), transfer(src, dst, vault, 5), memo(t, ""))
			v := e.v.Check(context.Background(), &tx)
			assert.False(t, v.Allowed)
			assert.True(t, hasReason(v, ReasonDrainAttempt))
		}
	}

	tx := e.create(t, e.feePayer.Address(),
		transfer(transaction.AssociatedTokenAddress(vault, mint), transaction.AssociatedTokenAddress(payee, mint), e.feePayer.Address(), 5))
	assert.True(t, hasReason(e.v.Check(context.Background(), &tx), ReasonAuthorityIsFeePayer))
}

func TestResolvedSourceOwnedByCustodialKeyIsRejected(t *testing.T) {
	hidden := address.FromSeed("hidden token account")
	e := newEnv(t, nil)
	e.v = New(e.v.cfg, e.feePayer.Address(), resolverMock{owners: map[address.Address]address.Address{hidden: e.feePayer.Address()}}, nopLogger{})

	tx := e.create(t, e.feePayer.Address(), transfer(hidden, transaction.AssociatedTokenAddress(payee, mint), vault, 5))
	assert.True(t, hasReason(e.v.Check(context.Background(), &tx), ReasonDrainAttempt))

	e.v = New(e.v.cfg, e.feePayer.Address(), resolverMock{err: errors.New("rpc down")}, nopLogger{})
	assert.True(t, hasReason(e.v.Check(context.Background(), &tx), ReasonUnresolvableSource))

	e.v = New(e.v.cfg, e.feePayer.Address(), resolverMock{}, nopLogger{})
	assert.True(t, e.v.Check(context.Background(), &tx).Allowed)
}

func TestFeeChecks(t *testing.T) {
	e := newEnv(t, nil)
	src := transaction.AssociatedTokenAddress(vault, mint)
	toPayee := transfer(src, transaction.AssociatedTokenAddress(payee, mint), vault, 100)
	toTreasury := func(amount uint64) transaction.Instruction {
		return transfer(src, transaction.AssociatedTokenAddress(treasury, mint), vault, amount)
	}

	cases := []struct {
		name   string
		inner  []transaction.Instruction
		reason string
	}{
		{"declared fee differs", []transaction.Instruction{toPayee, toTreasury(2_000_000), memo(t, "2")}, ReasonFeeMismatch},
		{"fee transfer amount differs", []transaction.Instruction{toPayee, toTreasury(999_999), memo(t, "1")}, ReasonFeeTransfer},
		{"fee declared without transfer", []transaction.Instruction{toPayee, memo(t, "1")}, ReasonFeeTransfer},
		{"undeclared treasury transfer", []transaction.Instruction{toPayee, toTreasury(1_000_000), memo(t, "")}, ReasonUndeclaredFee},
		{"fee declared twice", []transaction.Instruction{toPayee, toTreasury(1_000_000), memo(t, "1"), memo(t, "1")}, ReasonFeeDuplicated},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tx := e.create(t, e.feePayer.Address(), c.inner...)
			v := e.v.Check(context.Background(), &tx)
			assert.False(t, v.Allowed)
			assert.True(t, hasReason(v, c.reason), v.Reasons)
		})
	}

	tx := e.create(t, e.feePayer.Address(), toPayee, memo(t, ""))
	assert.True(t, e.v.Check(context.Background(), &tx).Allowed)
}

func TestCheckBatchFee(t *testing.T) {
	e := newEnv(t, nil)
	assert.Nil(t, e.v.CheckBatchFee(decimal.RequireFromString("1.00")))
	assert.ErrorIs(t, e.v.CheckBatchFee(decimal.RequireFromString("0.5")), ErrRejected)
}

func TestSignaturesAreChecked(t *testing.T) {
	e := newEnv(t, nil)
	tx := e.honest(t)
	tx.Signatures[1].Value = nil
	assert.True(t, hasReason(e.v.Check(context.Background(), &tx), ReasonMissingSignature))

	tx = e.honest(t)
	assert.Nil(t, tx.Sign(&e.feePayer))
	assert.True(t, hasReason(e.v.Check(context.Background(), &tx), ReasonFeePayerPreSigned))
}

func TestTopLevelTransferIsNotAllowed(t *testing.T) {
	e := newEnv(t, nil)
	msg, err := transaction.NewMessage(e.feePayer.Address(), [32]byte{1},
		transfer(transaction.AssociatedTokenAddress(payee, mint), transaction.AssociatedTokenAddress(vault, mint), payee, 1))
	assert.Nil(t, err)
	tx := transaction.New(msg)
	assert.True(t, hasReason(e.v.Check(context.Background(), &tx), ReasonUnknownInstruction))
}

func TestMalformedMessageIsRejected(t *testing.T) {
	e := newEnv(t, nil)
	tx := transaction.Transaction{
		Message: transaction.Message{
			NumRequiredSignatures: 3,
			AccountKeys:           []address.Address{e.feePayer.Address()},
			RecentBlockhash:       [32]byte{1},
		},
		Signatures: []transaction.Signature{{Signer: e.feePayer.Address()}},
	}
	v := e.v.Check(context.Background(), &tx)
	assert.False(t, v.Allowed)
	assert.True(t, hasReason(v, ReasonMalformedMessage), v.Reasons)

	tx = e.honest(t)
	tx.Signatures = tx.Signatures[:1]
	assert.True(t, hasReason(e.v.Check(context.Background(), &tx), ReasonMalformedMessage))
}

func TestInstructionProgramMustMatchKind(t *testing.T) {
	e := newEnv(t, nil)
	forged := memo(t, "")
	forged.Program = address.FromSeed("look-alike memo program")
	tx := e.create(t, e.feePayer.Address(),
		transfer(transaction.AssociatedTokenAddress(vault, mint), transaction.AssociatedTokenAddress(payee, mint), vault, 1),
		forged,
	)
	v := e.v.Check(context.Background(), &tx)
	assert.False(t, v.Allowed)
	assert.True(t, hasReason(v, ReasonProgramMismatch), v.Reasons)

	nested := transaction.NewProposalApprove(multisig, e.approver.Address(), 1)
	tx = e.create(t, e.feePayer.Address(), nested)
	assert.True(t, hasReason(e.v.Check(context.Background(), &tx), ReasonUnknownInstruction))
}
