package multisig

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/ledger"
	"github.com/bartossh/Settlementis/logger"
	"github.com/bartossh/Settlementis/payment"
	"github.com/bartossh/Settlementis/token"
	"github.com/bartossh/Settlementis/transaction"
	"github.com/shopspring/decimal"
)

var (
	ErrBuild               = errors.New("phase build failed")
	ErrMultisigNotResolved = errors.New("payer multisig account cannot be resolved")
	ErrApproverNotMember   = errors.New("approver is not a member of the payer multisig")
	ErrNoSettlementAddress = errors.New("payee has no valid settlement address")
	ErrMintMismatch        = errors.New("currency does not match the ledger mint")
	ErrInvalidAmount       = errors.New("amount cannot be settled in the currency minor units")
	ErrPhaseOutOfOrder     = errors.New("previous phase has not landed on the ledger")
	ErrInsufficientBalance = errors.New("vault balance does not cover the transfer")
	ErrInvalidInvoiceIndex = errors.New("invoice index is out of batch range")
	ErrLedgerUnavailable   = errors.New("ledger state cannot be read")
)

// Ledger reads ledger state needed to build phases.
type Ledger interface {
	ResolveAccount(ctx context.Context, addr address.Address) (ledger.AccountState, error)
	GetSequenceCounter(ctx context.Context, multisig address.Address) (uint64, error)
	GetRecentBlockhash(ctx context.Context) ([32]byte, error)
}

// VendorLookup resolves counterparty to its settlement address.
type VendorLookup interface {
	Lookup(ctx context.Context, counterpartyID string) (address.Address, error)
}

// Config contains configuration of the phase builder.
type Config struct {
	Treasury   address.Address `yaml:"treasury"`    // owner of the token account collecting the batch fee
	VaultIndex uint8           `yaml:"vault_index"` // vault of the multisig the payments are made from
}

// Plan is a batch resolved against the ledger. It holds everything that does not change between phases.
type Plan struct {
	BatchID              string
	Multisig             address.Address
	Vault                address.Address
	VaultIndex           uint8
	VaultTokenAccount    address.Address
	Approver             address.Address
	Payee                address.Address
	PayeeTokenAccount    address.Address
	TreasuryTokenAccount address.Address
	Currency             token.Type
	Amounts              []uint64
	Fee                  decimal.Decimal
	FeeUnits             uint64
}

// Phase is a single unsigned phase transaction of an invoice.
type Phase struct {
	Kind             payment.PhaseKind
	InvoiceIndex     int
	TransactionIndex uint64
	Transaction      transaction.Transaction
	VaultMessage     []transaction.Instruction
	Memo             []byte
	Fee              decimal.Decimal
}

// Signers returns addresses that must sign the phase.
func (p *Phase) Signers() []address.Address {
	return p.Transaction.Message.RequiredSigners()
}

// Builder builds the phase transactions against the payer multisig vault.
type Builder struct {
	cfg      Config
	feePayer address.Address
	l        Ledger
	v        VendorLookup
	log      logger.Logger
}

// New creates new Builder. Fee payer is the custodial key address that pays for every phase.
func New(cfg Config, feePayer address.Address, l Ledger, v VendorLookup, log logger.Logger) *Builder {
	return &Builder{cfg: cfg, feePayer: feePayer, l: l, v: v, log: log}
}

func buildErr(reason error, format string, args ...any) error {
	return errors.Join(ErrBuild, reason, fmt.Errorf(format, args...))
}

// Resolve resolves the batch accounts. Nothing is signed when resolve fails.
func (b *Builder) Resolve(ctx context.Context, batch *payment.PaymentBatch) (*Plan, error) {
	if err := batch.Validate(); err != nil {
		return nil, errors.Join(ErrBuild, err)
	}

	ms, err := b.l.ResolveAccount(ctx, batch.PayerAccount.Address)
	if err != nil || !ms.Exists || ms.Kind != ledger.KindMultisig {
		return nil, buildErr(ErrMultisigNotResolved, "multisig %s: %v", batch.PayerAccount.Address, err)
	}
	if !ms.IsMember(batch.Approver) {
		return nil, buildErr(ErrApproverNotMember, "approver %s", batch.Approver)
	}

	mint, err := b.l.ResolveAccount(ctx, batch.Currency.Mint)
	if err != nil || mint.Kind != ledger.KindMint {
		return nil, buildErr(ErrMintMismatch, "mint %s: %v", batch.Currency.Mint, err)
	}
	if mint.Decimals != batch.Currency.Decimals {
		return nil, buildErr(ErrMintMismatch, "%s has %d decimals, ledger mint %d", batch.Currency.Symbol, batch.Currency.Decimals, mint.Decimals)
	}

	payee := batch.PayeeAccount.Address
	if batch.PayeeAccount.CounterpartyID != "" {
		payee, err = b.v.Lookup(ctx, batch.PayeeAccount.CounterpartyID)
		if err != nil {
			return nil, buildErr(ErrNoSettlementAddress, "counterparty %s: %v", batch.PayeeAccount.CounterpartyID, err)
		}
	}
	vault := transaction.VaultAddress(batch.PayerAccount.Address, b.cfg.VaultIndex)
	if payee.IsZero() || payee == vault || payee == batch.PayerAccount.Address {
		return nil, buildErr(ErrNoSettlementAddress, "payee %s", payee)
	}

	amounts := make([]uint64, 0, len(batch.Invoices))
	for _, inv := range batch.Invoices {
		units, err := batch.Currency.ToMinorUnits(inv.Amount)
		if err != nil {
			return nil, buildErr(ErrInvalidAmount, "invoice %s: %v", inv.Number, err)
		}
		amounts = append(amounts, units)
	}
	feeUnits, err := batch.Currency.ToMinorUnits(batch.TotalFee)
	if err != nil {
		return nil, buildErr(ErrInvalidAmount, "fee: %v", err)
	}
	if feeUnits > 0 && b.cfg.Treasury.IsZero() {
		return nil, buildErr(ErrInvalidAmount, "fee %s has no treasury configured", batch.TotalFee)
	}

	p := &Plan{
		BatchID:              batch.ID,
		Multisig:             batch.PayerAccount.Address,
		Vault:                vault,
		VaultIndex:           b.cfg.VaultIndex,
		VaultTokenAccount:    transaction.AssociatedTokenAddress(vault, batch.Currency.Mint),
		Approver:             batch.Approver,
		Payee:                payee,
		PayeeTokenAccount:    transaction.AssociatedTokenAddress(payee, batch.Currency.Mint),
		TreasuryTokenAccount: transaction.AssociatedTokenAddress(b.cfg.Treasury, batch.Currency.Mint),
		Currency:             batch.Currency,
		Amounts:              amounts,
		Fee:                  batch.TotalFee,
		FeeUnits:             feeUnits,
	}
	b.log.Debug(fmt.Sprintf("batch %s resolved, multisig %s, payee %s, invoices %d", p.BatchID, p.Multisig, p.Payee, len(amounts)))
	return p, nil
}

// Create builds the phase registering vault message of the invoice under the next free transaction index.
// The vault message transfers the invoice amount, the fee when withFee is set, and carries the memo.
func (b *Builder) Create(ctx context.Context, p *Plan, invoice int, memo []byte, withFee bool) (Phase, error) {
	if invoice < 0 || invoice >= len(p.Amounts) {
		return Phase{}, buildErr(ErrInvalidInvoiceIndex, "index %d", invoice)
	}
	counter, err := b.l.GetSequenceCounter(ctx, p.Multisig)
	if err != nil {
		return Phase{}, buildErr(ErrLedgerUnavailable, "sequence counter: %v", err)
	}
	index := counter + 1

	inner := []transaction.Instruction{b.transfer(p, p.PayeeTokenAccount, p.Amounts[invoice])}
	fee := decimal.Zero
	if withFee && p.FeeUnits > 0 {
		inner = append(inner, b.transfer(p, p.TreasuryTokenAccount, p.FeeUnits))
		fee = p.Fee
	}
	inner = append(inner, transaction.NewMemo(memo))

	tx, err := b.compose(ctx, transaction.NewVaultTransactionCreate(p.Multisig, p.Approver, b.feePayer, index, p.VaultIndex, inner))
	if err != nil {
		return Phase{}, err
	}
	return Phase{
		Kind:             payment.PhaseCreate,
		InvoiceIndex:     invoice,
		TransactionIndex: index,
		Transaction:      tx,
		VaultMessage:     inner,
		Memo:             append([]byte(nil), memo...),
		Fee:              fee,
	}, nil
}

// ProposeApprove builds the phase opening the proposal of the created vault transaction
// and approving it by the approver in a single transaction.
func (b *Builder) ProposeApprove(ctx context.Context, p *Plan, created *Phase) (Phase, error) {
	if err := b.landed(ctx, p, created); err != nil {
		return Phase{}, err
	}
	tx, err := b.compose(ctx,
		transaction.NewProposalCreate(p.Multisig, p.Approver, b.feePayer, created.TransactionIndex),
		transaction.NewProposalApprove(p.Multisig, p.Approver, created.TransactionIndex),
	)
	if err != nil {
		return Phase{}, err
	}
	return Phase{
		Kind:             payment.PhaseProposeApprove,
		InvoiceIndex:     created.InvoiceIndex,
		TransactionIndex: created.TransactionIndex,
		Transaction:      tx,
	}, nil
}

// Execute builds the phase executing the approved vault message. Token accounts receiving funds
// are checked against current ledger state and created when missing, vault balance must cover
// all transfers of the vault message.
func (b *Builder) Execute(ctx context.Context, p *Plan, created *Phase) (Phase, error) {
	if err := b.landed(ctx, p, created); err != nil {
		return Phase{}, err
	}

	vault, err := b.l.ResolveAccount(ctx, p.VaultTokenAccount)
	if err != nil {
		return Phase{}, buildErr(ErrInsufficientBalance, "vault token account %s: %v", p.VaultTokenAccount, err)
	}
	var needed uint64
	var ixs []transaction.Instruction
	seen := make(map[address.Address]struct{})
	for _, ix := range created.VaultMessage {
		if ix.Kind != transaction.KindTransfer || ix.Transfer == nil {
			continue
		}
		sum, carry := bits.Add64(needed, ix.Transfer.Amount, 0)
		if carry != 0 {
			return Phase{}, buildErr(ErrInvalidAmount, "vault message transfers overflow, adding %d to %d", ix.Transfer.Amount, needed)
		}
		needed = sum
		dst := ix.Transfer.Destination
		if _, ok := seen[dst]; ok {
			continue
		}
		seen[dst] = struct{}{}
		owner, err := b.destinationOwner(ctx, p, dst)
		if err != nil {
			return Phase{}, err
		}
		if !owner.IsZero() {
			ixs = append(ixs, transaction.NewCreateTokenAccount(b.feePayer, owner, p.Currency.Mint))
		}
	}
	if vault.Balance < needed {
		return Phase{}, buildErr(ErrInsufficientBalance, "vault balance %s, needed %s",
			p.Currency.FromMinorUnits(vault.Balance), p.Currency.FromMinorUnits(needed))
	}

	ixs = append(ixs, transaction.NewVaultTransactionExecute(p.Multisig, p.Approver, created.TransactionIndex, p.VaultIndex, created.VaultMessage))
	tx, err := b.compose(ctx, ixs...)
	if err != nil {
		return Phase{}, err
	}
	return Phase{
		Kind:             payment.PhaseExecute,
		InvoiceIndex:     created.InvoiceIndex,
		TransactionIndex: created.TransactionIndex,
		Transaction:      tx,
		VaultMessage:     created.VaultMessage,
	}, nil
}

// destinationOwner returns owner of the destination token account if the account has to be created,
// or zero address when it already exists.
func (b *Builder) destinationOwner(ctx context.Context, p *Plan, dst address.Address) (address.Address, error) {
	acc, err := b.l.ResolveAccount(ctx, dst)
	switch {
	case err == nil && acc.Exists:
		if acc.Mint != p.Currency.Mint {
			return address.Zero, buildErr(ErrMintMismatch, "token account %s", dst)
		}
		return address.Zero, nil
	case err == nil || errors.Is(err, ledger.ErrAccountNotFound):
	default:
		return address.Zero, buildErr(ErrLedgerUnavailable, "token account %s: %v", dst, err)
	}
	switch dst {
	case p.PayeeTokenAccount:
		return p.Payee, nil
	case p.TreasuryTokenAccount:
		return b.cfg.Treasury, nil
	default:
		return address.Zero, buildErr(ErrNoSettlementAddress, "unknown destination %s", dst)
	}
}

func (b *Builder) landed(ctx context.Context, p *Plan, created *Phase) error {
	if created == nil || created.Kind != payment.PhaseCreate {
		return buildErr(ErrPhaseOutOfOrder, "create phase is missing")
	}
	counter, err := b.l.GetSequenceCounter(ctx, p.Multisig)
	if err != nil {
		return buildErr(ErrLedgerUnavailable, "sequence counter: %v", err)
	}
	if counter < created.TransactionIndex {
		return buildErr(ErrPhaseOutOfOrder, "transaction index %d, ledger counter %d", created.TransactionIndex, counter)
	}
	return nil
}

func (b *Builder) transfer(p *Plan, destination address.Address, amount uint64) transaction.Instruction {
	return transaction.NewTransfer(transaction.Transfer{
		Source:      p.VaultTokenAccount,
		Destination: destination,
		Authority:   p.Vault,
		Mint:        p.Currency.Mint,
		Amount:      amount,
		Decimals:    p.Currency.Decimals,
	})
}

func (b *Builder) compose(ctx context.Context, ixs ...transaction.Instruction) (transaction.Transaction, error) {
	bh, err := b.l.GetRecentBlockhash(ctx)
	if err != nil {
		return transaction.Transaction{}, buildErr(ErrLedgerUnavailable, "recent blockhash: %v", err)
	}
	msg, err := transaction.NewMessage(b.feePayer, bh, ixs...)
	if err != nil {
		return transaction.Transaction{}, errors.Join(ErrBuild, err)
	}
	return transaction.New(msg), nil
}
