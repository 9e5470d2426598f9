package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/audit"
	"github.com/bartossh/Settlementis/ledger"
	"github.com/bartossh/Settlementis/logger"
	"github.com/bartossh/Settlementis/token"
	"github.com/bartossh/Settlementis/transaction"
	"github.com/shopspring/decimal"
)

var (
	ErrRejected        = errors.New("transaction rejected by security validation")
	ErrNotValidated    = errors.New("payload was not produced by the security validator")
	ErrAlreadyConsumed = errors.New("validated payload was already consumed")
)

// Rejection reasons.
const (
	ReasonNoFeePayer          = "transaction has no fee payer"
	ReasonFeePayerMismatch    = "fee payer is not the custodial key"
	ReasonDrainAttempt        = "transfer source is controlled by the custodial key"
	ReasonAuthorityIsFeePayer = "transfer authority is the custodial key"
	ReasonFeeMismatch         = "declared fee does not match the configured fee"
	ReasonFeeDuplicated       = "fee is declared more than once"
	ReasonFeeTransfer         = "fee transfer does not match the declared fee"
	ReasonUndeclaredFee       = "transfer to the treasury without fee declaration"
	ReasonUnknownInstruction  = "instruction is not allowed"
	ReasonProgramMismatch     = "instruction program does not match its kind"
	ReasonMalformedMessage    = "transaction message is malformed"
	ReasonMissingSignature    = "required signature is missing or invalid"
	ReasonFeePayerPreSigned   = "fee payer signature is already present"
	ReasonUnresolvableSource  = "transfer source account cannot be resolved"
)

// AccountResolver resolves ledger accounts.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, addr address.Address) (ledger.AccountState, error)
}

// Config contains configuration of the security validator.
type Config struct {
	Fee      decimal.Decimal `yaml:"fee"`      // flat fee of the batch
	Treasury address.Address `yaml:"treasury"` // owner of the token account collecting the fee
}

// Verdict is the outcome of the security validation of a single transaction.
type Verdict struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`
}

// Err returns nil if verdict allows the transaction or ErrRejected with reasons otherwise.
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	return errors.Join(ErrRejected, fmt.Errorf("%s", strings.Join(v.Reasons, "; ")))
}

// ValidatedPayload is a transaction that passed the security validation.
// It can be created only by the Validator and consumed only once.
type ValidatedPayload struct {
	tx       transaction.Transaction
	consumed *atomic.Bool
}

// Transaction returns copy of the validated transaction.
func (p ValidatedPayload) Transaction() transaction.Transaction {
	return p.tx.Clone()
}

// Consume returns the validated transaction, only the first call succeeds.
func (p ValidatedPayload) Consume() (transaction.Transaction, error) {
	if p.consumed == nil {
		return transaction.Transaction{}, ErrNotValidated
	}
	if !p.consumed.CompareAndSwap(false, true) {
		return transaction.Transaction{}, ErrAlreadyConsumed
	}
	return p.tx.Clone(), nil
}

// Validator inspects transactions signed by the client before the custodial key co-signs them.
type Validator struct {
	cfg      Config
	feePayer address.Address
	r        AccountResolver
	log      logger.Logger
}

// New creates new Validator. Resolver is optional, when set transfer sources are also resolved
// on the ledger to detect accounts owned by the custodial key.
func New(cfg Config, feePayer address.Address, r AccountResolver, log logger.Logger) *Validator {
	return &Validator{cfg: cfg, feePayer: feePayer, r: r, log: log}
}

// CheckBatchFee checks that the batch fee is the configured flat fee.
func (v *Validator) CheckBatchFee(fee decimal.Decimal) error {
	if !fee.Equal(v.cfg.Fee) {
		return errors.Join(ErrRejected, fmt.Errorf("%s: batch fee %s, configured %s", ReasonFeeMismatch, fee, v.cfg.Fee))
	}
	return nil
}

// Validate validates the transaction and returns payload the fee payer signer accepts.
// Verdict is computed fresh on every call.
func (v *Validator) Validate(ctx context.Context, tx transaction.Transaction) (ValidatedPayload, error) {
	verdict := v.Check(ctx, &tx)
	if err := verdict.Err(); err != nil {
		v.log.Error(fmt.Sprintf("security validator rejected transaction, %s", strings.Join(verdict.Reasons, "; ")))
		return ValidatedPayload{}, err
	}
	return ValidatedPayload{tx: tx.Clone(), consumed: new(atomic.Bool)}, nil
}

// Check runs all security checks and collects every failed check reason.
func (v *Validator) Check(ctx context.Context, tx *transaction.Transaction) Verdict {
	var rs reasons
	feePayer, err := tx.Message.FeePayer()
	if err != nil {
		return Verdict{Allowed: false, Reasons: []string{ReasonNoFeePayer}}
	}
	if feePayer != v.feePayer {
		rs.add(ReasonFeePayerMismatch, "received %s", feePayer)
	}

	m := &tx.Message
	if int(m.NumRequiredSignatures) > len(m.AccountKeys) {
		rs.add(ReasonMalformedMessage, "%d required signatures, %d account keys", m.NumRequiredSignatures, len(m.AccountKeys))
	}
	if len(tx.Signatures) != int(m.NumRequiredSignatures) {
		rs.add(ReasonMalformedMessage, "%d signature slots, %d required", len(tx.Signatures), m.NumRequiredSignatures)
	}
	if len(m.Instructions) == 0 {
		rs.add(ReasonMalformedMessage, "no instructions")
	}

	for _, ix := range m.Instructions {
		switch ix.Kind {
		case transaction.KindVaultTransactionCreate, transaction.KindVaultTransactionExecute:
			for _, inner := range ix.Inner {
				checkInner(inner, &rs)
			}
		case transaction.KindProposalCreate, transaction.KindProposalApprove,
			transaction.KindCreateTokenAccount, transaction.KindMemo:
		default:
			rs.add(ReasonUnknownInstruction, "kind %s", ix.Kind)
			continue
		}
		checkProgram(ix, &rs)
	}

	for _, tr := range tx.Transfers() {
		v.checkTransfer(ctx, tr, &rs)
	}
	v.checkFee(tx, &rs)

	for i, s := range tx.Message.RequiredSigners() {
		if i == 0 {
			if len(tx.Signatures) > 0 && len(tx.Signatures[0].Value) > 0 {
				rs.add(ReasonFeePayerPreSigned, "signer %s", s)
			}
			continue
		}
		if err := tx.VerifySignature(s); err != nil {
			rs.add(ReasonMissingSignature, "signer %s", s)
		}
	}

	return Verdict{Allowed: len(rs) == 0, Reasons: rs}
}

// checkInner allows only token movements, memos and token account creation inside the vault message.
func checkInner(ix transaction.Instruction, rs *reasons) {
	switch ix.Kind {
	case transaction.KindTransfer, transaction.KindMemo, transaction.KindCreateTokenAccount:
		checkProgram(ix, rs)
	default:
		rs.add(ReasonUnknownInstruction, "vault instruction kind %s", ix.Kind)
	}
}

func checkProgram(ix transaction.Instruction, rs *reasons) {
	if program, ok := transaction.ProgramOf(ix.Kind); !ok || program != ix.Program {
		rs.add(ReasonProgramMismatch, "kind %s, program %s", ix.Kind, ix.Program)
	}
}

type reasons []string

func (rs *reasons) add(reason, format string, args ...any) {
	*rs = append(*rs, fmt.Sprintf("%s: %s", reason, fmt.Sprintf(format, args...)))
}

func (v *Validator) checkTransfer(ctx context.Context, tr transaction.Transfer, rs *reasons) {
	if tr.Source == v.feePayer || tr.Source == transaction.AssociatedTokenAddress(v.feePayer, tr.Mint) {
		rs.add(ReasonDrainAttempt, "source %s", tr.Source)
		return
	}
	if tr.Authority == v.feePayer {
		rs.add(ReasonAuthorityIsFeePayer, "source %s", tr.Source)
		return
	}
	if v.r == nil {
		return
	}
	acc, err := v.r.ResolveAccount(ctx, tr.Source)
	switch {
	case err == nil:
		if acc.Owner == v.feePayer {
			rs.add(ReasonDrainAttempt, "source %s owned by the custodial key", tr.Source)
		}
	case errors.Is(err, ledger.ErrAccountNotFound):
	default:
		rs.add(ReasonUnresolvableSource, "source %s, %s", tr.Source, err)
	}
}

func (v *Validator) checkFee(tx *transaction.Transaction, rs *reasons) {
	var declared []decimal.Decimal
	for _, raw := range tx.Memos() {
		m, err := audit.DecodeMemo(raw)
		if err != nil || m.Fee == "" {
			continue
		}
		fee, err := decimal.NewFromString(m.Fee)
		if err != nil {
			rs.add(ReasonFeeMismatch, "fee %q is not a number", m.Fee)
			continue
		}
		declared = append(declared, fee)
	}
	if len(declared) > 1 {
		rs.add(ReasonFeeDuplicated, "%d declarations", len(declared))
	}

	var feeTransfers []transaction.Transfer
	for _, tr := range tx.Transfers() {
		if !v.cfg.Treasury.IsZero() && tr.Destination == transaction.AssociatedTokenAddress(v.cfg.Treasury, tr.Mint) {
			feeTransfers = append(feeTransfers, tr)
		}
	}

	if len(declared) == 0 {
		if len(feeTransfers) > 0 {
			rs.add(ReasonUndeclaredFee, "%d transfers", len(feeTransfers))
		}
		return
	}
	fee := declared[0]
	if !fee.Equal(v.cfg.Fee) {
		rs.add(ReasonFeeMismatch, "declared %s, configured %s", fee, v.cfg.Fee)
		return
	}
	if len(feeTransfers) != 1 {
		rs.add(ReasonFeeTransfer, "%d fee transfers", len(feeTransfers))
		return
	}
	tr := feeTransfers[0]
	units, err := token.Type{Symbol: "fee", Mint: tr.Mint, Decimals: tr.Decimals}.ToMinorUnits(fee)
	if err != nil || units != tr.Amount {
		rs.add(ReasonFeeTransfer, "transfer amount %d, declared %s", tr.Amount, fee)
	}
}
