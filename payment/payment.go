package payment

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/token"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyBatch          = errors.New("payment batch has no invoices")
	ErrEmptyInvoiceNumber  = errors.New("invoice number is empty")
	ErrDuplicatedInvoice   = errors.New("invoice number is duplicated in the batch")
	ErrNonPositiveAmount   = errors.New("invoice amount must be greater than zero")
	ErrNegativeFee         = errors.New("total fee cannot be negative")
	ErrMissingPayer        = errors.New("payer multisig account is not set")
	ErrMissingPayee        = errors.New("payee counterparty is not set")
	ErrMissingApprover     = errors.New("approver address is not set")
	ErrInvalidHash         = errors.New("hash must be 32 bytes hex encoded")
	ErrAttachmentsMismatch = errors.New("attachment digests do not match attachments")
)

// Hash is a sha256 digest, hex encoded in text form.
type Hash [32]byte

// String returns lower case hex representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero checks if hash is empty.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText satisfies encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	v, err := HashFromString(string(text))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// HashFromString decodes hex encoded hash.
func HashFromString(s string) (Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(Hash{}) {
		return Hash{}, errors.Join(ErrInvalidHash, fmt.Errorf("received %q", s))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

// Attachment is a file attached to the invoice. Content never leaves the process,
// only its digest is recorded.
type Attachment struct {
	Name    string `json:"name" yaml:"name"`
	Content []byte `json:"-" yaml:"-"`
}

// Invoice is a single payable document inside the batch.
type Invoice struct {
	Number            string           `json:"number" yaml:"number" bson:"number"`
	Amount            decimal.Decimal  `json:"amount" yaml:"amount" bson:"amount"`
	AttachmentDigests []Hash           `json:"attachment_digests" yaml:"attachment_digests" bson:"attachment_digests"`
	Attachments       []Attachment     `json:"-" yaml:"attachments" bson:"-"`
	Notes             string           `json:"notes,omitempty" yaml:"notes" bson:"notes,omitempty"`
	CustomFields      map[string]Value `json:"custom_fields,omitempty" yaml:"custom_fields" bson:"-"`
}

// AccountRef references a party of the payment.
// For the payer Address is the multisig account, for the payee CounterpartyID is resolved
// to the settlement address by the vendor lookup.
type AccountRef struct {
	CounterpartyID string          `json:"counterparty_id,omitempty" yaml:"counterparty_id" bson:"counterparty_id,omitempty"`
	Name           string          `json:"name,omitempty" yaml:"name" bson:"name,omitempty"`
	Address        address.Address `json:"address" yaml:"address" bson:"address"`
}

// PaymentBatch is a set of invoices paid at once from the payer multisig to a single payee.
type PaymentBatch struct {
	ID            string          `json:"id" yaml:"id"`
	Invoices      []Invoice       `json:"invoices" yaml:"invoices"`
	Currency      token.Type      `json:"currency" yaml:"currency"`
	PayerAccount  AccountRef      `json:"payer_account" yaml:"payer_account"`
	PayeeAccount  AccountRef      `json:"payee_account" yaml:"payee_account"`
	Approver      address.Address `json:"approver" yaml:"approver"`
	TotalFee      decimal.Decimal `json:"total_fee" yaml:"total_fee"`
	PaymentMethod string          `json:"payment_method,omitempty" yaml:"payment_method"`
	Notes         string          `json:"notes,omitempty" yaml:"notes"`
}

// Validate validates batch content before any network call.
func (b *PaymentBatch) Validate() error {
	if len(b.Invoices) == 0 {
		return ErrEmptyBatch
	}
	if err := b.Currency.Validate(); err != nil {
		return err
	}
	if b.PayerAccount.Address.IsZero() {
		return ErrMissingPayer
	}
	if b.PayeeAccount.CounterpartyID == "" && b.PayeeAccount.Address.IsZero() {
		return ErrMissingPayee
	}
	if b.Approver.IsZero() {
		return ErrMissingApprover
	}
	if b.TotalFee.IsNegative() {
		return ErrNegativeFee
	}
	numbers := make(map[string]struct{}, len(b.Invoices))
	for i, inv := range b.Invoices {
		if err := inv.Validate(); err != nil {
			return errors.Join(err, fmt.Errorf("invoice at index %d", i))
		}
		if _, ok := numbers[inv.Number]; ok {
			return errors.Join(ErrDuplicatedInvoice, fmt.Errorf("invoice %s", inv.Number))
		}
		numbers[inv.Number] = struct{}{}
	}
	return nil
}

// Total returns sum of all invoice amounts.
func (b *PaymentBatch) Total() decimal.Decimal {
	total := decimal.Zero
	for _, inv := range b.Invoices {
		total = total.Add(inv.Amount)
	}
	return total
}

// Validate validates the invoice.
func (inv *Invoice) Validate() error {
	if inv.Number == "" {
		return ErrEmptyInvoiceNumber
	}
	if !inv.Amount.IsPositive() {
		return errors.Join(ErrNonPositiveAmount, fmt.Errorf("invoice %s amount %s", inv.Number, inv.Amount))
	}
	if len(inv.Attachments) > 0 && len(inv.AttachmentDigests) > 0 && len(inv.Attachments) != len(inv.AttachmentDigests) {
		return errors.Join(ErrAttachmentsMismatch, fmt.Errorf("invoice %s", inv.Number))
	}
	return nil
}

// PhaseKind is one of the three ordered phases moving funds through the multisig vault.
type PhaseKind uint8

const (
	PhaseCreate PhaseKind = iota + 1
	PhaseProposeApprove
	PhaseExecute
)

// Phases lists phases in the order of execution.
var Phases = [...]PhaseKind{PhaseCreate, PhaseProposeApprove, PhaseExecute}

func (p PhaseKind) String() string {
	switch p {
	case PhaseCreate:
		return "create"
	case PhaseProposeApprove:
		return "propose_approve"
	case PhaseExecute:
		return "execute"
	default:
		return "none"
	}
}

// MarshalText satisfies encoding.TextMarshaler.
func (p PhaseKind) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler.
func (p *PhaseKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "create":
		*p = PhaseCreate
	case "propose_approve":
		*p = PhaseProposeApprove
	case "execute":
		*p = PhaseExecute
	case "none", "":
		*p = 0
	default:
		return fmt.Errorf("unknown phase %q", text)
	}
	return nil
}
