package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Settlementis/payment"
	"github.com/shopspring/decimal"
)

// Draft is precomputed audit data of a single invoice. It becomes a Record only
// after the Execute phase of the invoice is confirmed.
type Draft struct {
	BatchID       string
	InvoiceIndex  int
	Essential     Essential
	EssentialHash payment.Hash
	comprehensive []byte
	key           []byte
}

// Memo returns the on-ledger fingerprint. The fee is declared only when positive.
func (d *Draft) Memo(fee decimal.Decimal) ([]byte, error) {
	m := Memo{Hash: d.EssentialHash.String(), Version: SchemaVersion, Invoice: d.Essential.InvoiceNumber}
	if fee.IsPositive() {
		m.Fee = fee.String()
	}
	return EncodeMemo(m)
}

// Seal creates the audit record from the draft for the confirmed Execute signature.
func (d *Draft) Seal(memo []byte, signature, submissionID string, at time.Time) (Record, error) {
	if signature == "" || submissionID == "" {
		return Record{}, ErrNotConfirmed
	}
	return Record{
		ID:                RecordID(d.BatchID, d.Essential.InvoiceNumber),
		BatchID:           d.BatchID,
		InvoiceIndex:      d.InvoiceIndex,
		Signature:         signature,
		SubmissionID:      submissionID,
		Essential:         d.Essential,
		EssentialHash:     d.EssentialHash,
		Memo:              append([]byte(nil), memo...),
		SchemaVersion:     SchemaVersion,
		ComprehensiveData: append([]byte(nil), d.comprehensive...),
		ComprehensiveKey:  append([]byte(nil), d.key...),
		CreatedAt:         at.UTC(),
	}, nil
}

// Encoder produces audit drafts for batch invoices.
type Encoder struct {
	s Sealer
}

// NewEncoder creates new Encoder.
func NewEncoder(s Sealer) Encoder {
	return Encoder{s: s}
}

// Prepare hashes attachments, computes essential data hash and encrypts comprehensive data
// of the invoice at index with a fresh key. It makes no network calls.
func (e Encoder) Prepare(batch *payment.PaymentBatch, index int) (Draft, error) {
	if index < 0 || index >= len(batch.Invoices) {
		return Draft{}, errors.Join(ErrInvalidInvoiceIndex, fmt.Errorf("index %d", index))
	}
	inv := batch.Invoices[index]

	digests := inv.AttachmentDigests
	if len(inv.Attachments) > 0 {
		digests = DigestAttachments(inv.Attachments)
	}
	if digests == nil {
		digests = []payment.Hash{}
	}

	essential := Essential{InvoiceNumber: inv.Number, Amount: inv.Amount, AttachmentDigests: digests}
	hash, err := essential.Hash()
	if err != nil {
		return Draft{}, err
	}

	names := make([]string, 0, len(inv.Attachments))
	for _, a := range inv.Attachments {
		names = append(names, a.Name)
	}
	comprehensive := Comprehensive{
		BatchID:           batch.ID,
		InvoiceNumber:     inv.Number,
		Amount:            inv.Amount,
		Currency:          batch.Currency.Symbol,
		Payer:             batch.PayerAccount,
		Payee:             batch.PayeeAccount,
		Approver:          batch.Approver.String(),
		PaymentMethod:     batch.PaymentMethod,
		BatchNotes:        batch.Notes,
		InvoiceNotes:      inv.Notes,
		CustomFields:      inv.CustomFields,
		AttachmentNames:   names,
		AttachmentDigests: digests,
	}
	raw, err := json.Marshal(comprehensive)
	if err != nil {
		return Draft{}, err
	}
	key, err := e.s.NewKey()
	if err != nil {
		return Draft{}, errors.Join(ErrEncryptionFailed, err)
	}
	sealed, err := e.s.Encrypt(key, raw)
	if err != nil {
		return Draft{}, errors.Join(ErrEncryptionFailed, err)
	}

	return Draft{
		BatchID:       batch.ID,
		InvoiceIndex:  index,
		Essential:     essential,
		EssentialHash: hash,
		comprehensive: sealed,
		key:           key,
	}, nil
}

// Open decrypts comprehensive data of the record with its key.
func Open(r *Record, s Sealer) (Comprehensive, error) {
	raw, err := s.Decrypt(r.ComprehensiveKey, r.ComprehensiveData)
	if err != nil {
		return Comprehensive{}, errors.Join(ErrDecryptionFailed, err)
	}
	var c Comprehensive
	if err := json.Unmarshal(raw, &c); err != nil {
		return Comprehensive{}, errors.Join(ErrDecryptionFailed, err)
	}
	return c, nil
}
