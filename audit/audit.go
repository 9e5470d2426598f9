package audit

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Settlementis/payment"
	"github.com/shopspring/decimal"
)

// SchemaVersion is the version of the on-ledger fingerprint and the essential data layout.
const SchemaVersion = 1

var (
	ErrInvalidInvoiceIndex = errors.New("invoice index is out of batch range")
	ErrEncryptionFailed    = errors.New("comprehensive data encryption failed")
	ErrDecryptionFailed    = errors.New("comprehensive data decryption failed")
	ErrInvalidMemo         = errors.New("memo is not a valid audit fingerprint")
	ErrFingerprintMismatch = errors.New("essential data does not match the on-ledger fingerprint")
	ErrRecordExists        = errors.New("audit record already exists")
	ErrRecordNotFound      = errors.New("audit record not found")
	ErrNotConfirmed        = errors.New("audit record cannot be sealed without confirmed execution")
)

// Sealer encrypts and decrypts data with the symmetric key.
type Sealer interface {
	NewKey() ([]byte, error)
	Encrypt(key, data []byte) ([]byte, error)
	Decrypt(key, data []byte) ([]byte, error)
}

// Essential is the minimal invoice fingerprint.
type Essential struct {
	InvoiceNumber     string          `json:"invoice_number"     bson:"invoice_number"`
	Amount            decimal.Decimal `json:"amount"             bson:"amount"`
	AttachmentDigests []payment.Hash  `json:"attachment_digests" bson:"attachment_digests"`
}

// Map returns essential data as a map with canonical scalar representation.
func (e Essential) Map() map[string]any {
	digests := make([]string, 0, len(e.AttachmentDigests))
	for _, d := range e.AttachmentDigests {
		digests = append(digests, d.String())
	}
	return map[string]any{
		"invoice_number":     e.InvoiceNumber,
		"amount":             e.Amount.String(),
		"attachment_digests": digests,
	}
}

// Hash returns deterministic digest of the essential data.
func (e Essential) Hash() (payment.Hash, error) {
	return HashData(e.Map())
}

// HashData returns sha256 digest of JSON serialization of data with map keys sorted
// at every nesting level, so insertion order never changes the digest.
func HashData(data map[string]any) (payment.Hash, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return payment.Hash{}, err
	}
	return payment.Hash(sha256.Sum256(raw)), nil
}

// DigestAttachments hashes every attachment content individually.
func DigestAttachments(attachments []payment.Attachment) []payment.Hash {
	out := make([]payment.Hash, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, payment.Hash(sha256.Sum256(a.Content)))
	}
	return out
}

// Comprehensive is the full audit context kept encrypted off the ledger.
type Comprehensive struct {
	BatchID           string                   `json:"batch_id"`
	InvoiceNumber     string                   `json:"invoice_number"`
	Amount            decimal.Decimal          `json:"amount"`
	Currency          string                   `json:"currency"`
	Payer             payment.AccountRef       `json:"payer"`
	Payee             payment.AccountRef       `json:"payee"`
	Approver          string                   `json:"approver"`
	PaymentMethod     string                   `json:"payment_method,omitempty"`
	BatchNotes        string                   `json:"batch_notes,omitempty"`
	InvoiceNotes      string                   `json:"invoice_notes,omitempty"`
	CustomFields      map[string]payment.Value `json:"custom_fields,omitempty"`
	AttachmentNames   []string                 `json:"attachment_names,omitempty"`
	AttachmentDigests []payment.Hash           `json:"attachment_digests"`
}

// Record is the durable audit record of a settled invoice.
// ComprehensiveKey is kept out of any serialized form, stores persist it apart from the record.
type Record struct {
	ID                string       `json:"id"                 bson:"_id"`
	BatchID           string       `json:"batch_id"           bson:"batch_id"`
	InvoiceIndex      int          `json:"invoice_index"      bson:"invoice_index"`
	Signature         string       `json:"signature"          bson:"signature"`
	SubmissionID      string       `json:"submission_id"      bson:"submission_id"`
	Essential         Essential    `json:"essential_data"     bson:"essential_data"`
	EssentialHash     payment.Hash `json:"essential_hash"     bson:"essential_hash"`
	Memo              []byte       `json:"memo"               bson:"memo"`
	SchemaVersion     int          `json:"schema_version"     bson:"schema_version"`
	ComprehensiveData []byte       `json:"comprehensive_data" bson:"comprehensive_data"`
	ComprehensiveKey  []byte       `json:"-"                  bson:"-"`
	CreatedAt         time.Time    `json:"created_at"         bson:"created_at"`
}

// RecordID returns the identifier of the invoice record within the batch.
func RecordID(batchID, invoiceNumber string) string {
	return fmt.Sprintf("%s:%s", batchID, invoiceNumber)
}
