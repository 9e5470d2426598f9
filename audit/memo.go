package audit

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bartossh/Settlementis/payment"
)

// Memo is the compact on-ledger fingerprint of the invoice.
type Memo struct {
	Hash    string `json:"h"`
	Version int    `json:"v"`
	Invoice string `json:"i"`
	Fee     string `json:"f,omitempty"`
}

// EncodeMemo encodes memo to its on-ledger form.
func EncodeMemo(m Memo) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMemo decodes on-ledger memo.
func DecodeMemo(raw []byte) (Memo, error) {
	var m Memo
	if err := json.Unmarshal(raw, &m); err != nil {
		return Memo{}, errors.Join(ErrInvalidMemo, err)
	}
	if _, err := payment.HashFromString(m.Hash); err != nil {
		return Memo{}, errors.Join(ErrInvalidMemo, err)
	}
	if m.Version != SchemaVersion {
		return Memo{}, errors.Join(ErrInvalidMemo, fmt.Errorf("unsupported version %d", m.Version))
	}
	return m, nil
}

// VerifyMemo verifies that essential data hashes to the digest carried by the on-ledger memo.
func VerifyMemo(raw []byte, e Essential) error {
	m, err := DecodeMemo(raw)
	if err != nil {
		return err
	}
	h, err := e.Hash()
	if err != nil {
		return err
	}
	if m.Hash != h.String() || m.Invoice != e.InvoiceNumber {
		return errors.Join(ErrFingerprintMismatch, fmt.Errorf("memo %s, computed %s", m.Hash, h))
	}
	return nil
}

// VerifyRecord verifies that the stored essential data matches both the stored hash and the memo.
func VerifyRecord(r *Record) error {
	h, err := r.Essential.Hash()
	if err != nil {
		return err
	}
	if h != r.EssentialHash {
		return errors.Join(ErrFingerprintMismatch, fmt.Errorf("record %s", r.ID))
	}
	return VerifyMemo(r.Memo, r.Essential)
}
