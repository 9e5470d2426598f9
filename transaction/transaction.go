package transaction

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/wallet"
)

var (
	ErrNoFeePayer          = errors.New("message has no fee payer")
	ErrNotRequiredSigner   = errors.New("address is not a required signer of the message")
	ErrMissingSignature    = errors.New("required signature is missing")
	ErrSignatureInvalid    = errors.New("signature is not valid or data are corrupted")
	ErrTooManyAccounts     = errors.New("message references too many accounts")
	ErrTooManyInstructions = errors.New("message contains too many instructions")
)

const (
	maxAccounts     = 256
	maxInstructions = 64
)

// Signer provides signing and address methods.
type Signer interface {
	Sign(message []byte) (digest [32]byte, signature []byte)
	Address() address.Address
}

// Message is the part of the transaction that is signed by every required signer.
// The first account key is always the fee payer. The first NumRequiredSignatures
// account keys are the addresses that must sign.
type Message struct {
	AccountKeys           []address.Address `json:"account_keys"`
	NumRequiredSignatures uint8             `json:"num_required_signatures"`
	RecentBlockhash       [32]byte          `json:"recent_blockhash"`
	Instructions          []Instruction     `json:"instructions"`
}

// NewMessage compiles the message with fee payer at the first position of the account keys
// followed by the remaining signers of the top level instructions and the other accounts.
func NewMessage(feePayer address.Address, blockhash [32]byte, instructions ...Instruction) (Message, error) {
	if feePayer.IsZero() {
		return Message{}, ErrNoFeePayer
	}
	if len(instructions) > maxInstructions {
		return Message{}, ErrTooManyInstructions
	}

	signers := []address.Address{feePayer}
	others := make([]address.Address, 0, 16)
	seen := map[address.Address]struct{}{feePayer: {}}

	for _, ix := range instructions {
		for _, acc := range ix.Accounts {
			if !acc.Signer {
				continue
			}
			if _, ok := seen[acc.Address]; ok {
				continue
			}
			seen[acc.Address] = struct{}{}
			signers = append(signers, acc.Address)
		}
	}
	for _, ix := range instructions {
		collectAccounts(ix, seen, &others)
	}

	keys := append(signers, others...)
	if len(keys) > maxAccounts {
		return Message{}, ErrTooManyAccounts
	}

	return Message{
		AccountKeys:           keys,
		NumRequiredSignatures: uint8(len(signers)),
		RecentBlockhash:       blockhash,
		Instructions:          instructions,
	}, nil
}

func collectAccounts(ix Instruction, seen map[address.Address]struct{}, keys *[]address.Address) {
	for _, candidate := range append([]address.Address{ix.Program}, ix.addresses()...) {
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		*keys = append(*keys, candidate)
	}
	for _, inner := range ix.Inner {
		collectAccounts(inner, seen, keys)
	}
}

// FeePayer returns the account at the fee payer position.
func (m *Message) FeePayer() (address.Address, error) {
	if len(m.AccountKeys) == 0 || m.NumRequiredSignatures == 0 {
		return address.Zero, ErrNoFeePayer
	}
	return m.AccountKeys[0], nil
}

// RequiredSigners returns the addresses that must sign the message.
func (m *Message) RequiredSigners() []address.Address {
	n := int(m.NumRequiredSignatures)
	if n > len(m.AccountKeys) {
		n = len(m.AccountKeys)
	}
	out := make([]address.Address, n)
	copy(out, m.AccountKeys[:n])
	return out
}

// Serialize returns canonical binary form of the message that is signed.
func (m *Message) Serialize() []byte {
	buf := make([]byte, 0, 512)
	buf = append(buf, m.NumRequiredSignatures)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.AccountKeys)))
	for _, k := range m.AccountKeys {
		buf = append(buf, k[:]...)
	}
	buf = append(buf, m.RecentBlockhash[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Instructions)))
	for _, ix := range m.Instructions {
		buf = ix.appendBinary(buf)
	}
	return buf
}

// Digest returns sha256 digest of the serialized message.
func (m *Message) Digest() [32]byte {
	return sha256.Sum256(m.Serialize())
}

// Signature is a single signature over the message digest.
type Signature struct {
	Signer address.Address `json:"signer"`
	Hash   [32]byte        `json:"hash"`
	Value  []byte          `json:"value,omitempty"`
}

// Transaction is the message with signatures of the required signers.
type Transaction struct {
	Message    Message     `json:"message"`
	Signatures []Signature `json:"signatures"`
}

// New creates unsigned transaction with empty signature slot per required signer.
func New(m Message) Transaction {
	signers := m.RequiredSigners()
	sigs := make([]Signature, 0, len(signers))
	for _, s := range signers {
		sigs = append(sigs, Signature{Signer: s})
	}
	return Transaction{Message: m, Signatures: sigs}
}

// Sign signs the message by the signer if signer is one of the required signers.
func (t *Transaction) Sign(s Signer) error {
	addr := s.Address()
	idx := t.slot(addr)
	if idx < 0 {
		return errors.Join(ErrNotRequiredSigner, fmt.Errorf("signer %s", addr))
	}
	hash, sig := s.Sign(t.Message.Serialize())
	t.Signatures[idx] = Signature{Signer: addr, Hash: hash, Value: sig}
	return nil
}

// VerifySignature verifies signature of a single required signer.
func (t *Transaction) VerifySignature(addr address.Address) error {
	idx := t.slot(addr)
	if idx < 0 {
		return errors.Join(ErrNotRequiredSigner, fmt.Errorf("signer %s", addr))
	}
	sig := t.Signatures[idx]
	if len(sig.Value) == 0 {
		return errors.Join(ErrMissingSignature, fmt.Errorf("signer %s", addr))
	}
	if err := wallet.Verify(t.Message.Serialize(), sig.Value, sig.Hash, addr); err != nil {
		return errors.Join(ErrSignatureInvalid, fmt.Errorf("signer %s", addr), err)
	}
	return nil
}

// Verify verifies signatures of all required signers.
func (t *Transaction) Verify() error {
	for _, s := range t.Message.RequiredSigners() {
		if err := t.VerifySignature(s); err != nil {
			return err
		}
	}
	return nil
}

// IsSignedBy checks if signature of given address is present and valid.
func (t *Transaction) IsSignedBy(addr address.Address) bool {
	return t.VerifySignature(addr) == nil
}

// FeePayerSignature returns the fee payer signature that identifies transaction on the ledger.
func (t *Transaction) FeePayerSignature() []byte {
	if len(t.Signatures) == 0 {
		return nil
	}
	return t.Signatures[0].Value
}

// Clone returns deep copy of the transaction.
func (t Transaction) Clone() Transaction {
	c := Transaction{
		Message: Message{
			AccountKeys:           append([]address.Address(nil), t.Message.AccountKeys...),
			NumRequiredSignatures: t.Message.NumRequiredSignatures,
			RecentBlockhash:       t.Message.RecentBlockhash,
			Instructions:          CloneInstructions(t.Message.Instructions),
		},
		Signatures: make([]Signature, len(t.Signatures)),
	}
	for i, s := range t.Signatures {
		c.Signatures[i] = Signature{Signer: s.Signer, Hash: s.Hash, Value: append([]byte(nil), s.Value...)}
	}
	return c
}

// Transfers returns all token transfers of the transaction including the ones nested in vault messages.
func (t *Transaction) Transfers() []Transfer {
	var out []Transfer
	walk(t.Message.Instructions, func(ix Instruction) {
		if ix.Kind == KindTransfer && ix.Transfer != nil {
			out = append(out, *ix.Transfer)
		}
	})
	return out
}

// Memos returns data of all memo instructions including the ones nested in vault messages.
func (t *Transaction) Memos() [][]byte {
	var out [][]byte
	walk(t.Message.Instructions, func(ix Instruction) {
		if ix.Kind == KindMemo {
			out = append(out, ix.Memo)
		}
	})
	return out
}

func (t *Transaction) slot(addr address.Address) int {
	for i, s := range t.Signatures {
		if s.Signer == addr && i < int(t.Message.NumRequiredSignatures) && t.Message.AccountKeys[i] == addr {
			return i
		}
	}
	return -1
}

func walk(ixs []Instruction, f func(Instruction)) {
	for _, ix := range ixs {
		f(ix)
		walk(ix.Inner, f)
	}
}
