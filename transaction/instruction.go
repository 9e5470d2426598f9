package transaction

import (
	"encoding/binary"

	"github.com/bartossh/Settlementis/address"
)

// Kind is the instruction kind understood by the ledger programs.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTransfer
	KindMemo
	KindCreateTokenAccount
	KindVaultTransactionCreate
	KindProposalCreate
	KindProposalApprove
	KindVaultTransactionExecute
)

func (k Kind) String() string {
	switch k {
	case KindTransfer:
		return "transfer"
	case KindMemo:
		return "memo"
	case KindCreateTokenAccount:
		return "create_token_account"
	case KindVaultTransactionCreate:
		return "vault_transaction_create"
	case KindProposalCreate:
		return "proposal_create"
	case KindProposalApprove:
		return "proposal_approve"
	case KindVaultTransactionExecute:
		return "vault_transaction_execute"
	default:
		return "unknown"
	}
}

// AccountMeta describes how the instruction uses the account.
type AccountMeta struct {
	Address  address.Address `json:"address"`
	Signer   bool            `json:"signer"`
	Writable bool            `json:"writable"`
}

// Transfer is a checked token transfer between token accounts.
type Transfer struct {
	Source      address.Address `json:"source"`
	Destination address.Address `json:"destination"`
	Authority   address.Address `json:"authority"`
	Mint        address.Address `json:"mint"`
	Amount      uint64          `json:"amount"`
	Decimals    uint8           `json:"decimals"`
}

// Instruction is a single program invocation.
// Inner holds the vault message for vault transaction create and execute instructions.
type Instruction struct {
	Kind             Kind            `json:"kind"`
	Program          address.Address `json:"program"`
	Accounts         []AccountMeta   `json:"accounts"`
	Transfer         *Transfer       `json:"transfer,omitempty"`
	Memo             []byte          `json:"memo,omitempty"`
	TransactionIndex uint64          `json:"transaction_index,omitempty"`
	VaultIndex       uint8           `json:"vault_index,omitempty"`
	Inner            []Instruction   `json:"inner,omitempty"`
}

// Account returns address of the account at position n or zero address if there is no such account.
func (ix Instruction) Account(n int) address.Address {
	if n < 0 || n >= len(ix.Accounts) {
		return address.Zero
	}
	return ix.Accounts[n].Address
}

func (ix Instruction) addresses() []address.Address {
	out := make([]address.Address, 0, len(ix.Accounts))
	for _, a := range ix.Accounts {
		out = append(out, a.Address)
	}
	return out
}

func (ix Instruction) appendBinary(buf []byte) []byte {
	buf = append(buf, byte(ix.Kind))
	buf = append(buf, ix.Program[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ix.Accounts)))
	for _, a := range ix.Accounts {
		buf = append(buf, a.Address[:]...)
		var flags byte
		if a.Signer {
			flags |= 1
		}
		if a.Writable {
			flags |= 2
		}
		buf = append(buf, flags)
	}
	if ix.Transfer == nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = append(buf, ix.Transfer.Source[:]...)
		buf = append(buf, ix.Transfer.Destination[:]...)
		buf = append(buf, ix.Transfer.Authority[:]...)
		buf = append(buf, ix.Transfer.Mint[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, ix.Transfer.Amount)
		buf = append(buf, ix.Transfer.Decimals)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ix.Memo)))
	buf = append(buf, ix.Memo...)
	buf = binary.LittleEndian.AppendUint64(buf, ix.TransactionIndex)
	buf = append(buf, ix.VaultIndex)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ix.Inner)))
	for _, inner := range ix.Inner {
		buf = inner.appendBinary(buf)
	}
	return buf
}

// CloneInstructions returns deep copy of the instructions.
func CloneInstructions(ixs []Instruction) []Instruction {
	if ixs == nil {
		return nil
	}
	out := make([]Instruction, len(ixs))
	for i, ix := range ixs {
		c := Instruction{
			Kind:             ix.Kind,
			Program:          ix.Program,
			Accounts:         append([]AccountMeta(nil), ix.Accounts...),
			Memo:             append([]byte(nil), ix.Memo...),
			TransactionIndex: ix.TransactionIndex,
			VaultIndex:       ix.VaultIndex,
			Inner:            CloneInstructions(ix.Inner),
		}
		if ix.Transfer != nil {
			tr := *ix.Transfer
			c.Transfer = &tr
		}
		out[i] = c
	}
	return out
}
