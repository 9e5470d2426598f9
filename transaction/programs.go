package transaction

import (
	"encoding/binary"

	"github.com/bartossh/Settlementis/address"
)

// Well known program addresses of the settlement ledger.
var (
	SystemProgram          = address.FromSeed("settlementis/system-program")
	TokenProgram           = address.FromSeed("settlementis/token-program")
	AssociatedTokenProgram = address.FromSeed("settlementis/associated-token-program")
	MemoProgram            = address.FromSeed("settlementis/memo-program")
	MultisigProgram        = address.FromSeed("settlementis/multisig-program")
)

// ProgramOf returns the program executing instructions of the kind.
func ProgramOf(k Kind) (address.Address, bool) {
	switch k {
	case KindTransfer:
		return TokenProgram, true
	case KindMemo:
		return MemoProgram, true
	case KindCreateTokenAccount:
		return AssociatedTokenProgram, true
	case KindVaultTransactionCreate, KindProposalCreate, KindProposalApprove, KindVaultTransactionExecute:
		return MultisigProgram, true
	default:
		return address.Zero, false
	}
}

var (
	seedMultisig    = []byte("multisig")
	seedVault       = []byte("vault")
	seedTransaction = []byte("transaction")
	seedProposal    = []byte("proposal")
)

// AssociatedTokenAddress derives the canonical token account of the owner for the mint.
func AssociatedTokenAddress(owner, mint address.Address) address.Address {
	return address.Derive(AssociatedTokenProgram, owner[:], TokenProgram[:], mint[:])
}

// VaultAddress derives the vault of the multisig at given vault index.
func VaultAddress(multisig address.Address, index uint8) address.Address {
	return address.Derive(MultisigProgram, seedMultisig, multisig[:], seedVault, []byte{index})
}

// VaultTransactionAddress derives the account holding the vault message at transaction index.
func VaultTransactionAddress(multisig address.Address, index uint64) address.Address {
	return address.Derive(MultisigProgram, seedMultisig, multisig[:], seedTransaction, le64(index))
}

// ProposalAddress derives the proposal account of the vault transaction at transaction index.
func ProposalAddress(multisig address.Address, index uint64) address.Address {
	return address.Derive(MultisigProgram, seedMultisig, multisig[:], seedTransaction, le64(index), seedProposal)
}

func le64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

// NewTransfer creates checked token transfer instruction.
func NewTransfer(tr Transfer) Instruction {
	return Instruction{
		Kind:    KindTransfer,
		Program: TokenProgram,
		Accounts: []AccountMeta{
			{Address: tr.Source, Writable: true},
			{Address: tr.Mint},
			{Address: tr.Destination, Writable: true},
			{Address: tr.Authority, Signer: true},
		},
		Transfer: &tr,
	}
}

// NewMemo creates memo instruction with optional signers.
func NewMemo(data []byte, signers ...address.Address) Instruction {
	accounts := make([]AccountMeta, 0, len(signers))
	for _, s := range signers {
		accounts = append(accounts, AccountMeta{Address: s, Signer: true})
	}
	return Instruction{
		Kind:     KindMemo,
		Program:  MemoProgram,
		Accounts: accounts,
		Memo:     append([]byte(nil), data...),
	}
}

// NewCreateTokenAccount creates idempotent instruction initializing associated token account
// of the owner for the mint, paid by payer.
func NewCreateTokenAccount(payer, owner, mint address.Address) Instruction {
	return Instruction{
		Kind:    KindCreateTokenAccount,
		Program: AssociatedTokenProgram,
		Accounts: []AccountMeta{
			{Address: payer, Signer: true, Writable: true},
			{Address: AssociatedTokenAddress(owner, mint), Writable: true},
			{Address: owner},
			{Address: mint},
			{Address: SystemProgram},
			{Address: TokenProgram},
		},
	}
}

// NewVaultTransactionCreate creates instruction storing the vault message under transaction index.
func NewVaultTransactionCreate(multisig, creator, rentPayer address.Address, index uint64, vaultIndex uint8, inner []Instruction) Instruction {
	return Instruction{
		Kind:    KindVaultTransactionCreate,
		Program: MultisigProgram,
		Accounts: []AccountMeta{
			{Address: multisig, Writable: true},
			{Address: VaultTransactionAddress(multisig, index), Writable: true},
			{Address: creator, Signer: true},
			{Address: rentPayer, Signer: true, Writable: true},
			{Address: SystemProgram},
		},
		TransactionIndex: index,
		VaultIndex:       vaultIndex,
		Inner:            inner,
	}
}

// NewProposalCreate creates instruction opening the proposal for the vault transaction at index.
func NewProposalCreate(multisig, creator, rentPayer address.Address, index uint64) Instruction {
	return Instruction{
		Kind:    KindProposalCreate,
		Program: MultisigProgram,
		Accounts: []AccountMeta{
			{Address: multisig},
			{Address: ProposalAddress(multisig, index), Writable: true},
			{Address: creator, Signer: true},
			{Address: rentPayer, Signer: true, Writable: true},
			{Address: SystemProgram},
		},
		TransactionIndex: index,
	}
}

// NewProposalApprove creates instruction casting approval vote of the member.
func NewProposalApprove(multisig, member address.Address, index uint64) Instruction {
	return Instruction{
		Kind:    KindProposalApprove,
		Program: MultisigProgram,
		Accounts: []AccountMeta{
			{Address: multisig},
			{Address: member, Signer: true},
			{Address: ProposalAddress(multisig, index), Writable: true},
		},
		TransactionIndex: index,
	}
}

// NewVaultTransactionExecute creates instruction executing the approved vault message.
// Inner must repeat the stored vault message, accounts of the vault message are appended
// as remaining accounts.
func NewVaultTransactionExecute(multisig, member address.Address, index uint64, vaultIndex uint8, inner []Instruction) Instruction {
	accounts := []AccountMeta{
		{Address: multisig},
		{Address: ProposalAddress(multisig, index), Writable: true},
		{Address: VaultTransactionAddress(multisig, index)},
		{Address: member, Signer: true},
	}
	seen := map[address.Address]struct{}{}
	for _, a := range accounts {
		seen[a.Address] = struct{}{}
	}
	walk(inner, func(ix Instruction) {
		for _, a := range ix.Accounts {
			if _, ok := seen[a.Address]; ok {
				continue
			}
			seen[a.Address] = struct{}{}
			accounts = append(accounts, AccountMeta{Address: a.Address, Writable: a.Writable})
		}
	})
	return Instruction{
		Kind:             KindVaultTransactionExecute,
		Program:          MultisigProgram,
		Accounts:         accounts,
		TransactionIndex: index,
		VaultIndex:       vaultIndex,
		Inner:            inner,
	}
}
