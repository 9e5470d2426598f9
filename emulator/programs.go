package emulator

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/ledger"
	"github.com/bartossh/Settlementis/transaction"
)

type signers map[address.Address]struct{}

func (s signers) has(a address.Address) bool {
	_, ok := s[a]
	return ok
}

func execute(st *state, tx *transaction.Transaction) error {
	sig := make(signers)
	for _, s := range tx.Message.RequiredSigners() {
		sig[s] = struct{}{}
	}
	for i, ix := range tx.Message.Instructions {
		if err := apply(st, ix, sig); err != nil {
			return fmt.Errorf("instruction %d %s: %w", i, ix.Kind, err)
		}
	}
	return nil
}

func apply(st *state, ix transaction.Instruction, sig signers) error {
	for _, acc := range ix.Accounts {
		if acc.Signer && !sig.has(acc.Address) {
			return errors.Join(ErrMissingSigner, fmt.Errorf("account %s", acc.Address))
		}
	}
	switch ix.Kind {
	case transaction.KindTransfer:
		return applyTransfer(st, ix.Transfer, sig)
	case transaction.KindMemo:
		if len(ix.Memo) > maxMemoSize {
			return ErrMemoTooLong
		}
		return nil
	case transaction.KindCreateTokenAccount:
		return applyCreateTokenAccount(st, ix)
	case transaction.KindVaultTransactionCreate:
		return applyVaultTransactionCreate(st, ix, sig)
	case transaction.KindProposalCreate:
		return applyProposalCreate(st, ix, sig)
	case transaction.KindProposalApprove:
		return applyProposalApprove(st, ix, sig)
	case transaction.KindVaultTransactionExecute:
		return applyVaultTransactionExecute(st, ix, sig)
	default:
		return ErrUnknownInstruction
	}
}

func applyTransfer(st *state, tr *transaction.Transfer, sig signers) error {
	if tr == nil {
		return ErrUnknownInstruction
	}
	if !sig.has(tr.Authority) {
		return errors.Join(ErrMissingSigner, fmt.Errorf("authority %s", tr.Authority))
	}
	src, ok := st.accounts[tr.Source]
	if !ok || src.Kind != ledger.KindTokenAccount {
		return errors.Join(ledger.ErrAccountNotFound, fmt.Errorf("source %s", tr.Source))
	}
	dst, ok := st.accounts[tr.Destination]
	if !ok || dst.Kind != ledger.KindTokenAccount {
		return errors.Join(ledger.ErrAccountNotFound, fmt.Errorf("destination %s", tr.Destination))
	}
	if src.Mint != tr.Mint || dst.Mint != tr.Mint {
		return ErrMintMismatch
	}
	if src.Decimals != tr.Decimals {
		return ErrDecimalsMismatch
	}
	if src.Owner != tr.Authority {
		return ErrOwnerMismatch
	}
	if src.Balance < tr.Amount {
		return errors.Join(ErrInsufficientFunds, fmt.Errorf("balance %d, amount %d", src.Balance, tr.Amount))
	}
	src.Balance -= tr.Amount
	st.accounts[tr.Source] = src
	dst = st.accounts[tr.Destination]
	dst.Balance += tr.Amount
	st.accounts[tr.Destination] = dst
	return nil
}

func applyCreateTokenAccount(st *state, ix transaction.Instruction) error {
	ata, owner, mint := ix.Account(1), ix.Account(2), ix.Account(3)
	if ata != transaction.AssociatedTokenAddress(owner, mint) {
		return fmt.Errorf("account %s is not associated token account of %s", ata, owner)
	}
	if _, ok := st.accounts[ata]; ok {
		return nil
	}
	m, ok := st.accounts[mint]
	if !ok || m.Kind != ledger.KindMint {
		return errors.Join(ledger.ErrAccountNotFound, fmt.Errorf("mint %s", mint))
	}
	st.accounts[ata] = ledger.AccountState{Address: ata, Exists: true, Kind: ledger.KindTokenAccount, Owner: owner, Mint: mint, Decimals: m.Decimals}
	return nil
}

func member(st *state, multisig, who address.Address, sig signers) (ledger.AccountState, error) {
	ms, ok := st.accounts[multisig]
	if !ok || ms.Kind != ledger.KindMultisig {
		return ms, errors.Join(ledger.ErrAccountNotFound, fmt.Errorf("multisig %s", multisig))
	}
	if !ms.IsMember(who) {
		return ms, errors.Join(ErrNotMember, fmt.Errorf("address %s", who))
	}
	if !sig.has(who) {
		return ms, errors.Join(ErrMissingSigner, fmt.Errorf("member %s", who))
	}
	return ms, nil
}

func applyVaultTransactionCreate(st *state, ix transaction.Instruction, sig signers) error {
	multisig, creator := ix.Account(0), ix.Account(2)
	ms, err := member(st, multisig, creator, sig)
	if err != nil {
		return err
	}
	if ix.TransactionIndex != ms.TransactionIndex+1 {
		return errors.Join(ErrIndexMismatch, fmt.Errorf("expected %d, received %d", ms.TransactionIndex+1, ix.TransactionIndex))
	}
	key := transaction.VaultTransactionAddress(multisig, ix.TransactionIndex)
	if ix.Account(1) != key {
		return fmt.Errorf("vault transaction account %s does not match index", ix.Account(1))
	}
	if _, ok := st.vaultTxs[key]; ok {
		return errors.Join(ErrAlreadyExists, fmt.Errorf("vault transaction %d", ix.TransactionIndex))
	}
	st.vaultTxs[key] = vaultTx{
		multisig:   multisig,
		index:      ix.TransactionIndex,
		vaultIndex: ix.VaultIndex,
		creator:    creator,
		message:    transaction.CloneInstructions(ix.Inner),
	}
	ms.TransactionIndex = ix.TransactionIndex
	st.accounts[multisig] = ms
	return nil
}

func applyProposalCreate(st *state, ix transaction.Instruction, sig signers) error {
	multisig, creator := ix.Account(0), ix.Account(2)
	if _, err := member(st, multisig, creator, sig); err != nil {
		return err
	}
	if _, ok := st.vaultTxs[transaction.VaultTransactionAddress(multisig, ix.TransactionIndex)]; !ok {
		return errors.Join(ledger.ErrAccountNotFound, fmt.Errorf("vault transaction %d", ix.TransactionIndex))
	}
	key := transaction.ProposalAddress(multisig, ix.TransactionIndex)
	if ix.Account(1) != key {
		return fmt.Errorf("proposal account %s does not match index", ix.Account(1))
	}
	if _, ok := st.proposals[key]; ok {
		return errors.Join(ErrAlreadyExists, fmt.Errorf("proposal %d", ix.TransactionIndex))
	}
	st.proposals[key] = proposal{status: proposalActive, approvals: make(map[address.Address]struct{})}
	return nil
}

func applyProposalApprove(st *state, ix transaction.Instruction, sig signers) error {
	multisig, who := ix.Account(0), ix.Account(1)
	ms, err := member(st, multisig, who, sig)
	if err != nil {
		return err
	}
	key := transaction.ProposalAddress(multisig, ix.TransactionIndex)
	p, ok := st.proposals[key]
	if !ok {
		return errors.Join(ledger.ErrAccountNotFound, fmt.Errorf("proposal %d", ix.TransactionIndex))
	}
	if p.status != proposalActive {
		return ErrProposalNotActive
	}
	p.approvals[who] = struct{}{}
	if len(p.approvals) >= int(ms.Threshold) {
		p.status = proposalApproved
	}
	st.proposals[key] = p
	return nil
}

func applyVaultTransactionExecute(st *state, ix transaction.Instruction, sig signers) error {
	multisig, who := ix.Account(0), ix.Account(3)
	if _, err := member(st, multisig, who, sig); err != nil {
		return err
	}
	pKey := transaction.ProposalAddress(multisig, ix.TransactionIndex)
	p, ok := st.proposals[pKey]
	if !ok {
		return errors.Join(ledger.ErrAccountNotFound, fmt.Errorf("proposal %d", ix.TransactionIndex))
	}
	if p.status != proposalApproved {
		return ErrNotApproved
	}
	vt, ok := st.vaultTxs[transaction.VaultTransactionAddress(multisig, ix.TransactionIndex)]
	if !ok {
		return errors.Join(ledger.ErrAccountNotFound, fmt.Errorf("vault transaction %d", ix.TransactionIndex))
	}
	stored := transaction.Message{Instructions: vt.message}
	given := transaction.Message{Instructions: ix.Inner}
	if vt.vaultIndex != ix.VaultIndex || !bytes.Equal(stored.Serialize(), given.Serialize()) {
		return ErrMessageMismatch
	}

	vaultSigner := signers{transaction.VaultAddress(multisig, vt.vaultIndex): {}}
	for i, inner := range vt.message {
		if err := apply(st, inner, vaultSigner); err != nil {
			return fmt.Errorf("vault instruction %d %s: %w", i, inner.Kind, err)
		}
	}
	p.status = proposalExecuted
	st.proposals[pKey] = p
	return nil
}
