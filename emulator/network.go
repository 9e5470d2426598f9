package emulator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/ledger"
	"github.com/bartossh/Settlementis/transaction"
	"github.com/google/uuid"
)

const (
	recentBlockhashes = 150
	maxMemoSize       = 566
)

var (
	ErrIndexMismatch      = errors.New("transaction index is not the next free index")
	ErrNotMember          = errors.New("signer is not a member of the multisig")
	ErrMissingSigner      = errors.New("required signer did not sign")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrMintMismatch       = errors.New("token accounts mint mismatch")
	ErrOwnerMismatch      = errors.New("transfer authority is not the source account owner")
	ErrDecimalsMismatch   = errors.New("transfer decimals do not match the mint")
	ErrAlreadyExists      = errors.New("account already exists")
	ErrProposalNotActive  = errors.New("proposal is not active")
	ErrNotApproved        = errors.New("proposal is not approved")
	ErrMessageMismatch    = errors.New("executed message differs from the stored vault message")
	ErrMemoTooLong        = errors.New("memo is too long")
	ErrUnknownInstruction = errors.New("unknown instruction")
)

type proposalStatus uint8

const (
	proposalActive proposalStatus = iota + 1
	proposalApproved
	proposalExecuted
)

type vaultTx struct {
	multisig   address.Address
	index      uint64
	vaultIndex uint8
	creator    address.Address
	message    []transaction.Instruction
}

type proposal struct {
	status    proposalStatus
	approvals map[address.Address]struct{}
}

type state struct {
	accounts  map[address.Address]ledger.AccountState
	vaultTxs  map[address.Address]vaultTx
	proposals map[address.Address]proposal
}

func (s *state) clone() *state {
	c := &state{
		accounts:  make(map[address.Address]ledger.AccountState, len(s.accounts)),
		vaultTxs:  make(map[address.Address]vaultTx, len(s.vaultTxs)),
		proposals: make(map[address.Address]proposal, len(s.proposals)),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.vaultTxs {
		c.vaultTxs[k] = v
	}
	for k, v := range s.proposals {
		approvals := make(map[address.Address]struct{}, len(v.approvals))
		for a := range v.approvals {
			approvals[a] = struct{}{}
		}
		c.proposals[k] = proposal{status: v.status, approvals: approvals}
	}
	return c
}

type submission struct {
	tx     transaction.Transaction
	polls  int
	stall  bool
	result ledger.StatusReport
}

// OnChainFault decides if the transaction fails on chain despite being valid.
// Returning non nil error fails the transaction with the error message.
type OnChainFault func(tx *transaction.Transaction) error

// Network is an in-memory ledger with token, memo, associated token and multisig programs.
// It is safe for concurrent use.
type Network struct {
	mux           sync.Mutex
	st            *state
	blockhashes   map[[32]byte]struct{}
	blockhashList [][32]byte
	submissions   map[string]*submission
	bySignature   map[string]string
	order         []string
	confirmAfter  int

	failSubmits     int
	failStatusReads int
	stall           bool
	fault           OnChainFault
}

// New creates new Network from the genesis.
func New(confirmAfterPolls int, g Genesis) (*Network, error) {
	n := &Network{
		st: &state{
			accounts:  make(map[address.Address]ledger.AccountState),
			vaultTxs:  make(map[address.Address]vaultTx),
			proposals: make(map[address.Address]proposal),
		},
		blockhashes:  make(map[[32]byte]struct{}),
		submissions:  make(map[string]*submission),
		bySignature:  make(map[string]string),
		confirmAfter: confirmAfterPolls,
	}
	for _, m := range g.Mints {
		n.CreateMint(m.Address, m.Decimals)
	}
	for _, m := range g.Multisigs {
		if err := n.CreateMultisig(m.Address, m.Threshold, m.Members...); err != nil {
			return nil, err
		}
		vault := transaction.VaultAddress(m.Address, 0)
		for _, b := range m.Balances {
			if err := n.MintTo(vault, b.Mint, b.Amount); err != nil {
				return nil, err
			}
		}
	}
	for _, h := range g.Holders {
		for _, b := range h.Balances {
			if err := n.MintTo(h.Owner, b.Mint, b.Amount); err != nil {
				return nil, err
			}
		}
	}
	return n, nil
}

// CreateMint creates the token mint.
func (n *Network) CreateMint(mint address.Address, decimals uint8) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.st.accounts[mint] = ledger.AccountState{Address: mint, Exists: true, Kind: ledger.KindMint, Decimals: decimals}
}

// CreateMultisig creates multisig account with transaction index set to zero.
func (n *Network) CreateMultisig(multisig address.Address, threshold uint16, members ...address.Address) error {
	if threshold == 0 || int(threshold) > len(members) {
		return fmt.Errorf("threshold %d is invalid for %d members", threshold, len(members))
	}
	n.mux.Lock()
	defer n.mux.Unlock()
	if _, ok := n.st.accounts[multisig]; ok {
		return errors.Join(ErrAlreadyExists, fmt.Errorf("multisig %s", multisig))
	}
	n.st.accounts[multisig] = ledger.AccountState{
		Address:   multisig,
		Exists:    true,
		Kind:      ledger.KindMultisig,
		Threshold: threshold,
		Members:   append([]address.Address(nil), members...),
	}
	return nil
}

// MintTo mints amount of tokens to the associated token account of the owner creating it if needed.
func (n *Network) MintTo(owner, mint address.Address, amount uint64) error {
	n.mux.Lock()
	defer n.mux.Unlock()
	m, ok := n.st.accounts[mint]
	if !ok || m.Kind != ledger.KindMint {
		return errors.Join(ledger.ErrAccountNotFound, fmt.Errorf("mint %s", mint))
	}
	ata := transaction.AssociatedTokenAddress(owner, mint)
	acc, ok := n.st.accounts[ata]
	if !ok {
		acc = ledger.AccountState{Address: ata, Exists: true, Kind: ledger.KindTokenAccount, Owner: owner, Mint: mint, Decimals: m.Decimals}
	}
	acc.Balance += amount
	n.st.accounts[ata] = acc
	return nil
}

// Balance returns token balance of the owner for the mint.
func (n *Network) Balance(owner, mint address.Address) uint64 {
	n.mux.Lock()
	defer n.mux.Unlock()
	return n.st.accounts[transaction.AssociatedTokenAddress(owner, mint)].Balance
}

// FailSubmits makes next count submissions fail with transient error.
func (n *Network) FailSubmits(count int) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.failSubmits = count
}

// FailStatusReads makes next count status reads fail with transient error.
func (n *Network) FailStatusReads(count int) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.failStatusReads = count
}

// Stall makes new submissions stay pending forever.
func (n *Network) Stall(stall bool) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.stall = stall
}

// SetOnChainFault sets the fault applied to every accepted transaction, nil removes it.
func (n *Network) SetOnChainFault(f OnChainFault) {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.fault = f
}

// Submitted returns copies of all accepted transactions in order of submission.
func (n *Network) Submitted() []transaction.Transaction {
	n.mux.Lock()
	defer n.mux.Unlock()
	out := make([]transaction.Transaction, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.submissions[id].tx.Clone())
	}
	return out
}

// ResolveAccount returns state of the account.
func (n *Network) ResolveAccount(ctx context.Context, addr address.Address) (ledger.AccountState, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	acc, ok := n.st.accounts[addr]
	if !ok {
		return ledger.AccountState{Address: addr}, errors.Join(ledger.ErrAccountNotFound, fmt.Errorf("account %s", addr))
	}
	return acc, nil
}

// GetSequenceCounter returns the last used transaction index of the multisig.
func (n *Network) GetSequenceCounter(ctx context.Context, multisig address.Address) (uint64, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	acc, ok := n.st.accounts[multisig]
	if !ok || acc.Kind != ledger.KindMultisig {
		return 0, errors.Join(ledger.ErrAccountNotFound, fmt.Errorf("multisig %s", multisig))
	}
	return acc.TransactionIndex, nil
}

// GetRecentBlockhash returns fresh blockhash accepted by the submissions.
func (n *Network) GetRecentBlockhash(ctx context.Context) ([32]byte, error) {
	var h [32]byte
	if _, err := rand.Read(h[:]); err != nil {
		return h, errors.Join(ledger.ErrTransient, err)
	}
	n.mux.Lock()
	defer n.mux.Unlock()
	n.blockhashes[h] = struct{}{}
	n.blockhashList = append(n.blockhashList, h)
	if len(n.blockhashList) > recentBlockhashes {
		delete(n.blockhashes, n.blockhashList[0])
		n.blockhashList = n.blockhashList[1:]
	}
	return h, nil
}

// Submit verifies and executes transaction atomically. Execution errors do not fail the submission,
// they are reported by the status of the submission.
func (n *Network) Submit(ctx context.Context, tx transaction.Transaction) (string, error) {
	n.mux.Lock()
	defer n.mux.Unlock()

	if n.failSubmits > 0 {
		n.failSubmits--
		return "", errors.Join(ledger.ErrTransient, errors.New("node is busy"))
	}
	if err := tx.Verify(); err != nil {
		return "", errors.Join(ledger.ErrRejected, err)
	}
	if _, ok := n.blockhashes[tx.Message.RecentBlockhash]; !ok {
		return "", errors.Join(ledger.ErrRejected, errors.New("blockhash not found"))
	}
	sigKey := string(tx.FeePayerSignature())
	if id, ok := n.bySignature[sigKey]; ok {
		return id, nil
	}

	tx = tx.Clone()
	sub := &submission{tx: tx, stall: n.stall, result: ledger.StatusReport{Status: ledger.StatusSuccess}}
	staged := n.st.clone()
	err := execute(staged, &tx)
	if err == nil && n.fault != nil {
		err = n.fault(&tx)
	}
	if err != nil {
		sub.result = ledger.StatusReport{Status: ledger.StatusFailed, Error: err.Error()}
	} else {
		n.st = staged
	}

	id := uuid.NewString()
	n.submissions[id] = sub
	n.bySignature[sigKey] = id
	n.order = append(n.order, id)
	return id, nil
}

// GetStatus returns status of the submission. Submission stays pending
// for the configured number of reads.
func (n *Network) GetStatus(ctx context.Context, id string) (ledger.StatusReport, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	sub, ok := n.submissions[id]
	if !ok {
		return ledger.StatusReport{}, errors.Join(ledger.ErrUnknownSubmission, fmt.Errorf("submission %s", id))
	}
	if n.failStatusReads > 0 {
		n.failStatusReads--
		return ledger.StatusReport{}, errors.Join(ledger.ErrTransient, errors.New("node is busy"))
	}
	if sub.stall {
		return ledger.StatusReport{Status: ledger.StatusPending}, nil
	}
	sub.polls++
	if sub.polls <= n.confirmAfter {
		return ledger.StatusReport{Status: ledger.StatusPending}, nil
	}
	return sub.result, nil
}
