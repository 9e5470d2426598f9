package ledger

import (
	"errors"
	"fmt"

	"github.com/bartossh/Settlementis/address"
)

var (
	ErrTransient          = errors.New("transient ledger failure")
	ErrAccountNotFound    = errors.New("account not found on the ledger")
	ErrRejected           = errors.New("transaction rejected by the ledger before execution")
	ErrUnknownSubmission  = errors.New("submission is unknown to the ledger")
	ErrInvalidRequest     = errors.New("invalid ledger request")
	ErrMethodNotSupported = errors.New("ledger method is not supported")
)

// AccountKind is the kind of the account data.
type AccountKind string

const (
	KindWallet       AccountKind = "wallet"
	KindTokenAccount AccountKind = "token_account"
	KindMultisig     AccountKind = "multisig"
	KindMint         AccountKind = "mint"
)

// AccountState is a snapshot of the ledger account.
type AccountState struct {
	Address          address.Address   `json:"address"`
	Exists           bool              `json:"exists"`
	Kind             AccountKind       `json:"kind,omitempty"`
	Owner            address.Address   `json:"owner"`
	Mint             address.Address   `json:"mint"`
	Balance          uint64            `json:"balance"`
	Decimals         uint8             `json:"decimals,omitempty"`
	Threshold        uint16            `json:"threshold,omitempty"`
	Members          []address.Address `json:"members,omitempty"`
	TransactionIndex uint64            `json:"transaction_index,omitempty"`
}

// IsMember checks if address is a member of the multisig account.
func (s AccountState) IsMember(a address.Address) bool {
	for _, m := range s.Members {
		if m == a {
			return true
		}
	}
	return false
}

// Status is the finality status of the submitted transaction.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// StatusReport is the result of a single status read.
type StatusReport struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// IsTerminal checks if status will not change anymore.
func (r StatusReport) IsTerminal() bool {
	return r.Status == StatusSuccess || r.Status == StatusFailed
}

// JSON-RPC error codes used between the ledger client and the ledger node.
const (
	CodeInvalidRequest    = -32600
	CodeMethodNotFound    = -32601
	CodeTransient         = -32000
	CodeAccountNotFound   = -32001
	CodeRejected          = -32002
	CodeUnknownSubmission = -32003
)

var codes = []struct {
	code int
	err  error
}{
	{CodeTransient, ErrTransient},
	{CodeAccountNotFound, ErrAccountNotFound},
	{CodeRejected, ErrRejected},
	{CodeUnknownSubmission, ErrUnknownSubmission},
	{CodeMethodNotFound, ErrMethodNotSupported},
	{CodeInvalidRequest, ErrInvalidRequest},
}

// CodeFromError maps error to JSON-RPC error code.
func CodeFromError(err error) int {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeTransient
}

// ErrorFromCode maps JSON-RPC error code and message to the sentinel error.
func ErrorFromCode(code int, msg string) error {
	for _, c := range codes {
		if c.code == code {
			return errors.Join(c.err, fmt.Errorf("ledger: %s", msg))
		}
	}
	return errors.Join(ErrTransient, fmt.Errorf("ledger code %d: %s", code, msg))
}
