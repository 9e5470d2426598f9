package ledger

import (
	"encoding/json"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/transaction"
)

// JSON-RPC methods of the ledger node.
const (
	MethodResolveAccount     = "resolveAccount"
	MethodGetSequenceCounter = "getSequenceCounter"
	MethodGetRecentBlockhash = "getRecentBlockhash"
	MethodSubmitTransaction  = "submitTransaction"
	MethodGetStatus          = "getTransactionStatus"
)

// Version is the JSON-RPC protocol version.
const Version = "2.0"

// Request is JSON-RPC request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is JSON-RPC response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Err converts RPC error to the sentinel error.
func (e *RPCError) Err() error {
	return ErrorFromCode(e.Code, e.Message)
}

// AccountParams are params of resolveAccount and getSequenceCounter.
type AccountParams struct {
	Address address.Address `json:"address"`
}

// SequenceResult is the result of getSequenceCounter.
type SequenceResult struct {
	TransactionIndex uint64 `json:"transaction_index"`
}

// BlockhashResult is the result of getRecentBlockhash.
type BlockhashResult struct {
	Blockhash [32]byte `json:"blockhash"`
}

// SubmitParams are params of submitTransaction.
type SubmitParams struct {
	Transaction transaction.Transaction `json:"transaction"`
}

// SubmitResult is the result of submitTransaction.
type SubmitResult struct {
	SubmissionID string `json:"submission_id"`
}

// StatusParams are params of getTransactionStatus.
type StatusParams struct {
	SubmissionID string `json:"submission_id"`
}
