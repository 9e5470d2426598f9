package ledgerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/httpclient"
	"github.com/bartossh/Settlementis/ledger"
	"github.com/bartossh/Settlementis/transaction"
	"github.com/valyala/fasthttp"
)

const defaultTimeout = 5 * time.Second

var ErrEmptyURL = errors.New("ledger rpc url is empty")

// Config contains configuration of the ledger JSON-RPC client.
type Config struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Client is the JSON-RPC client of the ledger node.
type Client struct {
	url     string
	timeout time.Duration
	id      atomic.Uint64
}

// New creates new ledger Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyURL
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Client{url: cfg.URL, timeout: timeout}, nil
}

// ResolveAccount returns state of the ledger account.
func (c *Client) ResolveAccount(ctx context.Context, addr address.Address) (ledger.AccountState, error) {
	var out ledger.AccountState
	err := c.call(ctx, ledger.MethodResolveAccount, ledger.AccountParams{Address: addr}, &out)
	return out, err
}

// GetSequenceCounter returns last used transaction index of the multisig.
func (c *Client) GetSequenceCounter(ctx context.Context, multisig address.Address) (uint64, error) {
	var out ledger.SequenceResult
	err := c.call(ctx, ledger.MethodGetSequenceCounter, ledger.AccountParams{Address: multisig}, &out)
	return out.TransactionIndex, err
}

// GetRecentBlockhash returns recent blockhash to be put in the message.
func (c *Client) GetRecentBlockhash(ctx context.Context) ([32]byte, error) {
	var out ledger.BlockhashResult
	err := c.call(ctx, ledger.MethodGetRecentBlockhash, struct{}{}, &out)
	return out.Blockhash, err
}

// Submit submits fully signed transaction and returns the submission id.
func (c *Client) Submit(ctx context.Context, tx transaction.Transaction) (string, error) {
	var out ledger.SubmitResult
	err := c.call(ctx, ledger.MethodSubmitTransaction, ledger.SubmitParams{Transaction: tx}, &out)
	return out.SubmissionID, err
}

// GetStatus returns status of the submission.
func (c *Client) GetStatus(ctx context.Context, id string) (ledger.StatusReport, error) {
	var out ledger.StatusReport
	err := c.call(ctx, ledger.MethodGetStatus, ledger.StatusParams{SubmissionID: id}, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return errors.Join(ledger.ErrInvalidRequest, err)
	}
	req := ledger.Request{JSONRPC: ledger.Version, ID: c.id.Add(1), Method: method, Params: raw}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	var res ledger.Response
	if err := httpclient.MakePost(timeout, c.url, req, &res); err != nil {
		return classify(err)
	}
	if res.Error != nil {
		return res.Error.Err()
	}
	if res.ID != req.ID {
		return errors.Join(ledger.ErrTransient, fmt.Errorf("response id %d does not match request id %d", res.ID, req.ID))
	}
	if err := json.Unmarshal(res.Result, result); err != nil {
		return errors.Join(ledger.ErrInvalidRequest, err)
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, httpclient.ErrRequestFailed) {
		return errors.Join(ledger.ErrTransient, err)
	}
	if code, ok := httpclient.StatusCode(err); ok {
		if code >= fasthttp.StatusInternalServerError || code == fasthttp.StatusTooManyRequests {
			return errors.Join(ledger.ErrTransient, err)
		}
	}
	return err
}
