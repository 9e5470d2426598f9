package client

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bartossh/Settlementis/audit"
	"github.com/bartossh/Settlementis/httpclient"
	"github.com/bartossh/Settlementis/orchestrator"
	"github.com/bartossh/Settlementis/payment"
	"github.com/bartossh/Settlementis/server"
	"github.com/bartossh/Settlementis/wallet"
	"github.com/bartossh/Settlementis/walletbridge"
	"github.com/fasthttp/websocket"
)

const pendingPollInterval = 50 * time.Millisecond

var (
	ErrApiVersionMismatch = errors.New("api version mismatch")
	ErrApiHeaderMismatch  = errors.New("api header mismatch")
	ErrNotAuthenticated   = errors.New("client is not authenticated, authenticate first")
	ErrRequestNotPending  = errors.New("sign request is not pending")
	ErrUnexpectedMessage  = errors.New("unexpected websocket message")
)

// Rest is a rest client of the settlement API used by the approver.
// Transactions are signed locally with the approver wallet.
type Rest struct {
	apiRoot string
	timeout time.Duration
	w       *wallet.Wallet
	signer  *walletbridge.Local

	mux     sync.RWMutex
	headers []httpclient.Header
}

// NewRest creates a new rest client.
func NewRest(apiRoot string, timeout time.Duration, w *wallet.Wallet) *Rest {
	return &Rest{
		apiRoot: strings.TrimSuffix(apiRoot, "/"),
		timeout: timeout,
		w:       w,
		signer:  walletbridge.NewLocal(w),
	}
}

func path(pattern string, params ...string) string {
	for i, name := range []string{":id", ":request"} {
		if i >= len(params) {
			break
		}
		pattern = strings.Replace(pattern, name, params[i], 1)
	}
	return pattern
}

// ValidateApiVersion makes a call to the API server and validates client and server API versions and header correctness.
func (r *Rest) ValidateApiVersion() error {
	var alive server.AliveResponse
	if err := httpclient.MakeGet(r.timeout, r.apiRoot+server.AliveURL, &alive); err != nil {
		return err
	}
	if alive.APIVersion != server.ApiVersion {
		return errors.Join(ErrApiVersionMismatch, fmt.Errorf("expected %s but got %s", server.ApiVersion, alive.APIVersion))
	}
	if alive.APIHeader != server.Header {
		return errors.Join(ErrApiHeaderMismatch, fmt.Errorf("expected %s but got %s", server.Header, alive.APIHeader))
	}
	return nil
}

// Authenticate obtains data to sign and signs it with the approver wallet.
// Signed data is sent with every following request.
func (r *Rest) Authenticate() error {
	var res server.DataToSignResponse
	req := server.DataToSignRequest{Address: r.w.Address()}
	if err := httpclient.MakePost(r.timeout, r.apiRoot+server.DataToSignURL, req, &res); err != nil {
		return err
	}
	hash, signature := r.w.Sign(res.Data)

	r.mux.Lock()
	defer r.mux.Unlock()
	r.headers = []httpclient.Header{
		{Key: server.HeaderAddress, Value: r.w.Address().String()},
		{Key: server.HeaderData, Value: hex.EncodeToString(res.Data)},
		{Key: server.HeaderHash, Value: hex.EncodeToString(hash[:])},
		{Key: server.HeaderSignature, Value: hex.EncodeToString(signature)},
	}
	return nil
}

func (r *Rest) auth() ([]httpclient.Header, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	if len(r.headers) == 0 {
		return nil, ErrNotAuthenticated
	}
	return r.headers, nil
}

func (r *Rest) get(url string, out any) error {
	h, err := r.auth()
	if err != nil {
		return err
	}
	return httpclient.MakeGet(r.timeout, r.apiRoot+url, out, h...)
}

func (r *Rest) post(url string, body, out any) error {
	h, err := r.auth()
	if err != nil {
		return err
	}
	return httpclient.MakePost(r.timeout, r.apiRoot+url, body, out, h...)
}

// Execute starts the batch. Batch without approver is approved by the client wallet.
func (r *Rest) Execute(batch payment.PaymentBatch) (server.ExecuteResponse, error) {
	if batch.Approver.IsZero() {
		batch.Approver = r.w.Address()
	}
	var res server.ExecuteResponse
	err := r.post(server.BatchesURL, batch, &res)
	return res, err
}

// Status reads status of the batch run.
func (r *Rest) Status(batchID string) (orchestrator.Status, error) {
	var s orchestrator.Status
	err := r.get(path(server.BatchURL, batchID), &s)
	return s, err
}

// Cancel requests cancellation of the batch run.
func (r *Rest) Cancel(batchID string) (orchestrator.Status, error) {
	var s orchestrator.Status
	err := r.post(path(server.CancelBatchURL, batchID), struct{}{}, &s)
	return s, err
}

// Pending lists sign requests of the batch awaiting the approver wallet.
func (r *Rest) Pending(batchID string) ([]walletbridge.Request, error) {
	var res server.PendingResponse
	err := r.get(path(server.SignaturesURL, batchID), &res)
	return res.Requests, err
}

// Sign signs the request transaction with the client wallet and posts it.
func (r *Rest) Sign(ctx context.Context, req walletbridge.Request) error {
	tx, err := r.signer.Sign(ctx, req)
	if err != nil {
		return err
	}
	var res server.SignatureResponse
	return r.post(path(server.SignatureURL, req.BatchID, req.ID), tx, &res)
}

// SignRequest signs the pending request of the batch with given id.
// The request is announced before it is parked, so pending requests are polled until the client timeout.
func (r *Rest) SignRequest(ctx context.Context, batchID, requestID string) error {
	deadline := time.Now().Add(r.timeout)
	for {
		reqs, err := r.Pending(batchID)
		if err != nil {
			return err
		}
		for _, req := range reqs {
			if req.ID == requestID {
				return r.Sign(ctx, req)
			}
		}
		if time.Now().After(deadline) {
			return errors.Join(ErrRequestNotPending, fmt.Errorf("request %s", requestID))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pendingPollInterval):
		}
	}
}

// Reject rejects the sign request.
func (r *Rest) Reject(batchID, requestID string) error {
	var res server.SignatureResponse
	return r.post(path(server.RejectURL, batchID, requestID), struct{}{}, &res)
}

// Submission re-checks the status of the submission.
func (r *Rest) Submission(id string) (server.SubmissionResponse, error) {
	var res server.SubmissionResponse
	err := r.get(path(server.SubmissionURL, id), &res)
	return res, err
}

// Record reads the audit record and verifies it locally.
func (r *Rest) Record(id string) (server.RecordResponse, error) {
	var res server.RecordResponse
	if err := r.get(path(server.RecordURL, id), &res); err != nil {
		return res, err
	}
	if err := audit.VerifyRecord(&res.Record); err != nil {
		res.Verified = false
		res.Error = err.Error()
	}
	return res, nil
}

// Events streams messages of the batch run to the handler until the server closes the stream or ctx is done.
func (r *Rest) Events(ctx context.Context, batchID string, handler func(server.Message)) error {
	h, err := r.auth()
	if err != nil {
		return err
	}
	header := http.Header{}
	for _, v := range h {
		header.Set(v.Key, v.Value)
	}
	url := "ws" + strings.TrimPrefix(r.apiRoot, "http") + path(server.BatchEventsURL, batchID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg server.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msg.Command == server.CommandError {
			return errors.Join(ErrUnexpectedMessage, errors.New(msg.Error))
		}
		handler(msg)
	}
}
