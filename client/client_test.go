package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/orchestrator"
	"github.com/bartossh/Settlementis/payment"
	"github.com/bartossh/Settlementis/server"
	"github.com/bartossh/Settlementis/transaction"
	"github.com/bartossh/Settlementis/wallet"
	"github.com/bartossh/Settlementis/walletbridge"
	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
)

type api struct {
	t       *testing.T
	w       wallet.Wallet
	data    []byte
	request walletbridge.Request
	polls   atomic.Int32
	signed  chan transaction.Transaction
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (a *api) authorized(r *http.Request) bool {
	addr, err := address.FromString(r.Header.Get(server.HeaderAddress))
	if err != nil || addr != a.w.Address() {
		return false
	}
	data, _ := hex.DecodeString(r.Header.Get(server.HeaderData))
	hash, _ := hex.DecodeString(r.Header.Get(server.HeaderHash))
	sig, _ := hex.DecodeString(r.Header.Get(server.HeaderSignature))
	var digest [32]byte
	copy(digest[:], hash)
	return wallet.Verify(data, sig, digest, addr) == nil && string(data) == string(a.data)
}

func (a *api) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(server.AliveURL, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, server.AliveResponse{Alive: true, APIVersion: server.ApiVersion, APIHeader: server.Header})
	})
	mux.HandleFunc(server.DataToSignURL, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, server.DataToSignResponse{Data: a.data})
	})
	mux.HandleFunc(server.BatchesURL, func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var b payment.PaymentBatch
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil || b.Approver != a.w.Address() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, server.ExecuteResponse{BatchID: "b-1", State: orchestrator.StateIdle})
	})
	mux.HandleFunc("/batches/b-1", func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		writeJSON(w, http.StatusOK, orchestrator.Status{BatchID: "b-1", State: orchestrator.StateCreating})
	})
	mux.HandleFunc("/batches/b-1/signatures", func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		// the request is parked only after the first poll
		if a.polls.Add(1) == 1 {
			writeJSON(w, http.StatusOK, server.PendingResponse{})
			return
		}
		writeJSON(w, http.StatusOK, server.PendingResponse{Requests: []walletbridge.Request{a.request}})
	})
	mux.HandleFunc("/batches/b-1/signatures/r-1", func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var tx transaction.Transaction
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil || tx.VerifySignature(a.w.Address()) != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		a.signed <- tx
		writeJSON(w, http.StatusOK, server.SignatureResponse{Success: true, Request: "r-1"})
	})
	mux.HandleFunc("/batches/b-1/ws", func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(server.Message{Command: server.CommandStatus, Status: &orchestrator.Status{BatchID: "b-1"}})
		conn.WriteJSON(server.Message{Command: server.CommandEvent, Event: &orchestrator.Event{BatchID: "b-1", Detail: "batch settled"}})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	})
	return mux
}

func newAPI(t *testing.T) (*api, *httptest.Server) {
	w, err := wallet.New()
	assert.Nil(t, err)
	feePayer := address.FromSeed("fee payer")
	msg, err := transaction.NewMessage(feePayer, [32]byte{1}, transaction.NewMemo([]byte("memo"), w.Address()))
	assert.Nil(t, err)
	a := &api{
		t:      t,
		w:      w,
		data:   []byte("data to sign"),
		signed: make(chan transaction.Transaction, 1),
		request: walletbridge.Request{
			ID:          "r-1",
			BatchID:     "b-1",
			Phase:       payment.PhaseCreate,
			Signers:     msg.RequiredSigners(),
			Transaction: transaction.New(msg),
		},
	}
	srv := httptest.NewServer(a.handler())
	t.Cleanup(srv.Close)
	return a, srv
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/batches/b-1/signatures/r-1", path(server.SignatureURL, "b-1", "r-1"))
	assert.Equal(t, "/batches/b-1", path(server.BatchURL, "b-1"))
}

func TestValidateApiVersion(t *testing.T) {
	a, srv := newAPI(t)
	r := NewRest(srv.URL, time.Second, &a.w)
	assert.Nil(t, r.ValidateApiVersion())
}

func TestRequiresAuthentication(t *testing.T) {
	a, srv := newAPI(t)
	r := NewRest(srv.URL, time.Second, &a.w)
	_, err := r.Status("b-1")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestExecuteAndStatus(t *testing.T) {
	a, srv := newAPI(t)
	r := NewRest(srv.URL, time.Second, &a.w)
	assert.Nil(t, r.Authenticate())

	res, err := r.Execute(payment.PaymentBatch{})
	assert.Nil(t, err)
	assert.Equal(t, "b-1", res.BatchID)

	s, err := r.Status("b-1")
	assert.Nil(t, err)
	assert.Equal(t, orchestrator.StateCreating, s.State)
}

func TestEvents(t *testing.T) {
	a, srv := newAPI(t)
	r := NewRest(srv.URL, time.Second, &a.w)
	assert.Nil(t, r.Authenticate())

	var got []server.Message
	err := r.Events(context.Background(), "b-1", func(m server.Message) { got = append(got, m) })
	assert.Nil(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, server.CommandStatus, got[0].Command)
	assert.Equal(t, "batch settled", got[1].Event.Detail)
}

func TestSignRequestWaitsUntilParked(t *testing.T) {
	a, srv := newAPI(t)
	r := NewRest(srv.URL, time.Second, &a.w)
	assert.Nil(t, r.Authenticate())

	assert.Nil(t, r.SignRequest(context.Background(), "b-1", "r-1"))
	tx := <-a.signed
	assert.Nil(t, tx.VerifySignature(a.w.Address()))
	assert.False(t, tx.IsSignedBy(address.FromSeed("fee payer")))
	assert.GreaterOrEqual(t, a.polls.Load(), int32(2))
}

func TestSignRequestNotPending(t *testing.T) {
	a, srv := newAPI(t)
	r := NewRest(srv.URL, 100*time.Millisecond, &a.w)
	assert.Nil(t, r.Authenticate())

	err := r.SignRequest(context.Background(), "b-1", "r-404")
	assert.ErrorIs(t, err, ErrRequestNotPending)
}
