package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Settlementis/ledger"
	"github.com/bartossh/Settlementis/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const (
	ApiVersion = "1.0.0"
	Header     = "Settlementis-Ledger-Emulator"
)

const (
	AliveURL = "/alive" // URL to check if emulator is alive.
	RPCURL   = "/"      // URL of JSON-RPC endpoint.
)

var ErrWrongPortSpecified = errors.New("port must be between 1 and 65535")

type rpcServer struct {
	n   *Network
	log logger.Logger
}

// Run runs the JSON-RPC server of the network. It blocks until the context is canceled.
func Run(ctx context.Context, cfg Config, n *Network, log logger.Logger) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return ErrWrongPortSpecified
	}
	ctxx, cancel := context.WithCancel(ctx)
	defer cancel()

	router := App(n, log)

	var err error
	go func() {
		if errx := router.Listen(fmt.Sprintf("0.0.0.0:%v", cfg.Port)); errx != nil {
			log.Error(fmt.Sprintf("emulator listen failed, %s", errx))
			cancel()
		}
	}()

	<-ctxx.Done()
	if errx := router.Shutdown(); errx != nil {
		err = errx
	}
	return err
}

// App creates fiber application serving JSON-RPC requests on the network.
func App(n *Network, log logger.Logger) *fiber.App {
	s := &rpcServer{n: n, log: log}
	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   time.Second * 5,
		WriteTimeout:  time.Second * 5,
		ServerHeader:  Header,
		AppName:       ApiVersion,
		Concurrency:   4096,
	})
	router.Use(recover.New())
	router.Get(AliveURL, s.alive)
	router.Post(RPCURL, s.rpc)
	return router
}

func (s *rpcServer) alive(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"alive": true, "api_version": ApiVersion, "api_header": Header})
}

func (s *rpcServer) rpc(c *fiber.Ctx) error {
	var req ledger.Request
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.JSON(failure(0, errors.Join(ledger.ErrInvalidRequest, err)))
	}
	ctx := c.Context()

	var result any
	var err error
	switch req.Method {
	case ledger.MethodResolveAccount:
		var p ledger.AccountParams
		if err = decode(req.Params, &p); err == nil {
			result, err = s.n.ResolveAccount(ctx, p.Address)
		}
	case ledger.MethodGetSequenceCounter:
		var p ledger.AccountParams
		if err = decode(req.Params, &p); err == nil {
			var idx uint64
			idx, err = s.n.GetSequenceCounter(ctx, p.Address)
			result = ledger.SequenceResult{TransactionIndex: idx}
		}
	case ledger.MethodGetRecentBlockhash:
		var h [32]byte
		h, err = s.n.GetRecentBlockhash(ctx)
		result = ledger.BlockhashResult{Blockhash: h}
	case ledger.MethodSubmitTransaction:
		var p ledger.SubmitParams
		if err = decode(req.Params, &p); err == nil {
			var id string
			id, err = s.n.Submit(ctx, p.Transaction)
			result = ledger.SubmitResult{SubmissionID: id}
		}
	case ledger.MethodGetStatus:
		var p ledger.StatusParams
		if err = decode(req.Params, &p); err == nil {
			result, err = s.n.GetStatus(ctx, p.SubmissionID)
		}
	default:
		err = errors.Join(ledger.ErrMethodNotSupported, fmt.Errorf("method %q", req.Method))
	}
	if err != nil {
		s.log.Debug(fmt.Sprintf("emulator %s failed, %s", req.Method, err))
		return c.JSON(failure(req.ID, err))
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return c.JSON(failure(req.ID, err))
	}
	return c.JSON(ledger.Response{JSONRPC: ledger.Version, ID: req.ID, Result: raw})
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(ledger.ErrInvalidRequest, err)
	}
	return nil
}

func failure(id uint64, err error) ledger.Response {
	return ledger.Response{
		JSONRPC: ledger.Version,
		ID:      id,
		Error:   &ledger.RPCError{Code: ledger.CodeFromError(err), Message: err.Error()},
	}
}
