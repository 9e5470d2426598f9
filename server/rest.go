package server

import (
	"errors"
	"fmt"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/audit"
	"github.com/bartossh/Settlementis/confirmation"
	"github.com/bartossh/Settlementis/ledger"
	"github.com/bartossh/Settlementis/orchestrator"
	"github.com/bartossh/Settlementis/payment"
	"github.com/bartossh/Settlementis/transaction"
	"github.com/bartossh/Settlementis/walletbridge"
	"github.com/gofiber/fiber/v2"
)

// AliveResponse is a response for alive and version check.
type AliveResponse struct {
	Alive      bool   `json:"alive"`
	APIVersion string `json:"api_version"`
	APIHeader  string `json:"api_header"`
}

func (s *server) alive(c *fiber.Ctx) error {
	return c.JSON(
		AliveResponse{
			Alive:      true,
			APIVersion: ApiVersion,
			APIHeader:  Header,
		})
}

// DataToSignRequest is a request to get data to sign for proving identity.
type DataToSignRequest struct {
	Address address.Address `json:"address"`
}

// DataToSignResponse is a response containing data to sign for proving identity.
type DataToSignResponse struct {
	Data []byte `json:"message"`
}

func (s *server) data(c *fiber.Ctx) error {
	var req DataToSignRequest
	if err := c.BodyParser(&req); err != nil || req.Address.IsZero() {
		return fiber.ErrBadRequest
	}
	d, err := s.srv.Authenticator.ProvideData(req.Address)
	if err != nil {
		s.log.Error(fmt.Sprintf("server, cannot provide data: %s", err))
		return fiber.ErrInternalServerError
	}
	return c.JSON(DataToSignResponse{Data: d})
}

// ExecuteResponse is a response for the accepted batch.
type ExecuteResponse struct {
	BatchID string             `json:"batch_id"`
	State   orchestrator.State `json:"state"`
}

func (s *server) execute(c *fiber.Ctx) error {
	var batch payment.PaymentBatch
	if err := c.BodyParser(&batch); err != nil {
		s.log.Info(fmt.Sprintf("server, cannot parse batch from %s: %s", c.IP(), err))
		return fiber.ErrBadRequest
	}
	if batch.Approver != caller(c) {
		s.log.Warn(fmt.Sprintf("server, address %s tried to execute batch of approver %s", caller(c), batch.Approver))
		return fiber.ErrForbidden
	}

	run, err := s.srv.Executor.Execute(s.ctx, &batch)
	switch {
	case errors.Is(err, orchestrator.ErrBatchRunning), errors.Is(err, orchestrator.ErrBatchExists):
		s.log.Warn(fmt.Sprintf("server, batch %s refused: %s", batch.ID, err))
		return fiber.ErrConflict
	case err != nil:
		s.log.Error(fmt.Sprintf("server, cannot execute batch %s: %s", batch.ID, err))
		return fiber.ErrInternalServerError
	}
	s.log.Info(fmt.Sprintf("server, batch %s with %d invoice(s) accepted", run.BatchID(), len(batch.Invoices)))

	return c.Status(fiber.StatusCreated).JSON(ExecuteResponse{BatchID: run.BatchID(), State: run.State()})
}

func (s *server) status(c *fiber.Ctx) error {
	run, err := s.authorize(c)
	if err != nil {
		return err
	}
	return c.JSON(run.Status())
}

func (s *server) cancel(c *fiber.Ctx) error {
	run, err := s.authorize(c)
	if err != nil {
		return err
	}
	run.Cancel()
	s.log.Info(fmt.Sprintf("server, cancellation of batch %s requested", run.BatchID()))
	return c.Status(fiber.StatusAccepted).JSON(run.Status())
}

// PendingResponse lists sign requests awaiting the approver wallet.
type PendingResponse struct {
	Requests []walletbridge.Request `json:"requests"`
}

func (s *server) pending(c *fiber.Ctx) error {
	run, err := s.authorize(c)
	if err != nil {
		return err
	}
	return c.JSON(PendingResponse{Requests: s.srv.Signatures.Pending(run.BatchID())})
}

func (s *server) belongs(batchID, requestID string) bool {
	for _, r := range s.srv.Signatures.Pending(batchID) {
		if r.ID == requestID {
			return true
		}
	}
	return false
}

// SignatureResponse is a response for the resolved or rejected sign request.
type SignatureResponse struct {
	Success bool   `json:"success"`
	Request string `json:"request"`
}

func (s *server) resolve(c *fiber.Ctx) error {
	run, err := s.authorize(c)
	if err != nil {
		return err
	}
	id := c.Params("request")
	if !s.belongs(run.BatchID(), id) {
		return fiber.ErrNotFound
	}
	var signed transaction.Transaction
	if err := c.BodyParser(&signed); err != nil {
		return fiber.ErrBadRequest
	}

	err = s.srv.Signatures.Resolve(id, signed)
	switch {
	case errors.Is(err, walletbridge.ErrRequestNotFound):
		return fiber.ErrNotFound
	case errors.Is(err, walletbridge.ErrMessageTampered), errors.Is(err, walletbridge.ErrNotSigned):
		s.log.Warn(fmt.Sprintf("server, sign request %s of batch %s refused: %s", id, run.BatchID(), err))
		return fiber.ErrUnprocessableEntity
	case err != nil:
		return fiber.ErrInternalServerError
	}
	return c.JSON(SignatureResponse{Success: true, Request: id})
}

func (s *server) reject(c *fiber.Ctx) error {
	run, err := s.authorize(c)
	if err != nil {
		return err
	}
	id := c.Params("request")
	if !s.belongs(run.BatchID(), id) {
		return fiber.ErrNotFound
	}
	if err := s.srv.Signatures.Reject(id); err != nil {
		return fiber.ErrNotFound
	}
	return c.JSON(SignatureResponse{Success: true, Request: id})
}

// SubmissionResponse is the single status check result of the submission.
type SubmissionResponse struct {
	SubmissionID string        `json:"submission_id"`
	Status       ledger.Status `json:"status"`
	Error        string        `json:"error,omitempty"`
}

func (s *server) submission(c *fiber.Ctx) error {
	if s.srv.Checker == nil {
		return fiber.ErrNotImplemented
	}
	id := c.Params("id")
	out, err := s.srv.Checker.Check(c.Context(), id)
	if err != nil && !errors.Is(err, confirmation.ErrOnChainFailure) {
		s.log.Error(fmt.Sprintf("server, status check of submission %s failed: %s", id, err))
		return fiber.ErrBadGateway
	}
	return c.JSON(SubmissionResponse{SubmissionID: out.SubmissionID, Status: out.Status, Error: out.Error})
}

// RecordResponse is the audit record with its verification result.
type RecordResponse struct {
	Record   audit.Record `json:"record"`
	Verified bool         `json:"verified"`
	Error    string       `json:"error,omitempty"`
}

func (s *server) record(c *fiber.Ctx) error {
	if s.srv.Records == nil {
		return fiber.ErrNotImplemented
	}
	r, err := s.srv.Records.Get(c.Context(), c.Params("id"))
	switch {
	case errors.Is(err, audit.ErrRecordNotFound):
		return fiber.ErrNotFound
	case err != nil:
		s.log.Error(fmt.Sprintf("server, cannot read record %s: %s", c.Params("id"), err))
		return fiber.ErrInternalServerError
	}
	res := RecordResponse{Record: r, Verified: true}
	if err := audit.VerifyRecord(&r); err != nil {
		res.Verified = false
		res.Error = err.Error()
	}
	return c.JSON(res)
}
