package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/audit"
	"github.com/bartossh/Settlementis/confirmation"
	"github.com/bartossh/Settlementis/logger"
	"github.com/bartossh/Settlementis/orchestrator"
	"github.com/bartossh/Settlementis/payment"
	"github.com/bartossh/Settlementis/reactive"
	"github.com/bartossh/Settlementis/transaction"
	"github.com/bartossh/Settlementis/walletbridge"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

const (
	ApiVersion = "1.0.0"
	Header     = "Settlementis"
)

const (
	authGroupURL        = "/auth"
	batchesGroupURL     = "/batches"
	submissionsGroupURL = "/submissions"
	recordsGroupURL     = "/records"
	dataURL             = "/data"
	batchURL            = "/:id"
	cancelURL           = "/:id/cancel"
	wsURL               = "/:id/ws"
	signaturesURL       = "/:id/signatures"
	signatureURL        = "/:id/signatures/:request"
	rejectURL           = "/:id/signatures/:request/reject"
)

const (
	AliveURL       = "/alive"                        // URL to check if server is alive and version.
	DataToSignURL  = authGroupURL + dataURL          // URL to get data to sign to prove the approver identity.
	BatchesURL     = batchesGroupURL                 // URL to execute the payment batch.
	BatchURL       = batchesGroupURL + batchURL      // URL to read the batch run status.
	CancelBatchURL = batchesGroupURL + cancelURL     // URL to cancel the batch run.
	BatchEventsURL = batchesGroupURL + wsURL         // URL to stream the batch run events over websocket.
	SignaturesURL  = batchesGroupURL + signaturesURL // URL to list sign requests awaiting the approver wallet.
	SignatureURL   = batchesGroupURL + signatureURL  // URL to post the signed transaction of the sign request.
	RejectURL      = batchesGroupURL + rejectURL     // URL to reject the sign request.
	SubmissionURL  = submissionsGroupURL + "/:id"    // URL to re-check the submission status.
	RecordURL      = recordsGroupURL + "/:id"        // URL to read and verify the audit record.
)

const (
	defaultBodyLimit = 4 * 1024 * 1024
	addressLocal     = "address"
)

var (
	ErrWrongPortSpecified = errors.New("port must be between 1 and 65535")
	ErrWrongMessageSize   = errors.New("body limit must be between 1024 and 15000000")
	ErrMissingService     = errors.New("server requires executor, signature broker and authenticator")
)

// BatchExecutor executes batches and looks up the runs.
type BatchExecutor interface {
	Execute(ctx context.Context, batch *payment.PaymentBatch) (*orchestrator.Run, error)
	Lookup(batchID string) (*orchestrator.Run, bool)
}

// SignatureBroker exposes sign requests that await the approver wallet.
type SignatureBroker interface {
	Pending(batchID string) []walletbridge.Request
	Resolve(id string, signed transaction.Transaction) error
	Reject(id string) error
}

// Authenticator provides data to sign and verifies the signed data.
type Authenticator interface {
	ProvideData(addr address.Address) ([]byte, error)
	Authenticate(addr address.Address, raw, signature []byte, hash [32]byte) error
}

// SubmissionChecker performs a single status check of the submission.
type SubmissionChecker interface {
	Check(ctx context.Context, id string) (confirmation.Outcome, error)
}

// RecordReader reads audit records.
type RecordReader interface {
	Get(ctx context.Context, id string) (audit.Record, error)
}

// EventSubscriberProvider provides subscription to the events of all batch runs.
type EventSubscriberProvider interface {
	Subscribe() *reactive.Subscriber[orchestrator.Event]
}

// Services are the collaborators of the server. Checker, Records and Events are optional,
// routes using a missing service respond with 501.
type Services struct {
	Executor      BatchExecutor
	Signatures    SignatureBroker
	Authenticator Authenticator
	Checker       SubmissionChecker
	Records       RecordReader
	Events        EventSubscriberProvider
}

// Config contains configuration of the server.
type Config struct {
	Port           int `yaml:"port"`             // Port to listen on.
	BodyLimitBytes int `yaml:"body_limit_bytes"` // Maximum size of the request body.
}

type server struct {
	ctx context.Context
	srv Services
	log logger.Logger
}

// Run initializes routing and runs the server. To stop the server cancel the context.
// It blocks until the context is canceled.
func Run(ctx context.Context, c Config, srv Services, log logger.Logger) error {
	var err error
	ctxx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateConfig(&c); err != nil {
		return err
	}

	router, err := newRouter(ctxx, c, srv, log)
	if err != nil {
		return err
	}

	go func() {
		err := router.Listen(fmt.Sprintf("0.0.0.0:%v", c.Port))
		if err != nil {
			log.Error(fmt.Sprintf("server listen failed: %s", err))
			cancel()
		}
	}()

	<-ctxx.Done()

	if errx := router.Shutdown(); errx != nil {
		err = errors.Join(err, errx)
	}

	return err
}

func validateConfig(c *Config) error {
	if c.Port <= 0 || c.Port > 65535 {
		return ErrWrongPortSpecified
	}
	if c.BodyLimitBytes == 0 {
		c.BodyLimitBytes = defaultBodyLimit
	}
	if c.BodyLimitBytes < 1024 || c.BodyLimitBytes > 15000000 {
		return ErrWrongMessageSize
	}
	return nil
}

func newRouter(ctx context.Context, c Config, srv Services, log logger.Logger) (*fiber.App, error) {
	if srv.Executor == nil || srv.Signatures == nil || srv.Authenticator == nil {
		return nil, ErrMissingService
	}
	s := &server{
		ctx: ctx,
		srv: srv,
		log: log,
	}

	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   time.Second * 5,
		WriteTimeout:  time.Second * 5,
		ServerHeader:  Header,
		AppName:       ApiVersion,
		Concurrency:   4096,
		BodyLimit:     c.BodyLimitBytes,
	})
	router.Use(recover.New())

	router.Get(AliveURL, s.alive)

	auth := router.Group(authGroupURL)
	auth.Post(dataURL, s.data)

	batches := router.Group(batchesGroupURL, s.authenticate)
	batches.Post("", s.execute)
	batches.Get(batchURL, s.status)
	batches.Post(cancelURL, s.cancel)
	batches.Get(signaturesURL, s.pending)
	batches.Post(signatureURL, s.resolve)
	batches.Post(rejectURL, s.reject)
	batches.Get(wsURL, s.upgrade, websocket.New(s.serveEvents))

	submissions := router.Group(submissionsGroupURL, s.authenticate)
	submissions.Get("/:id", s.submission)

	records := router.Group(recordsGroupURL, s.authenticate)
	records.Get("/:id", s.record)

	return router, nil
}
