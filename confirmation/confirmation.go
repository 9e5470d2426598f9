package confirmation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Settlementis/ledger"
	"github.com/bartossh/Settlementis/logger"
)

const (
	defaultMaxPolls       = 10
	defaultTimeoutSeconds = 60
)

var (
	ErrTimeout        = errors.New("transaction confirmation timed out")
	ErrOnChainFailure = errors.New("transaction failed on chain")
)

// StatusReader reads finality status of a submission.
type StatusReader interface {
	GetStatus(ctx context.Context, id string) (ledger.StatusReport, error)
}

// Config contains confirmation polling configuration.
type Config struct {
	MaxPolls       int `yaml:"max_polls"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
	IntervalMillis int `yaml:"interval_millis"` // when zero the timeout divided by max polls is used
}

// Outcome is the last observed state of the submission.
type Outcome struct {
	SubmissionID string
	Status       ledger.Status
	Error        string
	Polls        int
	Elapsed      time.Duration
}

// Engine polls the ledger until the submission reaches a terminal status,
// the poll count is used up or the time budget elapses.
type Engine struct {
	r        StatusReader
	maxPolls int
	timeout  time.Duration
	interval time.Duration
	log      logger.Logger
}

// New creates new confirmation Engine.
func New(cfg Config, r StatusReader, log logger.Logger) *Engine {
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}
	interval := time.Duration(cfg.IntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = timeout / time.Duration(maxPolls)
	}
	return &Engine{r: r, maxPolls: maxPolls, timeout: timeout, interval: interval, log: log}
}

// Await polls the submission status. Returns ErrOnChainFailure when the ledger reports failed execution
// and ErrTimeout when no terminal status was read within the budget or the context is done.
// A timeout says nothing about whether the transaction landed, re-check it with Check.
func (e *Engine) Await(ctx context.Context, id string) (Outcome, error) {
	start := time.Now()
	budget, cancel := context.WithDeadline(ctx, start.Add(e.timeout))
	defer cancel()
	out := Outcome{SubmissionID: id, Status: ledger.StatusPending}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

polling:
	for out.Polls < e.maxPolls {
		out.Polls++
		err := e.read(budget, &out)
		out.Elapsed = time.Since(start)
		switch {
		case errors.Is(err, ErrOnChainFailure):
			return out, err
		case err != nil:
			e.log.Debug(fmt.Sprintf("status read %d of submission %s failed, %s", out.Polls, id, err))
		case out.Status == ledger.StatusSuccess:
			e.log.Info(fmt.Sprintf("submission %s confirmed after %d poll(s) in %s", id, out.Polls, out.Elapsed))
			return out, nil
		}
		if out.Polls == e.maxPolls {
			break
		}

		select {
		case <-budget.Done():
			if ctx.Err() != nil {
				e.log.Warn(fmt.Sprintf("awaiting submission %s stopped, %s", id, ctx.Err()))
				return out, errors.Join(ErrTimeout, ctx.Err())
			}
			break polling
		case <-ticker.C:
		}
	}

	out.Elapsed = time.Since(start)
	e.log.Warn(fmt.Sprintf("submission %s not confirmed after %d poll(s) in %s", id, out.Polls, out.Elapsed))
	return out, ErrTimeout
}

// Check performs a single status read. It is meant for callers re-checking a timed out submission.
func (e *Engine) Check(ctx context.Context, id string) (Outcome, error) {
	out := Outcome{SubmissionID: id, Status: ledger.StatusPending, Polls: 1}
	start := time.Now()
	err := e.read(ctx, &out)
	out.Elapsed = time.Since(start)
	if errors.Is(err, ledger.ErrTransient) {
		return out, nil
	}
	return out, err
}

// read updates the outcome with the status read. Outcome stays pending when the read fails.
func (e *Engine) read(ctx context.Context, out *Outcome) error {
	rep, err := e.r.GetStatus(ctx, out.SubmissionID)
	if err != nil {
		return err
	}
	out.Status = rep.Status
	out.Error = rep.Error
	if rep.Status == ledger.StatusFailed {
		e.log.Error(fmt.Sprintf("submission %s failed on chain, %s", out.SubmissionID, rep.Error))
		return errors.Join(ErrOnChainFailure, errors.New(rep.Error))
	}
	return nil
}
