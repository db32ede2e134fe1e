package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// Outcome is the state of a single target's delivery.
type Outcome int

const (
	Pending Outcome = iota
	Success
	Rejected
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Rejected:
		return "rejected"
	case Exhausted:
		return "exhausted"
	default:
		return "pending"
	}
}

// Attempt is the per-target retry state. It is owned by one goroutine and
// returned by value.
type Attempt struct {
	Count   int
	Outcome Outcome
	LastErr error
}

// SendFunc performs one provider call for an already built payload.
type SendFunc func(ctx context.Context) error

// ExecutorConfig holds the retry policy.
type ExecutorConfig struct {
	// MaxRetries is the number of attempts allowed after the first one.
	MaxRetries int
	// Backoff is the delay before the first retry, doubled for each further
	// retry. Zero retries immediately.
	Backoff time.Duration
	// Timeout bounds each individual attempt. Zero leaves attempts unbounded.
	Timeout time.Duration
}

// Executor drives the Pending -> {Success, Rejected, Exhausted} state machine.
// It holds no per-target state and is safe for concurrent use.
type Executor struct {
	cfg ExecutorConfig
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Executor{cfg: cfg}
}

func (e *Executor) newBackOff() backoff.BackOff {
	if e.cfg.Backoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.Backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run calls send until it succeeds, fails fatally or the retry budget is
// spent. Each attempt runs on a context detached from ctx so a cancelled
// request never tears down a call already in flight; ctx only stops new
// attempts from starting.
func (e *Executor) Run(ctx context.Context, logger *slog.Logger, send SendFunc) Attempt {
	state := Attempt{Outcome: Pending}
	b := e.newBackOff()

	for {
		if err := ctx.Err(); err != nil {
			if state.LastErr == nil {
				state.LastErr = err
			}
			state.Outcome = Exhausted
			logger.Info("Request cancelled before delivery completed", "attempts", state.Count, "err", state.LastErr)
			return state
		}

		err := e.attempt(ctx, send)
		state.Count++
		state.LastErr = err

		switch {
		case err == nil:
			state.Outcome = Success
			return state
		case errors.Is(err, dispatch.ErrTokenRejected):
			state.Outcome = Rejected
			logger.Info("Provider rejected push key", "attempts", state.Count, "err", err)
			return state
		case errors.Is(err, dispatch.ErrTransient):
			logger.Debug("Transient provider failure", "attempt", state.Count, "err", err)
		default:
			logger.Error("Unclassified provider error, retrying as transient", "attempt", state.Count, "err", err)
		}

		if state.Count > e.cfg.MaxRetries {
			state.Outcome = Exhausted
			logger.Info("Retry budget exhausted", "attempts", state.Count, "err", err)
			return state
		}

		if !wait(ctx, b.NextBackOff()) {
			state.Outcome = Exhausted
			logger.Info("Request cancelled while waiting to retry", "attempts", state.Count, "err", err)
			return state
		}
	}
}

func (e *Executor) attempt(ctx context.Context, send SendFunc) error {
	attemptCtx := context.WithoutCancel(ctx)
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, e.cfg.Timeout)
		defer cancel()
	}
	return send(attemptCtx)
}

// wait sleeps for d unless ctx ends first. It reports whether the caller may
// continue.
func wait(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		return false
	}
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
