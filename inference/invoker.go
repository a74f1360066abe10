// Package inference submits a prompt to a local text-generation endpoint and
// bounds how long the caller waits for it.
package inference

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultBudget       = 45 * time.Second
	DefaultPollInterval = time.Second
)

// Generator performs one generation request.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Options tunes an Invoker. Zero values fall back to the defaults.
type Options struct {
	Budget       time.Duration
	PollInterval time.Duration
	// OnTick is called from the caller's goroutine once per poll interval
	// while the worker is still running.
	OnTick func(elapsed time.Duration)
}

// Invoker races one Generate call against a wall-clock budget.
type Invoker struct {
	gen      Generator
	budget   time.Duration
	interval time.Duration
	onTick   func(time.Duration)
	logger   *slog.Logger
	// after supplies the deadline channel. Tests replace it.
	after func(time.Duration) <-chan time.Time
}

type result struct {
	text string
	err  error
}

// NewInvoker returns an Invoker around gen. A nil logger disables logging.
func NewInvoker(gen Generator, opts Options, logger *slog.Logger) *Invoker {
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Invoker{
		gen:      gen,
		budget:   opts.Budget,
		interval: opts.PollInterval,
		onTick:   opts.OnTick,
		logger:   logger,
		after:    time.After,
	}
}

// Budget returns the configured wall-clock budget.
func (inv *Invoker) Budget() time.Duration {
	return inv.budget
}

// Invoke issues exactly one request and returns when it completes or when the
// budget is spent, whichever comes first. It never returns an error: every
// problem is reported as a Failure or Timeout outcome.
//
// On timeout the worker's request context is cancelled but the worker is not
// waited for. Its result, if it ever produces one, is dropped.
func (inv *Invoker) Invoke(ctx context.Context, prompt, model string) Outcome {
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Capacity 1: the worker's single send never blocks, even once nobody
	// is listening.
	results := make(chan result, 1)
	go func() {
		text, err := inv.gen.Generate(workerCtx, model, prompt)
		results <- result{text: text, err: err}
	}()

	started := time.Now()
	deadline := inv.after(inv.budget)
	ticker := time.NewTicker(inv.interval)
	defer ticker.Stop()

	if inv.logger != nil {
		inv.logger.Debug("inference started", "model", model, "budget", inv.budget, "promptChars", len(prompt))
	}

	for {
		select {
		case r := <-results:
			return inv.finish(model, r, started)
		case <-deadline:
			// A result that landed in the same tick wins over the timeout.
			select {
			case r := <-results:
				return inv.finish(model, r, started)
			default:
			}
			if inv.logger != nil {
				inv.logger.Warn("inference budget exceeded, abandoning request", "model", model, "budget", inv.budget)
			}
			return Timeout(model, inv.budget)
		case <-ticker.C:
			if inv.onTick != nil {
				inv.onTick(time.Since(started))
			}
		case <-ctx.Done():
			return Failure(ctx.Err().Error())
		}
	}
}

func (inv *Invoker) finish(model string, r result, started time.Time) Outcome {
	elapsed := time.Since(started)
	if r.err != nil {
		if inv.logger != nil {
			inv.logger.Error("inference failed", "model", model, "elapsed", elapsed, "err", r.err)
		}
		return Failure(r.err.Error())
	}
	if inv.logger != nil {
		inv.logger.Info("inference completed", "model", model, "elapsed", elapsed, "chars", len(r.text))
	}
	return Success(r.text)
}
