package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mail-digest/config"
	"github.com/dhcgn/mail-digest/inference"
	"github.com/dhcgn/mail-digest/model"
	"github.com/dhcgn/mail-digest/prompt"
	"github.com/dhcgn/mail-digest/stats"
	"github.com/dhcgn/mail-digest/summary"
)

// Source yields the most recent email records, newest first. It reports its
// own failures through logs and stats and returns an empty slice instead.
type Source interface {
	Fetch(ctx context.Context, limit int, filter model.Filter) []model.EmailRecord
}

// Invoker runs one bounded model call.
type Invoker interface {
	Invoke(ctx context.Context, prompt, model string) inference.Outcome
}

// Indicator is shown while the model is working.
type Indicator interface {
	Start()
	Stop()
}

// Components are the collaborators a Runner drives.
type Components struct {
	Source  Source
	Invoker Invoker
	// Stats is optional; a fresh collector is used when nil.
	Stats *stats.Collector
	// Progress is optional.
	Progress Indicator
	// Out receives the report. Defaults to os.Stdout.
	Out io.Writer
}

// Runner produces one console report per Run from its Source and Invoker.
type Runner struct {
	cfg      config.Config
	logger   *slog.Logger
	source   Source
	invoker  Invoker
	stats    *stats.Collector
	progress Indicator

	section *pterm.SectionPrinter
	info    *pterm.PrefixPrinter
	success *pterm.PrefixPrinter
	text    *pterm.BasicTextPrinter
}

// New validates the components and fills in defaults for the optional ones.
func New(cfg config.Config, c Components, logger *slog.Logger) (*Runner, error) {
	if c.Source == nil {
		return nil, errors.New("runner: nil source")
	}
	if c.Invoker == nil {
		return nil, errors.New("runner: nil invoker")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Stats == nil {
		c.Stats = stats.NewCollector()
	}
	if c.Progress == nil {
		c.Progress = noIndicator{}
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}

	return &Runner{
		cfg:      cfg,
		logger:   logger,
		source:   c.Source,
		invoker:  c.Invoker,
		stats:    c.Stats,
		progress: c.Progress,
		section:  pterm.DefaultSection.WithWriter(c.Out),
		info:     pterm.Info.WithWriter(c.Out),
		success:  pterm.Success.WithWriter(c.Out),
		text:     pterm.DefaultBasicText.WithWriter(c.Out),
	}, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

// Stats returns the counters collected so far.
func (r *Runner) Stats() stats.Summary {
	return r.stats.Snapshot()
}

// Run produces one report. Mailbox and inference problems are part of the
// report, so it only returns an error when ctx is cancelled before the run
// could start.
func (r *Runner) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	since := time.Now()

	r.section.Println("Mail digest")
	r.info.Printfln("Emails requested: %d", r.cfg.Limit)
	if r.cfg.NoAI {
		r.info.Println("Model: none (plain summary)")
	} else {
		r.info.Printfln("Model: %s", r.cfg.Model)
	}
	r.info.Printfln("Filter: %s", r.cfg.Filter)

	records := r.source.Fetch(ctx, r.cfg.Limit, r.cfg.Filter)
	r.logger.Debug("records fetched", "count", len(records))

	if len(records) == 0 {
		r.text.Println("No emails retrieved with these settings.")
	} else {
		r.printListing(records)
	}

	if r.cfg.NoAI {
		r.section.Println("Automatic report")
		r.text.Println(summary.Render(records))
		r.stats.Record(stats.Event{Stage: stats.StageInference, Type: stats.EventTypeSkipped})
		r.logCompleted(since)
		return nil
	}

	r.section.Println("AI report (local)")

	persona := prompt.Persona{Name: r.cfg.Persona, FormalName: r.cfg.PersonaFormal}
	text := prompt.Build(records, persona)
	r.logger.Debug("prompt built", "records", len(records), "bytes", len(text))

	outcome := r.invoke(ctx, text)
	r.text.Println(outcome.Message())

	if outcome.Kind == inference.KindSuccess {
		r.success.Println("Emails read, filter applied and report generated.")
	}

	r.logCompleted(since)
	return nil
}

func (r *Runner) logCompleted(since time.Time) {
	snapshot := r.stats.Snapshot()
	r.logger.Info("pipeline completed", append(snapshot.LogAttrs(), "duration", time.Since(since))...)
}

func (r *Runner) printListing(records []model.EmailRecord) {
	r.section.Println("Latest emails (filtered)")
	for i, record := range records {
		r.text.Printfln("\n--- Email #%d ---", i+1)
		r.text.Printfln("From    : %s", record.Sender)
		r.text.Printfln("Subject : %s", record.Subject)
		r.text.Printfln("Date    : %s", record.Date)
	}
}

func (r *Runner) invoke(ctx context.Context, text string) inference.Outcome {
	r.logger.Info("calling model", "model", r.cfg.Model)

	r.progress.Start()
	outcome := r.invoker.Invoke(ctx, text, r.cfg.Model)
	r.progress.Stop()

	evt := stats.Event{Stage: stats.StageInference}
	switch outcome.Kind {
	case inference.KindSuccess:
		evt.Type = stats.EventTypeSuccess
	case inference.KindTimeout:
		evt.Type = stats.EventTypeTimeout
	default:
		evt.Type = stats.EventTypeFailure
		evt.Err = errors.New(outcome.Reason)
	}
	r.stats.Record(evt)
	return outcome
}

type noIndicator struct{}

func (noIndicator) Start() {}
func (noIndicator) Stop()  {}
