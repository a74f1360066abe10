package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-digest/config"
	"github.com/dhcgn/mail-digest/inference"
	"github.com/dhcgn/mail-digest/model"
	"github.com/dhcgn/mail-digest/prompt"
	"github.com/dhcgn/mail-digest/stats"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

type fakeSource struct {
	records []model.EmailRecord
	limit   int
	filter  model.Filter
}

func (f *fakeSource) Fetch(_ context.Context, limit int, filter model.Filter) []model.EmailRecord {
	f.limit = limit
	f.filter = filter
	return f.records
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
	block   bool
}

func (g *fakeGenerator) Generate(ctx context.Context, _ string, p string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.mu.Unlock()
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.reply, g.err
}

func (g *fakeGenerator) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type countingIndicator struct {
	starts, stops int
}

func (c *countingIndicator) Start() { c.starts++ }
func (c *countingIndicator) Stop()  { c.stops++ }

func testConfig() config.Config {
	return config.Config{
		Limit:         3,
		Filter:        model.FilterUnread,
		Model:         "qwen2.5",
		Timeout:       45,
		Persona:       "Alex",
		PersonaFormal: "Alexandre",
	}
}

func newRunner(t *testing.T, src Source, gen inference.Generator, budget time.Duration) (*Runner, *bytes.Buffer, *countingIndicator) {
	t.Helper()
	var out bytes.Buffer
	indicator := &countingIndicator{}
	inv := inference.NewInvoker(gen, inference.Options{Budget: budget, PollInterval: 10 * time.Millisecond}, nil)
	r, err := New(testConfig(), Components{
		Source:   src,
		Invoker:  inv,
		Progress: indicator,
		Out:      &out,
	}, nil)
	require.NoError(t, err)
	return r, &out, indicator
}

func TestRunWithRecords(t *testing.T) {
	src := &fakeSource{records: []model.EmailRecord{
		{ID: "9", Sender: "Bank <alerts@bank.example>", Subject: "New sign-in", Date: "Tue, 3 Jun 2025 08:00:00 +0000"},
		{ID: "8", Sender: "newsletter@shop.example", Subject: "50% off"},
	}}
	gen := &fakeGenerator{reply: "1) EMAIL RECAP\n..."}
	r, out, indicator := newRunner(t, src, gen, time.Second)

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 3, src.limit)
	assert.Equal(t, model.FilterUnread, src.filter)

	text := out.String()
	assert.Contains(t, text, "Emails requested: 3")
	assert.Contains(t, text, "Model: qwen2.5")
	assert.Contains(t, text, "Filter: unread")
	assert.Contains(t, text, "--- Email #1 ---")
	assert.Contains(t, text, "From    : Bank <alerts@bank.example>")
	assert.Contains(t, text, "--- Email #2 ---")
	assert.Contains(t, text, "Subject : 50% off")
	assert.Contains(t, text, "AI report (local)")
	assert.Contains(t, text, "1) EMAIL RECAP")
	assert.NotContains(t, text, "No emails retrieved")

	prompts := gen.calls()
	require.Len(t, prompts, 1)
	assert.Equal(t, prompt.Build(src.records, prompt.Persona{Name: "Alex", FormalName: "Alexandre"}), prompts[0])

	assert.Equal(t, 1, indicator.starts)
	assert.Equal(t, 1, indicator.stops)
	assert.Equal(t, stats.EventTypeSuccess, r.Stats().Outcome)
}

func TestRunWithoutRecordsStillInvokesModel(t *testing.T) {
	src := &fakeSource{}
	gen := &fakeGenerator{reply: "No emails to analyze."}
	r, out, _ := newRunner(t, src, gen, time.Second)

	require.NoError(t, r.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "No emails retrieved with these settings.")
	assert.NotContains(t, text, "--- Email #")
	assert.Contains(t, text, "No emails to analyze.")

	prompts := gen.calls()
	require.Len(t, prompts, 1)
	assert.Equal(t, prompt.Empty(prompt.Persona{Name: "Alex"}), prompts[0])
}

func TestRunTimeoutIsReported(t *testing.T) {
	src := &fakeSource{records: []model.EmailRecord{{ID: "1", Subject: "hi"}}}
	gen := &fakeGenerator{block: true}
	r, out, indicator := newRunner(t, src, gen, 50*time.Millisecond)

	require.NoError(t, r.Run(context.Background()))

	assert.Contains(t, out.String(), "[AI ERROR] Model 'qwen2.5' did not respond within")
	assert.Contains(t, out.String(), "Tip: try again with fewer emails")
	assert.NotContains(t, out.String(), "report generated")
	assert.Equal(t, 1, indicator.stops)
	assert.Equal(t, stats.EventTypeTimeout, r.Stats().Outcome)
}

func TestRunFailureIsReported(t *testing.T) {
	src := &fakeSource{records: []model.EmailRecord{{ID: "1", Subject: "hi"}}}
	gen := &fakeGenerator{err: errors.New("connection refused")}
	r, out, _ := newRunner(t, src, gen, time.Second)

	require.NoError(t, r.Run(context.Background()))

	assert.Contains(t, out.String(), "[AI ERROR] connection refused")
	summary := r.Stats()
	assert.Equal(t, stats.EventTypeFailure, summary.Outcome)
	require.Error(t, summary.LastError)
	assert.Equal(t, "connection refused", summary.LastError.Error())
}

func TestRunCancelledContext(t *testing.T) {
	src := &fakeSource{}
	gen := &fakeGenerator{}
	r, out, _ := newRunner(t, src, gen, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Empty(t, out.String())
	assert.Empty(t, gen.calls())
}

func TestNewRequiresCollaborators(t *testing.T) {
	inv := inference.NewInvoker(&fakeGenerator{}, inference.Options{}, nil)

	_, err := New(testConfig(), Components{Invoker: inv}, nil)
	assert.Error(t, err)

	_, err = New(testConfig(), Components{Source: &fakeSource{}}, nil)
	assert.Error(t, err)

	r, err := New(testConfig(), Components{Source: &fakeSource{}, Invoker: inv}, nil)
	require.NoError(t, err)
	assert.Equal(t, testConfig(), r.Config())
}

func TestRunWithoutModel(t *testing.T) {
	src := &fakeSource{records: []model.EmailRecord{
		{ID: "2", Sender: "bank@example.org", Subject: "Statement", Date: "Tue, 3 Jun 2025"},
		{ID: "1", Sender: "bank@example.org", Subject: "Welcome", Date: "Mon, 2 Jun 2025"},
	}}
	gen := &fakeGenerator{reply: "unused"}
	var out bytes.Buffer
	indicator := &countingIndicator{}
	cfg := testConfig()
	cfg.NoAI = true

	r, err := New(cfg, Components{
		Source:   src,
		Invoker:  inference.NewInvoker(gen, inference.Options{}, nil),
		Progress: indicator,
		Out:      &out,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Model: none (plain summary)")
	assert.Contains(t, text, "--- Email #2 ---")
	assert.Contains(t, text, "Automatic report")
	assert.Contains(t, text, "bank@example.org : 2 email(s)")
	assert.Contains(t, text, "Period covered  : from Mon, 2 Jun 2025 to Tue, 3 Jun 2025")
	assert.NotContains(t, text, "AI report (local)")

	assert.Empty(t, gen.calls())
	assert.Zero(t, indicator.starts)
	assert.Equal(t, stats.EventTypeSkipped, r.Stats().Outcome)
}
