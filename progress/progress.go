package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

// Timer shows a spinner with the elapsed time while the model is generating.
type Timer struct {
	spinner *pterm.SpinnerPrinter
	model   string
	writer  io.Writer
	mu      sync.Mutex
	enabled bool
}

// New creates a Timer that writes to w. It only renders when logLevel is
// "info"; at other levels the log output is left alone.
func New(model string, w io.Writer, logLevel string) *Timer {
	return &Timer{
		model:   model,
		writer:  w,
		enabled: logLevel == "info" && w != nil,
	}
}

// Start shows the spinner.
func (t *Timer) Start() {
	if !t.enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	spinner, err := pterm.DefaultSpinner.
		WithWriter(t.writer).
		WithRemoveWhenDone(true).
		Start(t.text(0))
	if err != nil {
		t.enabled = false
		return
	}
	t.spinner = spinner
}

// Tick updates the elapsed time. It is meant to be used as an inference
// OnTick callback.
func (t *Timer) Tick(elapsed time.Duration) {
	if !t.enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.spinner != nil {
		t.spinner.UpdateText(t.text(elapsed))
	}
}

// Stop removes the spinner.
func (t *Timer) Stop() {
	if !t.enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.spinner == nil {
		return
	}
	_ = t.spinner.Stop()
	t.spinner = nil
}

func (t *Timer) text(elapsed time.Duration) string {
	return fmt.Sprintf("Waiting for model %s: %ds elapsed", t.model, int(elapsed/time.Second))
}
