package inference

import (
	"fmt"
	"time"
)

// Kind tags which variant an Outcome holds.
type Kind int

const (
	KindSuccess Kind = iota
	KindTimeout
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTimeout:
		return "timeout"
	case KindFailure:
		return "failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one invocation. Only the fields of its Kind are
// set: Text for success, Model and Budget for timeout, Reason for failure.
type Outcome struct {
	Kind   Kind
	Text   string
	Model  string
	Budget time.Duration
	Reason string
}

// Success wraps the model's reply.
func Success(text string) Outcome {
	return Outcome{Kind: KindSuccess, Text: text}
}

// Timeout reports that model did not answer within budget.
func Timeout(model string, budget time.Duration) Outcome {
	return Outcome{Kind: KindTimeout, Model: model, Budget: budget}
}

// Failure reports a transport, protocol or decoding problem.
func Failure(reason string) Outcome {
	return Outcome{Kind: KindFailure, Reason: reason}
}

// BudgetSeconds returns the budget as whole seconds.
func (o Outcome) BudgetSeconds() int {
	return int(o.Budget / time.Second)
}

// Message renders the outcome for the user.
func (o Outcome) Message() string {
	switch o.Kind {
	case KindSuccess:
		return o.Text
	case KindTimeout:
		return fmt.Sprintf("[AI ERROR] Model '%s' did not respond within %d seconds.\n"+
			"Tip: try again with fewer emails or a lighter model (qwen2.5, phi3).", o.Model, o.BudgetSeconds())
	default:
		return "[AI ERROR] " + o.Reason
	}
}

// LogAttrs returns slog attributes describing the outcome.
func (o Outcome) LogAttrs() []any {
	attrs := []any{"outcome", o.Kind.String()}
	switch o.Kind {
	case KindSuccess:
		attrs = append(attrs, "chars", len(o.Text))
	case KindTimeout:
		attrs = append(attrs, "model", o.Model, "budget", o.Budget)
	case KindFailure:
		attrs = append(attrs, "reason", o.Reason)
	}
	return attrs
}
