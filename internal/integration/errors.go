package integration

import (
	"context"
	"errors"
	"net"

	"github.com/ramjavii/nestsecure/internal/resilience"
)

// Error taxonomy shared by all tool clients. Wrap with %w so callers can
// classify with errors.Is.
var (
	ErrConnection         = errors.New("connection error")
	ErrAuth               = errors.New("authentication failed")
	ErrInvalidTarget      = errors.New("invalid target")
	ErrLaunch             = errors.New("launch rejected")
	ErrTimeout            = errors.New("timeout")
	ErrResultsUnavailable = errors.New("results not available")
	ErrToolBusy           = errors.New("tool busy")
	ErrUnknownHandle      = errors.New("unknown job handle")
)

// Classify maps client errors onto retry outcomes. Connection problems,
// timeouts and busy signals are transient; everything that retrying cannot
// fix (bad credentials, malformed targets, unknown handles) is permanent.
func Classify(err error) resilience.Outcome {
	switch {
	case err == nil:
		return resilience.OutcomeSuccess
	case errors.Is(err, ErrConnection),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrToolBusy),
		errors.Is(err, context.DeadlineExceeded):
		return resilience.OutcomeTransient
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return resilience.OutcomeTransient
	}
	return resilience.OutcomePermanent
}
