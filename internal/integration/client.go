package integration

import (
	"context"

	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
)

// JobState is the tool-side view of a launched job.
type JobState string

const (
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Capabilities declares what a client can actually do, instead of hiding
// tool asymmetries behind a uniform method set.
type Capabilities struct {
	// RemoteCancel is false for CLI-driven tools: Cancel can only kill
	// the local process, it cannot abort anything on a remote side.
	RemoteCancel bool
}

// Client is the uniform per-tool lifecycle contract. One concrete
// implementation exists per tool, selected by the tool enum at dispatch
// time; there is no branching on tool names outside the factory.
//
// Poll must be an idempotent observation: calling it repeatedly has no
// side effect on tool state.
type Client interface {
	Tool() domain.Tool
	// Endpoint identifies the configured endpoint (URL or local binary)
	// and keys the circuit breaker together with the tool name.
	Endpoint() string
	Capabilities() Capabilities

	Connect(ctx context.Context) error
	// Launch starts a job for the target set and returns the opaque
	// tool-assigned handle plus any identifiers that must be persisted
	// for crash recovery (e.g. gvm_target_id).
	Launch(ctx context.Context, targets []string, params map[string]string) (handle string, meta map[string]string, err error)
	Poll(ctx context.Context, handle string) (JobState, error)
	FetchResults(ctx context.Context, handle string) ([]byte, error)
	// Cancel is best-effort; see Capabilities.
	Cancel(ctx context.Context, handle string) error
}
