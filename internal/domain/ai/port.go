package ai

import "context"

// Client analyzes a digest of correlated vulnerabilities and returns a
// JSON assessment.
type Client interface {
	Analyze(ctx context.Context, digest string) (string, error)
}
