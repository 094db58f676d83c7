package integration

import (
	"context"
	"fmt"

	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
	"github.com/ramjavii/nestsecure/internal/resilience"
)

// Guarded decorates a Client so that every tool call runs inside the retry
// policy and the circuit breaker for its (tool, endpoint) key. Cancel is
// exempt: it is best-effort and must get through even when the breaker is
// open.
type Guarded struct {
	inner   Client
	breaker *resilience.Breaker
	retry   resilience.RetryPolicy
}

func Guard(c Client, reg *resilience.Registry, retry resilience.RetryPolicy) *Guarded {
	key := BreakerKey(c)
	return &Guarded{inner: c, breaker: reg.Get(key), retry: retry}
}

func BreakerKey(c Client) string {
	return fmt.Sprintf("%s@%s", c.Tool(), c.Endpoint())
}

func (g *Guarded) call(ctx context.Context, op string, fn func(context.Context) error) error {
	return g.retry.Do(ctx, op, Classify, func(ctx context.Context) error {
		if err := g.breaker.Allow(); err != nil {
			return err
		}
		err := fn(ctx)
		switch Classify(err) {
		case resilience.OutcomeSuccess:
			g.breaker.RecordSuccess()
		case resilience.OutcomeTransient:
			// permanent errors say nothing about endpoint health,
			// only transient ones count toward tripping the breaker
			g.breaker.RecordFailure()
		}
		return err
	})
}

func (g *Guarded) Tool() domain.Tool          { return g.inner.Tool() }
func (g *Guarded) Endpoint() string           { return g.inner.Endpoint() }
func (g *Guarded) Capabilities() Capabilities { return g.inner.Capabilities() }

func (g *Guarded) Connect(ctx context.Context) error {
	return g.call(ctx, string(g.inner.Tool())+".connect", g.inner.Connect)
}

func (g *Guarded) Launch(ctx context.Context, targets []string, params map[string]string) (string, map[string]string, error) {
	var handle string
	var meta map[string]string
	err := g.call(ctx, string(g.inner.Tool())+".launch", func(ctx context.Context) error {
		var err error
		handle, meta, err = g.inner.Launch(ctx, targets, params)
		return err
	})
	return handle, meta, err
}

func (g *Guarded) Poll(ctx context.Context, handle string) (JobState, error) {
	var state JobState
	err := g.call(ctx, string(g.inner.Tool())+".poll", func(ctx context.Context) error {
		var err error
		state, err = g.inner.Poll(ctx, handle)
		return err
	})
	return state, err
}

func (g *Guarded) FetchResults(ctx context.Context, handle string) ([]byte, error) {
	var raw []byte
	err := g.call(ctx, string(g.inner.Tool())+".fetch", func(ctx context.Context) error {
		var err error
		raw, err = g.inner.FetchResults(ctx, handle)
		return err
	})
	return raw, err
}

func (g *Guarded) Cancel(ctx context.Context, handle string) error {
	return g.inner.Cancel(ctx, handle)
}
