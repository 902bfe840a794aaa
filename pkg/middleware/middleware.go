// Package middleware implements the before/after dispatch hook chain
// described in spec.md §4.8. Grounded on core/pkg/kernel/effect_boundary.go's
// ordered-stage-with-timeout pattern, generalized from a single effect
// boundary to an ordered list of named middlewares.
package middleware

import (
	"context"
	"time"

	"github.com/moduforge/moduforge-go/pkg/forgeerror"
	"github.com/moduforge/moduforge-go/pkg/transform"
)

// DefaultTimeout is applied to a middleware stage when it supplies none.
const DefaultTimeout = 500 * time.Millisecond

// Middleware is one stage of the dispatch pipeline.
type Middleware interface {
	Name() string
	// BeforeDispatch may mutate tr in place (e.g. stamping meta) and can
	// reject the transaction by returning an error.
	BeforeDispatch(ctx context.Context, tr *transform.Transaction) error
	// AfterDispatch inspects the post-apply state (opaque to avoid a
	// middleware->state import cycle) and the transaction list emitted by
	// State.Apply, and may return one extra transaction to be dispatched
	// immediately through the full plugin pipeline.
	AfterDispatch(ctx context.Context, st interface{}, txs []*transform.Transaction) (*transform.Transaction, error)
	// Timeout bounds each call above; <= 0 means DefaultTimeout.
	Timeout() time.Duration
}

// Chain runs an ordered list of Middleware, per spec.md §4.8.
type Chain struct {
	stages []Middleware
}

// NewChain builds a Chain from stages, preserving order.
func NewChain(stages ...Middleware) *Chain {
	return &Chain{stages: append([]Middleware(nil), stages...)}
}

// RunBefore calls BeforeDispatch on every stage in order; the first error
// aborts the whole chain.
func (c *Chain) RunBefore(ctx context.Context, tr *transform.Transaction) error {
	for _, m := range c.stages {
		if err := runTimed(ctx, m.Timeout(), m.Name(), "before", func(ctx context.Context) error {
			return m.BeforeDispatch(ctx, tr)
		}); err != nil {
			return err
		}
	}
	return nil
}

// RunAfter calls AfterDispatch on every stage in order. Each stage sees the
// transaction list as extended by any earlier stage's returned extra
// transaction, per spec.md §4.8 ("merged into the transaction list the
// middleware sees next").
func (c *Chain) RunAfter(ctx context.Context, st interface{}, txs []*transform.Transaction) ([]*transform.Transaction, error) {
	current := txs
	for _, m := range c.stages {
		var extra *transform.Transaction
		err := runTimed(ctx, m.Timeout(), m.Name(), "after", func(ctx context.Context) error {
			var innerErr error
			extra, innerErr = m.AfterDispatch(ctx, st, current)
			return innerErr
		})
		if err != nil {
			return current, err
		}
		if extra != nil {
			current = append(current, extra)
		}
	}
	return current, nil
}

func runTimed(ctx context.Context, timeout time.Duration, name, stage string, fn func(context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			return forgeerror.Middleware(name, stage, err)
		}
		return nil
	case <-ctx.Done():
		return forgeerror.Middleware(name, stage, ctx.Err())
	}
}
