package runtime

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/moduforge/moduforge-go/pkg/event"
	"github.com/moduforge/moduforge-go/pkg/forgeerror"
	"github.com/moduforge/moduforge-go/pkg/middleware"
	"github.com/moduforge/moduforge-go/pkg/plugin"
	"github.com/moduforge/moduforge-go/pkg/state"
	"github.com/moduforge/moduforge-go/pkg/transform"
)

// DefaultAsyncTimeout bounds how long a caller waits for a submitted job to
// be picked up and completed by the FlowEngine, per spec.md §4.9.
const DefaultAsyncTimeout = 5 * time.Second

type asyncJob struct {
	run   func() (interface{}, error)
	reply chan asyncResult
}

type asyncResult struct {
	value interface{}
	err   error
}

// AsyncDriver submits each job to a FlowEngine worker pool: a single
// consumer goroutine dequeues and runs jobs against the shared core (so the
// doc still has exactly one logical writer, per spec.md §5), while the
// caller waits on a oneshot reply channel bounded by Timeout.
type AsyncDriver struct {
	c       *core
	queue   chan asyncJob
	group   *errgroup.Group
	cancel  context.CancelFunc
	timeout time.Duration
}

var _ Driver = (*AsyncDriver)(nil)

// NewAsync starts an AsyncDriver with a bounded work queue of the given
// size (default 64) and per-submission timeout (default DefaultAsyncTimeout).
func NewAsync(initial *state.State, historyLimit, queueSize int, timeout time.Duration, bus *event.Bus, mws *middleware.Chain, meter metric.Meter, log *slog.Logger) *AsyncDriver {
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = DefaultAsyncTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	d := &AsyncDriver{
		c:       newCore(initial, historyLimit, bus, mws, NewMetrics(meter), log),
		queue:   make(chan asyncJob, queueSize),
		group:   group,
		cancel:  cancel,
		timeout: timeout,
	}
	group.Go(func() error { return d.consume(gctx) })
	return d
}

func (d *AsyncDriver) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-d.queue:
			value, err := job.run()
			job.reply <- asyncResult{value: value, err: err}
		}
	}
}

// submit enqueues fn and waits up to d.timeout for it to run and return.
func (d *AsyncDriver) submit(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	reply := make(chan asyncResult, 1)
	timeoutCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	select {
	case d.queue <- asyncJob{run: fn, reply: reply}:
	case <-timeoutCtx.Done():
		return nil, forgeerror.Timeout("async_submit", d.timeout, d.timeout)
	}

	select {
	case res := <-reply:
		return res.value, res.err
	case <-timeoutCtx.Done():
		return nil, forgeerror.Timeout("async_dispatch", d.timeout, d.timeout)
	}
}

func (d *AsyncDriver) Dispatch(ctx context.Context, tr *transform.Transaction, description string) (*state.TransactionResult, error) {
	v, err := d.submit(ctx, func() (interface{}, error) { return d.c.dispatchLocked(ctx, tr, description) })
	if err != nil {
		return nil, err
	}
	return v.(*state.TransactionResult), nil
}

func (d *AsyncDriver) Command(ctx context.Context, cmd Command, description string) (*state.TransactionResult, error) {
	v, err := d.submit(ctx, func() (interface{}, error) { return d.c.commandLocked(ctx, cmd, description) })
	if err != nil {
		return nil, err
	}
	return v.(*state.TransactionResult), nil
}

func (d *AsyncDriver) State() *state.State {
	v, _ := d.submit(context.Background(), func() (interface{}, error) { return d.c.current, nil })
	s, _ := v.(*state.State)
	return s
}

func (d *AsyncDriver) Undo(ctx context.Context) error {
	_, err := d.submit(ctx, func() (interface{}, error) { return nil, d.c.undoLocked(ctx) })
	return err
}

func (d *AsyncDriver) Redo(ctx context.Context) error {
	_, err := d.submit(ctx, func() (interface{}, error) { return nil, d.c.redoLocked(ctx) })
	return err
}

func (d *AsyncDriver) Jump(ctx context.Context, n int) error {
	_, err := d.submit(ctx, func() (interface{}, error) { return nil, d.c.jumpLocked(ctx, n, event.KindRedo) })
	return err
}

func (d *AsyncDriver) EmitEvent(ctx context.Context, ev event.Event) error {
	return d.c.bus.Broadcast(ev)
}

func (d *AsyncDriver) RegisterPlugin(ctx context.Context, p *plugin.Plugin) error {
	_, err := d.submit(ctx, func() (interface{}, error) { return nil, d.c.registerPluginLocked(ctx, p) })
	return err
}

func (d *AsyncDriver) UnregisterPlugin(ctx context.Context, name string) error {
	_, err := d.submit(ctx, func() (interface{}, error) { return nil, d.c.unregisterPluginLocked(ctx, name) })
	return err
}

func (d *AsyncDriver) Reconfigure(ctx context.Context, cfg state.Config) error {
	_, err := d.submit(ctx, func() (interface{}, error) { return nil, d.c.reconfigureLocked(ctx, cfg) })
	return err
}

func (d *AsyncDriver) Destroy(ctx context.Context) {
	_, _ = d.submit(ctx, func() (interface{}, error) { d.c.destroyLocked(ctx); return nil, nil })
	d.cancel()
	_ = d.group.Wait()
}
