package runtime

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/moduforge/moduforge-go/pkg/event"
	"github.com/moduforge/moduforge-go/pkg/middleware"
	"github.com/moduforge/moduforge-go/pkg/plugin"
	"github.com/moduforge/moduforge-go/pkg/state"
	"github.com/moduforge/moduforge-go/pkg/transform"
)

// SyncDriver owns the state directly: apply runs on the caller's goroutine,
// serialized by a plain mutex (spec.md §4.9, §5 "one thread at a time is
// inside dispatch").
type SyncDriver struct {
	mu sync.Mutex
	c  *core
}

var _ Driver = (*SyncDriver)(nil)

// NewSync builds a SyncDriver around initial, wiring an event bus and
// middleware chain if provided (nil uses sane defaults).
func NewSync(initial *state.State, historyLimit int, bus *event.Bus, mws *middleware.Chain, meter metric.Meter, log *slog.Logger) *SyncDriver {
	return &SyncDriver{c: newCore(initial, historyLimit, bus, mws, NewMetrics(meter), log)}
}

func (d *SyncDriver) Dispatch(ctx context.Context, tr *transform.Transaction, description string) (*state.TransactionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.c.dispatchLocked(ctx, tr, description)
}

func (d *SyncDriver) Command(ctx context.Context, cmd Command, description string) (*state.TransactionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.c.commandLocked(ctx, cmd, description)
}

func (d *SyncDriver) State() *state.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.c.current
}

func (d *SyncDriver) Undo(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.c.undoLocked(ctx)
}

func (d *SyncDriver) Redo(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.c.redoLocked(ctx)
}

func (d *SyncDriver) Jump(ctx context.Context, n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.c.jumpLocked(ctx, n, event.KindRedo)
}

func (d *SyncDriver) EmitEvent(ctx context.Context, ev event.Event) error {
	return d.c.bus.Broadcast(ev)
}

func (d *SyncDriver) RegisterPlugin(ctx context.Context, p *plugin.Plugin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.c.registerPluginLocked(ctx, p)
}

func (d *SyncDriver) UnregisterPlugin(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.c.unregisterPluginLocked(ctx, name)
}

func (d *SyncDriver) Reconfigure(ctx context.Context, cfg state.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.c.reconfigureLocked(ctx, cfg)
}

func (d *SyncDriver) Destroy(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.c.destroyLocked(ctx)
}
