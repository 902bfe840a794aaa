// Package runtime implements the three interchangeable driver facades from
// spec.md §4.9 (synchronous, async, actor) over one shared dispatch
// pseudocode. Grounded on core/pkg/kernelruntime/runtime.go's
// verify-then-persist-then-reply request shape, generalized from a single
// synchronous intent submission path to the full middleware/state/history/
// event pipeline spec.md requires.
package runtime

import (
	"context"
	"log/slog"

	"github.com/moduforge/moduforge-go/pkg/event"
	"github.com/moduforge/moduforge-go/pkg/forgeerror"
	"github.com/moduforge/moduforge-go/pkg/history"
	"github.com/moduforge/moduforge-go/pkg/middleware"
	"github.com/moduforge/moduforge-go/pkg/plugin"
	"github.com/moduforge/moduforge-go/pkg/state"
	"github.com/moduforge/moduforge-go/pkg/transform"
)

// Command is the thin convenience wrapper from spec.md §4.9: opening a
// transaction, mutating it, and dispatching it.
type Command interface {
	Execute(tr *transform.Transaction) error
}

// Driver is the logical API shared by all three runtime facades.
type Driver interface {
	Dispatch(ctx context.Context, tr *transform.Transaction, description string) (*state.TransactionResult, error)
	Command(ctx context.Context, cmd Command, description string) (*state.TransactionResult, error)
	State() *state.State
	Undo(ctx context.Context) error
	Redo(ctx context.Context) error
	Jump(ctx context.Context, n int) error
	EmitEvent(ctx context.Context, ev event.Event) error
	RegisterPlugin(ctx context.Context, p *plugin.Plugin) error
	UnregisterPlugin(ctx context.Context, name string) error
	Reconfigure(ctx context.Context, cfg state.Config) error
	Destroy(ctx context.Context)
}

// core holds the state shared by every driver flavor; drivers differ only
// in how they serialize access to it (direct mutex, worker pool, actor
// mailbox).
type core struct {
	current     *state.State
	history     *history.Ring
	bus         *event.Bus
	middlewares *middleware.Chain
	metrics     *Metrics
	log         *slog.Logger

	// versionCounter is the highest version ever assigned to current,
	// across both forward dispatch and undo/redo/jump. Restoring a
	// historical state must never hand back a version number already
	// seen, so jumpLocked mints a fresh one from this counter instead of
	// reusing the version the history entry was originally stamped with.
	versionCounter uint64
}

func newCore(initial *state.State, historyLimit int, bus *event.Bus, mws *middleware.Chain, metrics *Metrics, log *slog.Logger) *core {
	if log == nil {
		log = slog.Default()
	}
	if bus == nil {
		bus = event.New(0, log)
	}
	if mws == nil {
		mws = middleware.NewChain()
	}
	h := history.New(historyLimit)
	h.Insert(history.Entry{State: initial, Description: "create"})
	_ = bus.BroadcastBlocking(context.Background(), event.Event{Kind: event.KindCreate, State: initial})
	return &core{current: initial, history: h, bus: bus, middlewares: mws, metrics: metrics, log: log, versionCounter: initial.Version()}
}

// dispatchLocked runs the spec.md §4.9 dispatch pseudocode. Callers must
// already hold whatever serialization the driver uses (mutex, single-writer
// goroutine, actor mailbox) — dispatchLocked itself does no locking.
func (c *core) dispatchLocked(ctx context.Context, tr *transform.Transaction, description string) (*state.TransactionResult, error) {
	ctx, span := c.metrics.startSpan(ctx, "moduforge.dispatch")
	defer span.End()

	c.metrics.incStart(ctx)

	if err := c.middlewares.RunBefore(ctx, tr); err != nil {
		span.RecordError(err)
		c.metrics.incErr(ctx)
		return nil, err
	}

	tr.Commit()
	result, err := c.current.Apply(ctx, tr)
	if err != nil {
		span.RecordError(err)
		c.metrics.incErr(ctx)
		return nil, err
	}

	var stateUpdate *state.State
	if last := result.Transactions[len(result.Transactions)-1]; last.DocChanged() {
		stateUpdate = result.State
	}

	var updateArg interface{}
	if stateUpdate != nil {
		updateArg = stateUpdate
	}
	txs, err := c.middlewares.RunAfter(ctx, updateArg, result.Transactions)
	if err != nil {
		span.RecordError(err)
		c.metrics.incErr(ctx)
		return nil, err
	}
	result.Transactions = txs

	if stateUpdate != nil {
		prevVersion := c.current.Version()
		c.current = stateUpdate
		c.versionCounter = stateUpdate.Version()
		c.history.Insert(history.Entry{State: stateUpdate, Description: description, Meta: tr.Meta})
		if err := c.bus.Broadcast(event.Event{
			Kind:         event.KindTrApply,
			PrevVersion:  prevVersion,
			Transactions: asInterfaces(result.Transactions),
			State:        stateUpdate,
		}); err != nil {
			c.log.Warn("event broadcast failed", "error", err)
		}
	}

	c.metrics.incOK(ctx)
	return result, nil
}

func (c *core) commandLocked(ctx context.Context, cmd Command, description string) (*state.TransactionResult, error) {
	tr := transform.NewTransaction(c.current.Doc(), c.current.Schema())
	if err := cmd.Execute(tr); err != nil {
		return nil, err
	}
	return c.dispatchLocked(ctx, tr, description)
}

func (c *core) undoLocked(ctx context.Context) error {
	return c.jumpLocked(ctx, -1, event.KindUndo)
}

func (c *core) redoLocked(ctx context.Context) error {
	return c.jumpLocked(ctx, 1, event.KindRedo)
}

// jumpLocked moves history by n steps and restores the stored state
// directly, per spec.md §4.7 ("Undo does not re-invoke plugin
// append_transaction — it restores the stored state directly"). The
// restored doc and plugin states come from the history entry verbatim, but
// the version is re-minted from versionCounter so it is never a repeat of
// a version this runtime has already handed out.
func (c *core) jumpLocked(ctx context.Context, n int, kind event.Kind) error {
	entry, err := c.history.Jump(n)
	if err != nil {
		return err
	}
	restored, ok := entry.State.(*state.State)
	if !ok {
		return forgeerror.Internal("history_entry_not_state", nil)
	}
	c.versionCounter++
	restored = restored.WithVersion(c.versionCounter)
	c.current = restored
	return c.bus.Broadcast(event.Event{Kind: kind, State: restored})
}

func (c *core) reconfigureLocked(ctx context.Context, cfg state.Config) error {
	next, err := state.Reconfigure(ctx, c.current, cfg)
	if err != nil {
		return err
	}
	c.current = next
	c.versionCounter = next.Version()
	return nil
}

func (c *core) registerPluginLocked(ctx context.Context, p *plugin.Plugin) error {
	cfg := state.Config{
		Schema:   c.current.Schema(),
		Doc:      c.current.Doc(),
		Plugins:  append(append([]*plugin.Plugin(nil), c.current.Plugins()...), p),
		Resource: c.current.Resources(),
	}
	return c.reconfigureLocked(ctx, cfg)
}

func (c *core) unregisterPluginLocked(ctx context.Context, name string) error {
	var kept []*plugin.Plugin
	for _, p := range c.current.Plugins() {
		if p.Metadata.Name != name {
			kept = append(kept, p)
		}
	}
	cfg := state.Config{
		Schema:   c.current.Schema(),
		Doc:      c.current.Doc(),
		Plugins:  kept,
		Resource: c.current.Resources(),
	}
	return c.reconfigureLocked(ctx, cfg)
}

func (c *core) destroyLocked(ctx context.Context) {
	_ = c.bus.Broadcast(event.Event{Kind: event.KindDestroy})
	c.bus.Stop(ctx)
}

func asInterfaces(trs []*transform.Transaction) []interface{} {
	out := make([]interface{}, len(trs))
	for i, tr := range trs {
		out[i] = tr
	}
	return out
}
