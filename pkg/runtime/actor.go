package runtime

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/moduforge/moduforge-go/pkg/event"
	"github.com/moduforge/moduforge-go/pkg/middleware"
	"github.com/moduforge/moduforge-go/pkg/plugin"
	"github.com/moduforge/moduforge-go/pkg/state"
	"github.com/moduforge/moduforge-go/pkg/transform"
)

// actorOp tags the operation an actorMsg carries; the state actor's mailbox
// loop is the only place c is ever touched, which is what makes it the
// single writer spec.md §5 requires.
type actorOp int

const (
	opDispatch actorOp = iota
	opCommand
	opState
	opUndo
	opRedo
	opJump
	opRegisterPlugin
	opUnregisterPlugin
	opReconfigure
	opDestroy
)

type actorMsg struct {
	op          actorOp
	ctx         context.Context
	tr          *transform.Transaction
	cmd         Command
	description string
	n           int
	plugin      *plugin.Plugin
	pluginName  string
	cfg         state.Config
	reply       chan actorResult
}

type actorResult struct {
	trResult *state.TransactionResult
	st       *state.State
	err      error
}

// ActorRuntime dispatches through a request/reply mailbox: the transaction
// processor actor forwards each request unchanged to the state actor, which
// is the sole goroutine permitted to touch core — the
// same single-writer discipline as SyncDriver's mutex, expressed as message
// passing instead of locking, per spec.md §4.9's "one actor per role."
type ActorRuntime struct {
	c          *core
	txMailbox  chan actorMsg
	stMailbox  chan actorMsg
	cancel     context.CancelFunc
	shutdown   chan struct{}
}

var _ Driver = (*ActorRuntime)(nil)

// NewActor starts the transaction-processor and state actors and returns a
// ready ActorRuntime.
func NewActor(initial *state.State, historyLimit, mailboxSize int, bus *event.Bus, mws *middleware.Chain, meter metric.Meter, log *slog.Logger) *ActorRuntime {
	if mailboxSize <= 0 {
		mailboxSize = 128
	}
	_, cancel := context.WithCancel(context.Background())
	a := &ActorRuntime{
		c:         newCore(initial, historyLimit, bus, mws, NewMetrics(meter), log),
		txMailbox: make(chan actorMsg, mailboxSize),
		stMailbox: make(chan actorMsg, mailboxSize),
		cancel:    cancel,
		shutdown:  make(chan struct{}),
	}
	go a.runTxProcessor()
	go a.runStateActor()
	return a
}

// runTxProcessor is the transaction-processor role: it does no mutation of
// core itself and does not inspect requests; it only forwards them to the
// state actor's mailbox, keeping the roles architecturally distinct per
// spec.md §4.9.
func (a *ActorRuntime) runTxProcessor() {
	for msg := range a.txMailbox {
		a.stMailbox <- msg
	}
}

// runStateActor is the state role: the only goroutine that ever reads or
// writes a.c, so every message is handled to completion before the next is
// dequeued (per-document linearizability).
func (a *ActorRuntime) runStateActor() {
	for msg := range a.stMailbox {
		switch msg.op {
		case opDispatch:
			res, err := a.c.dispatchLocked(msg.ctx, msg.tr, msg.description)
			msg.reply <- actorResult{trResult: res, err: err}
		case opCommand:
			res, err := a.c.commandLocked(msg.ctx, msg.cmd, msg.description)
			msg.reply <- actorResult{trResult: res, err: err}
		case opState:
			msg.reply <- actorResult{st: a.c.current}
		case opUndo:
			msg.reply <- actorResult{err: a.c.undoLocked(msg.ctx)}
		case opRedo:
			msg.reply <- actorResult{err: a.c.redoLocked(msg.ctx)}
		case opJump:
			msg.reply <- actorResult{err: a.c.jumpLocked(msg.ctx, msg.n, event.KindRedo)}
		case opRegisterPlugin:
			msg.reply <- actorResult{err: a.c.registerPluginLocked(msg.ctx, msg.plugin)}
		case opUnregisterPlugin:
			msg.reply <- actorResult{err: a.c.unregisterPluginLocked(msg.ctx, msg.pluginName)}
		case opReconfigure:
			msg.reply <- actorResult{err: a.c.reconfigureLocked(msg.ctx, msg.cfg)}
		case opDestroy:
			a.c.destroyLocked(msg.ctx)
			close(a.shutdown)
			msg.reply <- actorResult{}
			return
		}
	}
}

func (a *ActorRuntime) ask(msg actorMsg) actorResult {
	msg.reply = make(chan actorResult, 1)
	a.txMailbox <- msg
	return <-msg.reply
}

func (a *ActorRuntime) Dispatch(ctx context.Context, tr *transform.Transaction, description string) (*state.TransactionResult, error) {
	res := a.ask(actorMsg{op: opDispatch, ctx: ctx, tr: tr, description: description})
	return res.trResult, res.err
}

func (a *ActorRuntime) Command(ctx context.Context, cmd Command, description string) (*state.TransactionResult, error) {
	res := a.ask(actorMsg{op: opCommand, ctx: ctx, cmd: cmd, description: description})
	return res.trResult, res.err
}

func (a *ActorRuntime) State() *state.State {
	res := a.ask(actorMsg{op: opState, ctx: context.Background()})
	return res.st
}

func (a *ActorRuntime) Undo(ctx context.Context) error {
	return a.ask(actorMsg{op: opUndo, ctx: ctx}).err
}

func (a *ActorRuntime) Redo(ctx context.Context) error {
	return a.ask(actorMsg{op: opRedo, ctx: ctx}).err
}

func (a *ActorRuntime) Jump(ctx context.Context, n int) error {
	return a.ask(actorMsg{op: opJump, ctx: ctx, n: n}).err
}

func (a *ActorRuntime) EmitEvent(ctx context.Context, ev event.Event) error {
	return a.c.bus.Broadcast(ev)
}

func (a *ActorRuntime) RegisterPlugin(ctx context.Context, p *plugin.Plugin) error {
	return a.ask(actorMsg{op: opRegisterPlugin, ctx: ctx, plugin: p}).err
}

func (a *ActorRuntime) UnregisterPlugin(ctx context.Context, name string) error {
	return a.ask(actorMsg{op: opUnregisterPlugin, ctx: ctx, pluginName: name}).err
}

func (a *ActorRuntime) Reconfigure(ctx context.Context, cfg state.Config) error {
	return a.ask(actorMsg{op: opReconfigure, ctx: ctx, cfg: cfg}).err
}

func (a *ActorRuntime) Destroy(ctx context.Context) {
	a.ask(actorMsg{op: opDestroy, ctx: ctx})
	<-a.shutdown
	close(a.txMailbox)
	a.cancel()
}
