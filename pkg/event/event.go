// Package event implements the typed broadcast bus described in spec.md
// §4.6: Create/TrApply/Undo/Redo/Destroy/Stop events delivered to every
// subscribed handler without blocking the dispatch path. Delivery is not
// at-least-once: when a subscriber's bounded queue is full, its oldest
// pending event is dropped. Channel
// and goroutine-loop shape grounded on core/pkg/observability's provider
// lifecycle (explicit start/stop, context-scoped background work); queueing
// discipline is idiomatic Go rather than lifted from any one teacher file,
// since the pack carries no dedicated pub/sub package.
package event

import (
	"context"
	"log/slog"
	"sync"

	"github.com/moduforge/moduforge-go/pkg/forgeerror"
)

// Kind identifies an Event variant.
type Kind string

const (
	KindCreate  Kind = "create"
	KindTrApply Kind = "tr_apply"
	KindUndo    Kind = "undo"
	KindRedo    Kind = "redo"
	KindDestroy Kind = "destroy"
	KindStop    Kind = "stop"
)

// Event is a tagged union over the bus's event variants. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind         Kind
	State        interface{} // *state.State; kept as interface{} to avoid an event->state import cycle
	PrevVersion  uint64
	Transactions []interface{} // []*transform.Transaction
	Description  string
	Meta         map[string]interface{}
}

// Handler receives events in the order they were broadcast. Broadcast
// delivers to each handler on that handler's own goroutine, so there is no
// ordering between different handlers; only BroadcastBlocking visits
// handlers in registration order. Handlers must not block indefinitely; the bus does not enforce
// a per-handler timeout, matching spec.md's "queued, does not block dispatch"
// contract rather than a hard SLA.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

type subscriber struct {
	name    string
	handler Handler
	queue   chan Event
	done    chan struct{}
}

// Bus is a typed, non-blocking-enqueue event broadcaster.
// Each subscriber gets its own buffered queue and a dedicated delivery
// goroutine so one slow handler cannot stall another.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	queueSize   int
	shut        bool
	log         *slog.Logger
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// New returns a running Bus. queueSize bounds each subscriber's backlog;
// when full, Broadcast drops the oldest pending event for that subscriber
// rather than blocking the caller (a deliberate deviation from unbounded
// queueing, since the runtime core cannot let an abandoned handler leak
// memory forever).
func New(queueSize int, log *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{queueSize: queueSize, log: log, ctx: ctx, cancel: cancel}
}

// Subscribe registers a named handler. Delivery for this handler begins
// with the next Broadcast call.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{name: name, handler: h, queue: make(chan Event, b.queueSize), done: make(chan struct{})}
	b.subscribers = append(b.subscribers, sub)
	b.wg.Add(1)
	go b.deliverLoop(sub)
}

// AddEventHandlers registers several handlers at once. They are registered
// in map iteration order, which Go leaves unspecified.
func (b *Bus) AddEventHandlers(handlers map[string]Handler) {
	for name, h := range handlers {
		b.Subscribe(name, h)
	}
}

func (b *Bus) deliverLoop(sub *subscriber) {
	defer b.wg.Done()
	for {
		select {
		case ev, ok := <-sub.queue:
			if !ok {
				return
			}
			if err := sub.handler.Handle(b.ctx, ev); err != nil {
				b.log.Error("event handler failed", "handler", sub.name, "kind", ev.Kind, "error", err)
			}
		case <-sub.done:
			// Drain whatever is already queued before exiting, preserving
			// at-least-once delivery up to the point of Stop/Destroy.
			for {
				select {
				case ev, ok := <-sub.queue:
					if !ok {
						return
					}
					if err := sub.handler.Handle(b.ctx, ev); err != nil {
						b.log.Error("event handler failed", "handler", sub.name, "kind", ev.Kind, "error", err)
					}
				default:
					return
				}
			}
		}
	}
}

// Broadcast enqueues ev for every subscriber without blocking the caller.
// If a subscriber's queue is full, the oldest event is dropped to make room
// (logged at warn level) rather than applying backpressure to the dispatch
// path, per spec.md §4.6's "slow handlers do not block the dispatch path."
func (b *Bus) Broadcast(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.shut {
		return forgeerror.BusShut()
	}
	for _, sub := range b.subscribers {
		b.enqueue(sub, ev)
	}
	return nil
}

func (b *Bus) enqueue(sub *subscriber, ev Event) {
	select {
	case sub.queue <- ev:
		return
	default:
	}
	select {
	case <-sub.queue:
		b.log.Warn("event queue full, dropping oldest", "handler", sub.name)
	default:
	}
	select {
	case sub.queue <- ev:
	default:
	}
}

// BroadcastBlocking delivers ev to every handler synchronously on the
// caller's goroutine, in subscriber registration order. Used for Create
// during State.Create's init phase, per spec.md §4.6.
func (b *Bus) BroadcastBlocking(ctx context.Context, ev Event) error {
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subscribers...)
	shut := b.shut
	b.mu.RUnlock()
	if shut {
		return forgeerror.BusShut()
	}
	for _, sub := range subs {
		if err := sub.handler.Handle(ctx, ev); err != nil {
			return forgeerror.HandlerFailure(sub.name, err)
		}
	}
	return nil
}

// Stop broadcasts a Stop event, drains every subscriber's pending queue,
// then shuts the bus down; subsequent Broadcast/BroadcastBlocking calls
// return a BusShut error.
func (b *Bus) Stop(ctx context.Context) {
	_ = b.Broadcast(Event{Kind: KindStop})

	b.mu.Lock()
	if b.shut {
		b.mu.Unlock()
		return
	}
	b.shut = true
	subs := append([]*subscriber(nil), b.subscribers...)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
	b.wg.Wait()
	b.cancel()
}
