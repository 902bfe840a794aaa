package persistence

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/moduforge/moduforge-go/pkg/event"
	"github.com/moduforge/moduforge-go/pkg/forgeerror"
	"github.com/moduforge/moduforge-go/pkg/transform"
)

// CommitMode controls how the adapter acknowledges a persisted transaction,
// per spec.md §4.10.
type CommitMode string

const (
	CommitMemoryOnly   CommitMode = "memory_only"
	CommitAtLeastOnce  CommitMode = "at_least_once"
	CommitSynchronous  CommitMode = "synchronous"
)

// SnapshotThresholds bound how often a full-state snapshot is taken.
type SnapshotThresholds struct {
	Events int
	Bytes  int64
	Age    time.Duration
}

// DefaultThresholds matches a reasonable editor-session cadence: snapshot
// every 200 events, 1 MiB of event bytes, or 10 minutes, whichever comes
// first.
func DefaultThresholds() SnapshotThresholds {
	return SnapshotThresholds{Events: 200, Bytes: 1 << 20, Age: 10 * time.Minute}
}

type docCounters struct {
	events     int
	bytes      int64
	lastSnapAt time.Time
}

// StateSnapshotter serializes/deserializes a full State for the doc id it
// is given; implemented outside this package to avoid persistence
// depending on pkg/state (which would create an import cycle through
// plugin.State's opaque PluginState values).
type StateSnapshotter interface {
	Serialize(docID string) ([]byte, uint64, error)       // returns blob, version
	Deserialize(docID string, blob []byte) error
}

// Adapter subscribes to the event bus and persists TrApply/Undo/Redo
// events, per spec.md §4.10.
type Adapter struct {
	store      EventStore
	codec      Codec
	thresholds SnapshotThresholds
	mode       CommitMode
	snapshots  StateSnapshotter
	log        *slog.Logger

	mu       sync.Mutex
	counters map[string]*docCounters
}

// NewAdapter builds an Adapter. snapshots may be nil if the caller never
// needs full-state snapshots (tests exercising only the event log).
func NewAdapter(store EventStore, codec Codec, thresholds SnapshotThresholds, mode CommitMode, snapshots StateSnapshotter, log *slog.Logger) *Adapter {
	if codec == nil {
		codec = NoneCodec{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		store:      store,
		codec:      codec,
		thresholds: thresholds,
		mode:       mode,
		snapshots:  snapshots,
		log:        log,
		counters:   map[string]*docCounters{},
	}
}

// Handle implements event.Handler; register it on the bus with
// bus.Subscribe("persistence", adapter).
func (a *Adapter) Handle(ctx context.Context, ev event.Event) error {
	switch ev.Kind {
	case event.KindTrApply:
		return a.handleTrApply(ctx, ev)
	case event.KindUndo:
		return a.handleUndoRedo(ctx, ev, "undo")
	case event.KindRedo:
		return a.handleUndoRedo(ctx, ev, "redo")
	}
	return nil
}

func (a *Adapter) handleTrApply(ctx context.Context, ev event.Event) error {
	for _, raw := range ev.Transactions {
		tr, ok := raw.(*transform.Transaction)
		if !ok {
			continue
		}
		if err := a.persistTransaction(ctx, tr, nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) handleUndoRedo(ctx context.Context, ev event.Event, action string) error {
	for _, raw := range ev.Transactions {
		tr, ok := raw.(*transform.Transaction)
		if !ok {
			continue
		}
		meta := map[string]interface{}{"action": action}
		if err := a.persistTransaction(ctx, tr, meta); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) docID(tr *transform.Transaction) string {
	if v, ok := tr.GetMeta("doc_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "default"
}

// persistTransaction frames tr's steps, checks idempotency, and appends an
// EventRecord, then updates the per-doc counters and snapshots if any
// threshold is exceeded.
func (a *Adapter) persistTransaction(ctx context.Context, tr *transform.Transaction, extraMeta map[string]interface{}) error {
	if a.mode == CommitMemoryOnly {
		return nil
	}

	docID := a.docID(tr)
	idempotencyKey := idempotencyKeyFor(tr.ID, extraMeta)

	already, err := a.store.HasIdempotencyKey(ctx, docID, idempotencyKey)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	raw, err := transform.EncodeSteps(tr.Steps())
	if err != nil {
		return forgeerror.StoreIO(docID, err)
	}
	payload, err := a.codec.Encode(raw)
	if err != nil {
		return forgeerror.StoreIO(docID, err)
	}

	meta := map[string]interface{}{}
	for k, v := range tr.Meta {
		meta[k] = v
	}
	for k, v := range extraMeta {
		meta[k] = v
	}

	rec := NewEventRecord(docID, tr.ID, payload, meta)
	if extraMeta != nil {
		rec.IdempotencyKey = idempotencyKey
	}

	appendFn := func() error {
		_, err := a.store.Append(ctx, rec)
		return err
	}

	switch a.mode {
	case CommitSynchronous:
		if err := appendFn(); err != nil {
			return err
		}
	case CommitAtLeastOnce:
		if err := appendFn(); err != nil {
			a.log.Warn("event append failed, will not be retried inline", "doc_id", docID, "tr_id", tr.ID, "error", err)
		}
	}

	a.bumpCounters(docID, int64(len(payload)))
	if a.shouldSnapshot(docID) && a.snapshots != nil {
		if err := a.takeSnapshot(ctx, docID); err != nil {
			a.log.Warn("snapshot failed", "doc_id", docID, "error", err)
		}
	}
	return nil
}

// idempotencyKeyFor must agree with the key NewEventRecord assigns a given
// record so the HasIdempotencyKey pre-check in persistTransaction actually
// matches what was stored: the plain-apply path (extraMeta == nil) gets
// NewEventRecord's default "tr:<id>" key, while undo/redo carry an
// action-qualified key so they don't collide with the original apply.
func idempotencyKeyFor(trID uint64, extraMeta map[string]interface{}) string {
	if extraMeta == nil {
		return "tr:" + strconv.FormatUint(trID, 10)
	}
	action, _ := extraMeta["action"].(string)
	return action + ":" + strconv.FormatUint(trID, 10)
}

func (a *Adapter) bumpCounters(docID string, bytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.counters[docID]
	if !ok {
		c = &docCounters{lastSnapAt: time.Now()}
		a.counters[docID] = c
	}
	c.events++
	c.bytes += bytes
}

func (a *Adapter) shouldSnapshot(docID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.counters[docID]
	if !ok {
		return true
	}
	t := a.thresholds
	return (t.Events > 0 && c.events >= t.Events) ||
		(t.Bytes > 0 && c.bytes >= t.Bytes) ||
		(t.Age > 0 && time.Since(c.lastSnapAt) >= t.Age)
}

func (a *Adapter) takeSnapshot(ctx context.Context, docID string) error {
	blob, version, err := a.snapshots.Serialize(docID)
	if err != nil {
		return err
	}
	latest, err := a.store.LatestSnapshot(ctx, docID)
	if err != nil {
		return err
	}
	uptoLSN := uint64(0)
	if latest != nil {
		uptoLSN = latest.UptoLSN
	}
	if err := a.store.PutSnapshot(ctx, Snapshot{DocID: docID, UptoLSN: uptoLSN, Blob: blob, Version: version}); err != nil {
		return err
	}
	a.mu.Lock()
	a.counters[docID] = &docCounters{lastSnapAt: time.Now()}
	a.mu.Unlock()
	return nil
}

// Replay loads docID's latest snapshot (if any), decodes it via snapshots,
// then decodes and returns every step frame recorded after the snapshot's
// upto_lsn, per spec.md §4.10. The caller is expected to fold these steps
// through State.Apply (the "no-plugins, no-middleware" fast path is left to
// the caller, since it needs the live schema/plugin set to decide whether
// that shortcut is safe).
func (a *Adapter) Replay(ctx context.Context, docID string) ([][]transform.Step, error) {
	snap, err := a.store.LatestSnapshot(ctx, docID)
	if err != nil {
		return nil, err
	}
	uptoLSN := uint64(0)
	if snap != nil {
		uptoLSN = snap.UptoLSN
		if a.snapshots != nil {
			if err := a.snapshots.Deserialize(docID, snap.Blob); err != nil {
				return nil, err
			}
		}
	}

	records, err := a.store.ListSince(ctx, docID, uptoLSN)
	if err != nil {
		return nil, err
	}

	expected := uptoLSN + 1
	batches := make([][]transform.Step, 0, len(records))
	for _, rec := range records {
		if rec.LSN != expected {
			return nil, forgeerror.ReplayGap(docID, expected, rec.LSN)
		}
		expected = rec.LSN + 1

		raw, err := a.codec.Decode(rec.Payload)
		if err != nil {
			return nil, forgeerror.StoreIO(docID, err)
		}
		steps, err := transform.DecodeSteps(raw)
		if err != nil {
			return nil, forgeerror.StoreIO(docID, err)
		}
		batches = append(batches, steps)
	}
	return batches, nil
}
