// Command moduforge-demo wires a minimal moduforge-go runtime end to end:
// schema, one plugin, a driver selected by DetectTier, a persistence
// adapter, and one dispatched transaction followed by an undo and a redo.
// Grounded on core/cmd/helm/main.go's "connect infra, wire subsystems,
// serve until signal" shape, scaled down to a single process with no
// network listener.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/moduforge/moduforge-go/pkg/config"
	"github.com/moduforge/moduforge-go/pkg/event"
	"github.com/moduforge/moduforge-go/pkg/node"
	"github.com/moduforge/moduforge-go/pkg/observability"
	"github.com/moduforge/moduforge-go/pkg/persistence"
	"github.com/moduforge/moduforge-go/pkg/plugin"
	"github.com/moduforge/moduforge-go/pkg/runtime"
	"github.com/moduforge/moduforge-go/pkg/schema"
	"github.com/moduforge/moduforge-go/pkg/state"
	"github.com/moduforge/moduforge-go/pkg/transform"
	"go.opentelemetry.io/otel/metric"
)

func main() {
	os.Exit(Run())
}

func Run() int {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	opts, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		return 1
	}

	ctx := context.Background()

	sch, err := buildSchema()
	if err != nil {
		logger.Error("schema compile failed", "error", err)
		return 1
	}

	wordCount, err := newWordCountPlugin()
	if err != nil {
		logger.Error("plugin init failed", "error", err)
		return 1
	}

	initial, err := state.Create(ctx, state.Config{
		Schema:  sch,
		Plugins: []*plugin.Plugin{wordCount},
	})
	if err != nil {
		logger.Error("state create failed", "error", err)
		return 1
	}

	bus := event.New(opts.QueueSize, logger)

	adapter, closeStore, err := setupPersistence(ctx, opts, logger)
	if err != nil {
		logger.Error("persistence setup failed", "error", err)
		return 1
	}
	defer closeStore()
	bus.AddEventHandlers(map[string]event.Handler{"persistence": adapter})

	otelProvider, err := observability.New(ctx, observability.Config{
		ServiceName:  "moduforge-demo",
		OTLPEndpoint: opts.OTLPEndpoint,
	})
	if err != nil {
		logger.Error("observability setup failed", "error", err)
		return 1
	}
	defer func() { _ = otelProvider.Shutdown(ctx) }()

	tier := resolveTier(opts.Tier)
	logger.Info("selected driver tier", "tier", tier.Tier, "history_limit", tier.HistoryLimit)

	driver := newDriver(tier, initial, bus, otelProvider.Meter(), logger)
	defer driver.Destroy(ctx)

	doc := initial.Doc()
	paragraph := &node.Node{ID: "p1", Type: "paragraph", Attrs: node.Attrs{"align": "left"}}
	tr := transform.NewTransaction(doc, sch)
	if err := tr.Step(transform.AddNode{
		ParentID: doc.RootID(),
		Nodes:    []*node.Node{paragraph},
		NodePool: map[string]*node.Node{"p1": paragraph},
	}); err != nil {
		logger.Error("step failed", "error", err)
		return 1
	}
	tr.SetMeta("doc_id", "demo-doc")
	tr.Commit()

	if _, err := driver.Dispatch(ctx, tr, "insert paragraph"); err != nil {
		logger.Error("dispatch failed", "error", err)
		return 1
	}
	logger.Info("dispatched", "version", driver.State().Version())

	if err := driver.Undo(ctx); err != nil {
		logger.Error("undo failed", "error", err)
		return 1
	}
	logger.Info("undone", "version", driver.State().Version())

	if err := driver.Redo(ctx); err != nil {
		logger.Error("redo failed", "error", err)
		return 1
	}
	logger.Info("redone", "version", driver.State().Version())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("moduforge-demo ready, press ctrl+c to stop")
	<-sigCh
	logger.Info("shutting down")
	return 0
}

func buildSchema() (*schema.Schema, error) {
	return schema.Compile(schema.Spec{
		TopNode: "doc",
		Nodes: []schema.NodeSpec{
			{Name: "doc", Content: "paragraph*"},
			{Name: "paragraph", Content: "text*", Group: "block", Attrs: map[string]schema.AttributeSpec{
				"align": {Default: "left"},
			}},
			{Name: "text", Group: "inline"},
		},
	})
}

// newWordCountPlugin tracks the document's node count (not a word count,
// despite the plugin's name) across every dispatched transaction, the same "StateField.Apply folds, nothing to filter or
// append" shape spec.md §4.3 calls the simplest plugin flavor.
func newWordCountPlugin() (*plugin.Plugin, error) {
	return plugin.New(plugin.Metadata{
		Name:        "word-count",
		Version:     "1.0.0",
		Description: "tracks a running node count across transactions",
		Priority:    0,
	}, plugin.WithStateField(wordCountField{}))
}

type wordCountField struct{}

func (wordCountField) Init(ctx context.Context, cfg *plugin.Config, partial plugin.State) (plugin.PluginState, error) {
	return cfg.Doc.Len(), nil
}

func (wordCountField) Apply(ctx context.Context, tr *transform.Transaction, old plugin.PluginState, oldState, newState plugin.State) (plugin.PluginState, error) {
	return newState.Doc().Len(), nil
}

func setupPersistence(ctx context.Context, opts config.RuntimeOptions, logger *slog.Logger) (*persistence.Adapter, func(), error) {
	db, err := sql.Open("sqlite", opts.PersistenceDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}

	store := persistence.NewSQLEventStore(db)
	if err := store.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init event store: %w", err)
	}

	codec, err := persistence.ResolveCodec(opts.SnapshotCodec)
	if err != nil {
		logger.Warn("snapshot codec unavailable, falling back to none", "requested", opts.SnapshotCodec, "error", err)
		codec = persistence.NoneCodec{}
	}

	mode := persistence.CommitMode(opts.CommitMode)
	adapter := persistence.NewAdapter(store, codec, persistence.DefaultThresholds(), mode, nil, logger)
	return adapter, func() { _ = db.Close() }, nil
}

// resolveTier honors an explicit RuntimeOptions.Tier ("sync"/"async"/"actor") over
// DetectTier's CPU-based pick, which only applies when Tier is "auto" (or unset).
func resolveTier(configured string) runtime.TierConfig {
	detected := runtime.DetectTier()
	switch runtime.Tier(configured) {
	case runtime.TierSync, runtime.TierAsync, runtime.TierActor:
		detected.Tier = runtime.Tier(configured)
	}
	return detected
}

func newDriver(tier runtime.TierConfig, initial *state.State, bus *event.Bus, meter metric.Meter, logger *slog.Logger) runtime.Driver {
	switch tier.Tier {
	case runtime.TierAsync:
		return runtime.NewAsync(initial, tier.HistoryLimit, tier.QueueSize, tier.DispatchTimeout, bus, nil, meter, logger)
	case runtime.TierActor:
		return runtime.NewActor(initial, tier.HistoryLimit, tier.MailboxSize, bus, nil, meter, logger)
	default:
		return runtime.NewSync(initial, tier.HistoryLimit, bus, nil, meter, logger)
	}
}
