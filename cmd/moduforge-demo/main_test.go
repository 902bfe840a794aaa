package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/moduforge/moduforge-go/pkg/config"
	"github.com/moduforge/moduforge-go/pkg/event"
	"github.com/moduforge/moduforge-go/pkg/plugin"
	"github.com/moduforge/moduforge-go/pkg/runtime"
	"github.com/moduforge/moduforge-go/pkg/state"
	"github.com/moduforge/moduforge-go/pkg/transform"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildSchemaCompilesDocParagraphText(t *testing.T) {
	sch, err := buildSchema()
	if err != nil {
		t.Fatalf("buildSchema() error = %v", err)
	}
	if sch.TopNode() != "doc" {
		t.Fatalf("TopNode() = %q, want doc", sch.TopNode())
	}
	if _, ok := sch.NodeType("paragraph"); !ok {
		t.Fatalf("expected paragraph node to be declared")
	}
}

func TestNewWordCountPluginTracksNodeCount(t *testing.T) {
	p, err := newWordCountPlugin()
	if err != nil {
		t.Fatalf("newWordCountPlugin() error = %v", err)
	}
	if p.Metadata.Name != "word-count" {
		t.Fatalf("Name = %q, want word-count", p.Metadata.Name)
	}

	sch, err := buildSchema()
	if err != nil {
		t.Fatalf("buildSchema() error = %v", err)
	}
	ctx := context.Background()
	st, err := state.Create(ctx, state.Config{Schema: sch, Plugins: []*plugin.Plugin{p}})
	if err != nil {
		t.Fatalf("state.Create() error = %v", err)
	}

	rawField, ok := st.PluginState("word-count")
	if !ok {
		t.Fatalf("expected a word-count plugin state to be registered")
	}
	field, ok := rawField.(int)
	if !ok {
		t.Fatalf("expected int plugin state, got %T", rawField)
	}
	if field != st.Doc().Len() {
		t.Fatalf("word count = %d, want %d", field, st.Doc().Len())
	}

	tr := transform.NewTransaction(st.Doc(), sch)
	tr.Commit()
	result, err := st.Apply(ctx, tr)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	rawAfter, ok := result.State.PluginState("word-count")
	if !ok {
		t.Fatalf("expected a word-count plugin state after apply")
	}
	if got := rawAfter.(int); got != result.State.Doc().Len() {
		t.Fatalf("word count after apply = %d, want %d", got, result.State.Doc().Len())
	}
}

func TestResolveTierHonorsExplicitConfiguration(t *testing.T) {
	for _, tier := range []string{"sync", "async", "actor"} {
		got := resolveTier(tier)
		if string(got.Tier) != tier {
			t.Fatalf("resolveTier(%q).Tier = %q, want %q", tier, got.Tier, tier)
		}
	}
}

func TestResolveTierFallsBackToDetectionOnUnknownValue(t *testing.T) {
	detected := runtime.DetectTier()
	got := resolveTier("auto")
	if got.Tier != detected.Tier {
		t.Fatalf("resolveTier(\"auto\").Tier = %q, want detected tier %q", got.Tier, detected.Tier)
	}

	got = resolveTier("not-a-real-tier")
	if got.Tier != detected.Tier {
		t.Fatalf("resolveTier(garbage).Tier = %q, want detected tier %q", got.Tier, detected.Tier)
	}
}

func TestNewDriverSelectsDriverByTier(t *testing.T) {
	ctx := context.Background()
	sch, err := buildSchema()
	if err != nil {
		t.Fatalf("buildSchema() error = %v", err)
	}
	st, err := state.Create(ctx, state.Config{Schema: sch})
	if err != nil {
		t.Fatalf("state.Create() error = %v", err)
	}
	bus := event.New(4, discardLogger())
	defer bus.Stop(ctx)

	for _, tier := range []runtime.Tier{runtime.TierSync, runtime.TierAsync, runtime.TierActor} {
		cfg := runtime.TierConfig{Tier: tier, HistoryLimit: 8, QueueSize: 4, MailboxSize: 4}
		d := newDriver(cfg, st, bus, nil, discardLogger())
		if d == nil {
			t.Fatalf("newDriver(%s) returned nil", tier)
		}
		d.Destroy(ctx)
	}
}

func TestSetupPersistenceInitializesSQLiteStore(t *testing.T) {
	ctx := context.Background()
	opts := config.Default()
	opts.PersistenceDSN = "file::memory:?cache=shared"

	adapter, closeStore, err := setupPersistence(ctx, opts, discardLogger())
	if err != nil {
		t.Fatalf("setupPersistence() error = %v", err)
	}
	defer closeStore()

	if adapter == nil {
		t.Fatalf("expected a non-nil adapter")
	}
}
