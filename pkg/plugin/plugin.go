// Package plugin implements the plugin metadata, hook capability set and
// dependency ordering described in spec.md §3 ("Plugin") and §4.3.
package plugin

import (
	"context"

	"github.com/Masterminds/semver/v3"
	"github.com/moduforge/moduforge-go/pkg/node"
	"github.com/moduforge/moduforge-go/pkg/resource"
	"github.com/moduforge/moduforge-go/pkg/schema"
	"github.com/moduforge/moduforge-go/pkg/transform"
)

// State is the minimal read surface of the state engine's State value that
// plugin hooks need. It is satisfied by pkg/state.State; defining it here
// (rather than importing pkg/state) avoids a plugin<->state import cycle,
// following the interfaces-first pattern in core/pkg/interfaces.
type State interface {
	Doc() *node.Pool
	Schema() *schema.Schema
	Resources() *resource.Manager
	Version() uint64
	PluginState(name string) (PluginState, bool)
}

// PluginState is a typed value owned by one plugin and reference-shared
// across State versions when unchanged (spec.md §3).
type PluginState = interface{}

// Config is passed to StateField.Init; it mirrors the Configuration built
// by State.Create in spec.md §4.4.
type Config struct {
	Schema   *schema.Schema
	Doc      *node.Pool
	Plugins  []*Plugin
	Options  map[string]interface{}
	Resource *resource.Manager
}

// StateField is the per-plugin state lifecycle hook.
type StateField interface {
	Init(ctx context.Context, cfg *Config, partial State) (PluginState, error)
	Apply(ctx context.Context, tr *transform.Transaction, old PluginState, oldState, newState State) (PluginState, error)
}

// FilterFunc decides whether a transaction may be applied.
type FilterFunc func(ctx context.Context, tr *transform.Transaction, st State) (bool, error)

// AppendFunc may synthesize one extra transaction to fold into the current
// dispatch's fixpoint loop (spec.md §4.4).
type AppendFunc func(ctx context.Context, trs []*transform.Transaction, oldState, newState State) (*transform.Transaction, error)

// Metadata describes one plugin, per spec.md §4.3.
type Metadata struct {
	Name         string
	Version      string // semver, e.g. "1.2.0"
	Description  string
	Author       string
	Dependencies []string
	Conflicts    []string
	Tags         []string
	Priority     int32
	// FilterExpr, when set, is a CEL boolean expression evaluated against
	// the transaction's meta map as a fast-path filter_transaction, ANDed
	// with Filter when both are present. Grounded on
	// core/pkg/kernel/cel_dp.go and core/pkg/governance/policy_evaluator_cel.go.
	FilterExpr string
}

// SemVer parses Metadata.Version, returning an error if it is not valid
// semver (plugins are still usable with an invalid/empty version; this is
// diagnostic tooling, not a registration gate).
func (m Metadata) SemVer() (*semver.Version, error) {
	if m.Version == "" {
		return nil, nil
	}
	return semver.NewVersion(m.Version)
}

// Plugin bundles metadata with its optional hook capabilities. All three
// hooks are optional, per the "capability set, not class hierarchy" design
// note in spec.md §9.
type Plugin struct {
	Metadata   Metadata
	StateField StateField
	Filter     FilterFunc
	Append     AppendFunc

	compiledFilter *celPredicate
}

// New builds a Plugin and, if Metadata.FilterExpr is set, compiles it.
func New(meta Metadata, opts ...Option) (*Plugin, error) {
	p := &Plugin{Metadata: meta}
	for _, o := range opts {
		o(p)
	}
	if meta.FilterExpr != "" {
		pred, err := compileCELPredicate(meta.FilterExpr)
		if err != nil {
			return nil, err
		}
		p.compiledFilter = pred
	}
	return p, nil
}

// Option configures a Plugin at construction time.
type Option func(*Plugin)

func WithStateField(sf StateField) Option { return func(p *Plugin) { p.StateField = sf } }
func WithFilter(f FilterFunc) Option      { return func(p *Plugin) { p.Filter = f } }
func WithAppend(a AppendFunc) Option      { return func(p *Plugin) { p.Append = a } }

// FilterTransaction runs both the CEL predicate (if compiled) and the
// explicit Filter hook (if set); both must pass. A plugin with neither
// configured accepts everything.
func (p *Plugin) FilterTransaction(ctx context.Context, tr *transform.Transaction, st State) (bool, error) {
	if p.compiledFilter != nil {
		ok, err := p.compiledFilter.eval(tr.Meta)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	if p.Filter != nil {
		return p.Filter(ctx, tr, st)
	}
	return true, nil
}
