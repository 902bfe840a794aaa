// Package state implements the state engine described in spec.md §4.4: the
// fixpoint apply loop that folds a transaction and any plugin-appended
// follow-up transactions into a new State. Grounded on the deterministic
// reducer shape of core/pkg/store/ledger's apply-and-fold pattern, adapted to
// the ProseMirror-lineage fixpoint algorithm spec.md calls for.
package state

import (
	"context"

	"github.com/moduforge/moduforge-go/pkg/forgeerror"
	"github.com/moduforge/moduforge-go/pkg/node"
	"github.com/moduforge/moduforge-go/pkg/plugin"
	"github.com/moduforge/moduforge-go/pkg/resource"
	"github.com/moduforge/moduforge-go/pkg/schema"
	"github.com/moduforge/moduforge-go/pkg/transform"
)

// iterMax bounds the append_transaction fixpoint loop, per spec.md §4.4.
const iterMax = 1000

// Config mirrors plugin.Config; State.Create builds one before running
// plugin Init hooks.
type Config = plugin.Config

// State is an immutable (by convention — callers must not mutate doc/plugin
// states in place) snapshot of a document plus its plugin-owned state and a
// monotonic version. It implements plugin.State.
type State struct {
	schema       *schema.Schema
	doc          *node.Pool
	plugins      []*plugin.Plugin
	pluginStates map[string]plugin.PluginState
	resources    *resource.Manager
	version      uint64
}

var _ plugin.State = (*State)(nil)

func (s *State) Doc() *node.Pool                      { return s.doc }
func (s *State) Schema() *schema.Schema                { return s.schema }
func (s *State) Resources() *resource.Manager          { return s.resources }
func (s *State) Version() uint64                       { return s.version }
func (s *State) Plugins() []*plugin.Plugin             { return s.plugins }
func (s *State) PluginState(name string) (plugin.PluginState, bool) {
	v, ok := s.pluginStates[name]
	return v, ok
}

// WithVersion returns a shallow copy of s stamped with v, used by the
// runtime to mint a fresh monotonic version when restoring a historical
// state (undo/redo/jump) without re-running any plugin hook.
func (s *State) WithVersion(v uint64) *State {
	next := *s
	next.version = v
	return &next
}

// Create runs State::create per spec.md §4.4: resolves the document
// (config.Doc, or fills the schema's top node when absent), orders plugins
// via a DependencyGraph, and runs each plugin's Init hook in that order so a
// later plugin may read an earlier plugin's freshly-initialized state.
func Create(ctx context.Context, cfg Config) (*State, error) {
	sch := cfg.Schema
	doc := cfg.Doc
	if doc == nil {
		top := sch.TopNode()
		result, err := sch.CreateAndFill(top, nil, nil, nil)
		if err != nil {
			return nil, err
		}
		pool, err := schema.BuildPool(result, nil)
		if err != nil {
			return nil, err
		}
		doc = pool
	}

	ordered, err := orderPlugins(cfg.Plugins)
	if err != nil {
		return nil, err
	}

	res := cfg.Resource
	if res == nil {
		res = resource.NewManager()
	}

	s := &State{
		schema:       sch,
		doc:          doc,
		plugins:      ordered,
		pluginStates: map[string]plugin.PluginState{},
		resources:    res,
		version:      1,
	}

	for _, p := range ordered {
		if p.StateField == nil {
			continue
		}
		ps, err := p.StateField.Init(ctx, &cfg, s)
		if err != nil {
			return nil, forgeerror.HookFailure(p.Metadata.Name, err)
		}
		s.pluginStates[p.Metadata.Name] = ps
	}
	return s, nil
}

// TransactionResult is the output of Apply: the new state plus every
// transaction that was folded into it (the root transaction first, then any
// plugin-appended follow-ups, in application order). When a filter rejects
// the root transaction, State is the unchanged receiver and Transactions
// holds only that rejected root transaction.
type TransactionResult struct {
	State        *State
	Transactions []*transform.Transaction
}

// seenEntry tracks, per plugin index, the state append_transaction last saw
// and how many transactions it has already been offered.
type seenEntry struct {
	state *State
	n     int
}

// Apply runs the State::apply fixpoint loop from spec.md §4.4.
func (s *State) Apply(ctx context.Context, rootTr *transform.Transaction) (*TransactionResult, error) {
	for _, p := range s.plugins {
		ok, err := p.FilterTransaction(ctx, rootTr, s)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &TransactionResult{State: s, Transactions: []*transform.Transaction{rootTr}}, nil
		}
	}

	trs := []*transform.Transaction{rootTr}
	newState, err := s.applyInner(ctx, rootTr)
	if err != nil {
		return nil, err
	}

	var seen []seenEntry // nil until the first append_transaction fires, per spec.md's "seen ← None"

	for iter := 0; ; iter++ {
		if iter >= iterMax {
			return nil, forgeerror.AppendTransactionDivergence(iter)
		}
		progressed := false

		for i, p := range s.plugins {
			if p.Append == nil {
				if seen != nil {
					seen[i] = seenEntry{state: newState, n: len(trs)}
				}
				continue
			}

			oldStateI := s
			nI := 0
			if seen != nil {
				oldStateI = seen[i].state
				nI = seen[i].n
			}

			if nI < len(trs) {
				extra, err := p.Append(ctx, trs[nI:], oldStateI, newState)
				if err != nil {
					return nil, forgeerror.HookFailure(p.Metadata.Name, err)
				}
				if extra != nil {
					accepted := true
					for j, other := range s.plugins {
						if j == i {
							continue
						}
						ok, err := other.FilterTransaction(ctx, extra, newState)
						if err != nil {
							return nil, err
						}
						if !ok {
							accepted = false
							break
						}
					}
					if accepted {
						extra.SetMeta("appendedTransaction", rootTr)
						if seen == nil {
							seen = make([]seenEntry, len(s.plugins))
							for j := range s.plugins {
								if j < i {
									seen[j] = seenEntry{state: newState, n: len(trs)}
								} else {
									seen[j] = seenEntry{state: s, n: 0}
								}
							}
						}
						newState, err = newState.applyInner(ctx, extra)
						if err != nil {
							return nil, err
						}
						trs = append(trs, extra)
						progressed = true
					}
				}
			}

			// seen[i] is updated exactly once per pass, after the if branch
			// above, regardless of whether this plugin appended anything —
			// the resolution of spec.md §9's open question on seen[i]
			// bookkeeping recorded in SPEC_FULL.md.
			if seen != nil {
				seen[i] = seenEntry{state: newState, n: len(trs)}
			}
		}

		if !progressed {
			return &TransactionResult{State: newState, Transactions: trs}, nil
		}
	}
}

// applyInner implements apply_inner: swap the doc, fold every plugin's Apply
// hook, and assign a fresh version.
func (s *State) applyInner(ctx context.Context, tr *transform.Transaction) (*State, error) {
	next := &State{
		schema:       s.schema,
		doc:          tr.Doc(),
		plugins:      s.plugins,
		pluginStates: make(map[string]plugin.PluginState, len(s.pluginStates)),
		resources:    s.resources,
		version:      s.version + 1,
	}
	for k, v := range s.pluginStates {
		next.pluginStates[k] = v
	}

	for _, p := range s.plugins {
		if p.StateField == nil {
			continue
		}
		old := s.pluginStates[p.Metadata.Name]
		updated, err := p.StateField.Apply(ctx, tr, old, s, next)
		if err != nil {
			return nil, forgeerror.HookFailure(p.Metadata.Name, err)
		}
		next.pluginStates[p.Metadata.Name] = updated
	}
	return next, nil
}

// Reconfigure rebuilds the plugin set while keeping the current document: a
// plugin whose name persists keeps its existing PluginState; a new plugin
// gets Init called, per spec.md §4.4.
func Reconfigure(ctx context.Context, old *State, cfg Config) (*State, error) {
	cfg.Doc = old.doc
	ordered, err := orderPlugins(cfg.Plugins)
	if err != nil {
		return nil, err
	}

	res := cfg.Resource
	if res == nil {
		res = old.resources
	}

	next := &State{
		schema:       cfg.Schema,
		doc:          old.doc,
		plugins:      ordered,
		pluginStates: map[string]plugin.PluginState{},
		resources:    res,
		version:      old.version + 1,
	}

	for _, p := range ordered {
		if p.StateField == nil {
			continue
		}
		if existing, ok := old.pluginStates[p.Metadata.Name]; ok {
			next.pluginStates[p.Metadata.Name] = existing
			continue
		}
		ps, err := p.StateField.Init(ctx, &cfg, next)
		if err != nil {
			return nil, forgeerror.HookFailure(p.Metadata.Name, err)
		}
		next.pluginStates[p.Metadata.Name] = ps
	}
	return next, nil
}

func orderPlugins(plugins []*plugin.Plugin) ([]*plugin.Plugin, error) {
	g := plugin.NewDependencyGraph()
	for _, p := range plugins {
		if err := g.Register(p); err != nil {
			return nil, err
		}
	}
	return g.Build()
}
