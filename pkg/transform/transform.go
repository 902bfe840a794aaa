package transform

import (
	"github.com/moduforge/moduforge-go/pkg/forgeerror"
	"github.com/moduforge/moduforge-go/pkg/node"
	"github.com/moduforge/moduforge-go/pkg/schema"
)

// Transform is a lazy, draft-based step builder over a NodePool, per
// spec.md §4.2. base is never mutated; draft is a clone of base made on the
// first Step call, each step's Apply returns a new pool that replaces it, and
// Doc returns the current draft without copying it.
type Transform struct {
	schema *schema.Schema
	base   *node.Pool
	draft  *node.Pool
	steps  []Step
	dirty  bool
	cached *node.Pool
	frozen bool
}

// New starts a Transform over base using sch to validate every step.
func New(base *node.Pool, sch *schema.Schema) *Transform {
	return &Transform{schema: sch, base: base}
}

// Steps returns the steps applied so far, in order. The returned slice must
// not be mutated by the caller.
func (t *Transform) Steps() []Step { return t.steps }

// Step applies one step to the draft. On failure the draft is left exactly
// as it was before the call (step-level atomicity, spec.md §4.2).
func (t *Transform) Step(s Step) error {
	if t.frozen {
		return forgeerror.FrozenTransform()
	}
	if t.draft == nil {
		t.draft = t.base.Clone()
	}
	next, err := s.Apply(t.draft, t.schema)
	if err != nil {
		return err
	}
	t.draft = next
	t.steps = append(t.steps, s)
	t.dirty = true
	t.cached = nil
	return nil
}

// ApplyStepsBatch applies steps in order; if any step fails the whole batch
// is rolled back atomically and the transform's Doc() is unchanged from
// before the call, per spec.md §4.2 and the atomicity property in §8.
func (t *Transform) ApplyStepsBatch(steps []Step) error {
	if t.frozen {
		return forgeerror.FrozenTransform()
	}
	savedDraft := t.draft
	savedLen := len(t.steps)
	savedDirty := t.dirty
	savedCached := t.cached
	for _, s := range steps {
		if err := t.Step(s); err != nil {
			t.draft = savedDraft
			t.steps = t.steps[:savedLen]
			t.dirty = savedDirty
			t.cached = savedCached
			return err
		}
	}
	return nil
}

// Doc materializes the current document: the draft is frozen into a cached
// pool once per change, and that cache is reused until the next Step call.
func (t *Transform) Doc() *node.Pool {
	if !t.dirty && t.cached != nil {
		return t.cached
	}
	if t.draft == nil {
		t.cached = t.base
		t.dirty = false
		return t.cached
	}
	t.cached = t.draft
	t.dirty = false
	return t.cached
}

// Commit freezes the transform: further Step/Rollback calls fail with
// ForgeError(Transform, frozen_transform).
func (t *Transform) Commit() {
	t.frozen = true
}

// Committed reports whether Commit has been called.
func (t *Transform) Committed() bool { return t.frozen }

// RollbackSteps pops the last n steps, applying each one's inverse to the
// draft in reverse order, per spec.md §4.2.
func (t *Transform) RollbackSteps(n int) error {
	if t.frozen {
		return forgeerror.FrozenTransform()
	}
	if n < 0 || n > len(t.steps) {
		return forgeerror.RollbackUnderflow(n, len(t.steps))
	}
	for i := 0; i < n; i++ {
		last := t.steps[len(t.steps)-1]
		// The draft immediately before `last` applied is the pool we invert
		// against; we recompute it by replaying steps[:len-1] from base,
		// since Transform does not keep every intermediate pool around.
		before := t.poolBeforeStep(len(t.steps) - 1)
		inverse := last.Invert(before)
		reverted, err := inverse.Apply(t.draft, t.schema)
		if err != nil {
			return forgeerror.StepFailed(err)
		}
		t.draft = reverted
		t.steps = t.steps[:len(t.steps)-1]
	}
	t.dirty = true
	t.cached = nil
	return nil
}

// Rollback undoes every step, returning the draft to a clone of base.
func (t *Transform) Rollback() error {
	return t.RollbackSteps(len(t.steps))
}

// poolBeforeStep replays steps[:index] from base to recover the pool state
// immediately before steps[index] was originally applied. Transform favors
// simplicity over speed here: rollback is not a hot path, unlike Step/Doc.
func (t *Transform) poolBeforeStep(index int) *node.Pool {
	pool := t.base
	for i := 0; i < index; i++ {
		next, err := t.steps[i].Apply(pool, t.schema)
		if err != nil {
			// The step already applied successfully once; a second
			// application against the same lineage cannot fail.
			panic(forgeerror.Internal("replay_for_rollback", err))
		}
		pool = next
	}
	return pool
}
