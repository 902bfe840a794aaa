// Package forgeerror defines the stable error taxonomy for the ModuForge
// runtime core. Every error surfaced across the schema, transform, plugin,
// state, middleware, event, resource and persistence boundaries is one of
// the tagged types below so callers can branch with errors.As instead of
// string matching.
package forgeerror

import (
	"fmt"
	"time"
)

// Tag identifies an error family, stable across releases.
type Tag string

const (
	TagSchema      Tag = "schema"
	TagTransform   Tag = "transform"
	TagPlugin      Tag = "plugin"
	TagState       Tag = "state"
	TagMiddleware  Tag = "middleware"
	TagEvent       Tag = "event"
	TagResource    Tag = "resource"
	TagPersistence Tag = "persistence"
	TagTimeout     Tag = "timeout"
	TagInternal    Tag = "internal"
)

// SchemaError covers invalid content, missing attrs, unknown type/mark.
type SchemaError struct {
	Reason string
	Type   string
	Detail string
	Err    error
}

func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("schema: %s", e.Reason)
	if e.Type != "" {
		msg += fmt.Sprintf(" (type=%s)", e.Type)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
func (e *SchemaError) Unwrap() error { return e.Err }
func (e *SchemaError) Tag() Tag      { return TagSchema }

func Schema(reason, typ, detail string) *SchemaError {
	return &SchemaError{Reason: reason, Type: typ, Detail: detail}
}

func ContentMismatch(typ, detail string) *SchemaError {
	return &SchemaError{Reason: "content_mismatch", Type: typ, Detail: detail}
}

func MissingAttr(typ, attr string) *SchemaError {
	return &SchemaError{Reason: "missing_required_attr", Type: typ, Detail: attr}
}

func UnknownType(typ string) *SchemaError {
	return &SchemaError{Reason: "unknown_type", Type: typ}
}

// TransformError covers frozen transforms, step failures, rollback underflow.
type TransformError struct {
	Reason string
	Err    error
}

func (e *TransformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transform: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transform: %s", e.Reason)
}
func (e *TransformError) Unwrap() error { return e.Err }
func (e *TransformError) Tag() Tag      { return TagTransform }

func FrozenTransform() *TransformError {
	return &TransformError{Reason: "frozen_transform"}
}

func RollbackUnderflow(requested, available int) *TransformError {
	return &TransformError{Reason: fmt.Sprintf("rollback_underflow: requested=%d available=%d", requested, available)}
}

func StepFailed(err error) *TransformError {
	return &TransformError{Reason: "step_application_failed", Err: err}
}

// PluginError covers dependency, cycle, conflict, duplicate, hook failures.
type PluginError struct {
	Reason     string
	Plugin     string
	Missing    []string
	Cycles     [][]string
	Conflicted string
	Err        error
}

func (e *PluginError) Error() string {
	switch e.Reason {
	case "missing_dependency":
		return fmt.Sprintf("plugin %s: missing dependencies %v", e.Plugin, e.Missing)
	case "circular_dependency":
		return fmt.Sprintf("plugin dependency cycles detected: %v", e.Cycles)
	case "conflict":
		return fmt.Sprintf("plugin %s conflicts with registered plugin %s", e.Plugin, e.Conflicted)
	case "duplicate_registration":
		return fmt.Sprintf("plugin %s already registered", e.Plugin)
	case "hook_failure":
		return fmt.Sprintf("plugin %s hook failed: %v", e.Plugin, e.Err)
	default:
		return fmt.Sprintf("plugin %s: %s", e.Plugin, e.Reason)
	}
}
func (e *PluginError) Unwrap() error { return e.Err }
func (e *PluginError) Tag() Tag      { return TagPlugin }

func MissingDependency(plugin string, missing []string) *PluginError {
	return &PluginError{Reason: "missing_dependency", Plugin: plugin, Missing: missing}
}

func CircularDependency(cycles [][]string) *PluginError {
	return &PluginError{Reason: "circular_dependency", Cycles: cycles}
}

func Conflict(plugin, conflictedWith string) *PluginError {
	return &PluginError{Reason: "conflict", Plugin: plugin, Conflicted: conflictedWith}
}

func DuplicateRegistration(plugin string) *PluginError {
	return &PluginError{Reason: "duplicate_registration", Plugin: plugin}
}

func HookFailure(plugin string, err error) *PluginError {
	return &PluginError{Reason: "hook_failure", Plugin: plugin, Err: err}
}

// StateError covers apply_inner invariant violations and fixpoint divergence.
type StateError struct {
	Reason string
	Iters  int
	Err    error
}

func (e *StateError) Error() string {
	if e.Reason == "append_transaction_divergence" {
		return fmt.Sprintf("state: append_transaction did not converge after %d iterations", e.Iters)
	}
	if e.Err != nil {
		return fmt.Sprintf("state: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("state: %s", e.Reason)
}
func (e *StateError) Unwrap() error { return e.Err }
func (e *StateError) Tag() Tag      { return TagState }

func AppendTransactionDivergence(iters int) *StateError {
	return &StateError{Reason: "append_transaction_divergence", Iters: iters}
}

func InvalidPool(err error) *StateError {
	return &StateError{Reason: "apply_inner_invalid_pool", Err: err}
}

// MiddlewareError carries the middleware name and stage.
type MiddlewareError struct {
	Middleware string
	Stage      string // "before" | "after"
	Err        error
}

func (e *MiddlewareError) Error() string {
	return fmt.Sprintf("middleware %s (%s): %v", e.Middleware, e.Stage, e.Err)
}
func (e *MiddlewareError) Unwrap() error { return e.Err }
func (e *MiddlewareError) Tag() Tag      { return TagMiddleware }

func Middleware(name, stage string, err error) *MiddlewareError {
	return &MiddlewareError{Middleware: name, Stage: stage, Err: err}
}

// EventError covers broadcast-on-shut-bus and handler failures.
type EventError struct {
	Reason  string
	Handler string
	Err     error
}

func (e *EventError) Error() string {
	if e.Handler != "" {
		return fmt.Sprintf("event: %s (handler=%s): %v", e.Reason, e.Handler, e.Err)
	}
	return fmt.Sprintf("event: %s", e.Reason)
}
func (e *EventError) Unwrap() error { return e.Err }
func (e *EventError) Tag() Tag      { return TagEvent }

func BusShut() *EventError {
	return &EventError{Reason: "bus_shut"}
}

func HandlerFailure(handler string, err error) *EventError {
	return &EventError{Reason: "handler_failure", Handler: handler, Err: err}
}

// ResourceError covers lookups for unregistered types.
type ResourceError struct {
	TypeName string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource: type %s not registered", e.TypeName)
}
func (e *ResourceError) Tag() Tag { return TagResource }

func TypeNotRegistered(typeName string) *ResourceError {
	return &ResourceError{TypeName: typeName}
}

// PersistenceError covers store I/O, codec, checksum mismatch, replay gaps.
type PersistenceError struct {
	Reason string
	DocID  string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.DocID != "" {
		return fmt.Sprintf("persistence: %s (doc=%s): %v", e.Reason, e.DocID, e.Err)
	}
	return fmt.Sprintf("persistence: %s: %v", e.Reason, e.Err)
}
func (e *PersistenceError) Unwrap() error { return e.Err }
func (e *PersistenceError) Tag() Tag      { return TagPersistence }

func StoreIO(docID string, err error) *PersistenceError {
	return &PersistenceError{Reason: "store_io", DocID: docID, Err: err}
}

func ChecksumMismatch(docID string) *PersistenceError {
	return &PersistenceError{Reason: "checksum_mismatch", DocID: docID}
}

func ReplayGap(docID string, want, got uint64) *PersistenceError {
	return &PersistenceError{Reason: fmt.Sprintf("replay_gap: want_lsn>%d got_lsn=%d", want, got), DocID: docID}
}

// TimeoutError is a generic bounded-wait expiry.
type TimeoutError struct {
	Operation string
	Limit     time.Duration
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s exceeded %s (elapsed %s)", e.Operation, e.Limit, e.Elapsed)
}
func (e *TimeoutError) Tag() Tag { return TagTimeout }

func Timeout(operation string, limit, elapsed time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Limit: limit, Elapsed: elapsed}
}

// InternalError always indicates a bug: an invariant was violated.
type InternalError struct {
	Invariant string
	Err       error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal: invariant violated: %s: %v", e.Invariant, e.Err)
}
func (e *InternalError) Unwrap() error { return e.Err }
func (e *InternalError) Tag() Tag      { return TagInternal }

func Internal(invariant string, err error) *InternalError {
	return &InternalError{Invariant: invariant, Err: err}
}

// Retryable reports whether an error is safe to retry with backoff
// (timeouts and persistence I/O), per spec.md §7's propagation rules.
func Retryable(err error) bool {
	type tagger interface{ Tag() Tag }
	t, ok := err.(tagger)
	if !ok {
		return false
	}
	switch t.Tag() {
	case TagTimeout:
		return true
	case TagPersistence:
		pe, ok := err.(*PersistenceError)
		return ok && pe.Reason == "store_io"
	default:
		return false
	}
}
