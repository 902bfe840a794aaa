package transform

import (
	"sync/atomic"

	"github.com/moduforge/moduforge-go/pkg/node"
	"github.com/moduforge/moduforge-go/pkg/schema"
)

// idCounter is the process-wide monotonic transaction id source, per
// spec.md §3 ("Identity is a process-unique id (atomic counter)").
var idCounter uint64

// NextTransactionID returns the next process-unique transaction id.
func NextTransactionID() uint64 {
	return atomic.AddUint64(&idCounter, 1)
}

// Transaction is an ordered list of steps plus identity and metadata, per
// spec.md §3. It wraps a Transform so callers build it the same way
// (tr.Step(...), tr.Doc()) and then Commit it to freeze it for dispatch.
type Transaction struct {
	*Transform
	ID          uint64
	BaseDoc     *node.Pool
	Meta        map[string]interface{}
	StoredMarks node.MarkSet
	Description string
}

// NewTransaction starts a new draft-mutable transaction over base.
func NewTransaction(base *node.Pool, sch *schema.Schema) *Transaction {
	return &Transaction{
		Transform: New(base, sch),
		ID:        NextTransactionID(),
		BaseDoc:   base,
		Meta:      map[string]interface{}{},
	}
}

// SetMeta records a metadata key/value. It does not check whether the
// transaction is committed; State.Apply stamps meta on committed
// transactions.
func (tr *Transaction) SetMeta(key string, value interface{}) *Transaction {
	tr.Meta[key] = value
	return tr
}

// GetMeta reads a metadata key.
func (tr *Transaction) GetMeta(key string) (interface{}, bool) {
	v, ok := tr.Meta[key]
	return v, ok
}

// SetStoredMarks records marks to apply to the next insertion.
func (tr *Transaction) SetStoredMarks(marks node.MarkSet) *Transaction {
	tr.StoredMarks = marks
	return tr
}

// DocChanged reports whether the transaction holds at least one step (a
// cheap, conservative check: the docs are not compared, and any step applied
// at all counts as changed, matching "last(tr_result.transactions).changed_doc"
// in spec.md §4.9's dispatch pseudocode).
func (tr *Transaction) DocChanged() bool {
	return len(tr.Steps()) > 0
}
