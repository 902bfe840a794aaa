// Package persistence implements the event-store/snapshot adapter from
// spec.md §4.10: framing steps into EventRecords with a monotonic lsn,
// threshold-based snapshotting, and replay. Grounded on
// core/pkg/store/ledger/sql_ledger.go's database/sql schema-init-and-CRUD
// shape, adapted from an obligations ledger to an append-only event log.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/moduforge/moduforge-go/pkg/forgeerror"
)

// ErrNotFound is returned when a lookup finds nothing.
var ErrNotFound = errors.New("persistence: not found")

// EventRecord is one framed, durable transaction, per spec.md §4.10.
type EventRecord struct {
	LSN            uint64
	TrID           uint64
	DocID          string
	Timestamp      time.Time
	IdempotencyKey string
	Payload        []byte
	Meta           map[string]interface{}
	Checksum       uint32
}

// NewEventRecord frames payload (already-encoded steps) for docID/trID,
// computing the idempotency key and checksum per spec.md §4.10.
func NewEventRecord(docID string, trID uint64, payload []byte, meta map[string]interface{}) EventRecord {
	return EventRecord{
		TrID:           trID,
		DocID:          docID,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: fmt.Sprintf("tr:%d", trID),
		Payload:        payload,
		Meta:           meta,
		Checksum:       crc32.ChecksumIEEE(payload),
	}
}

// Snapshot is a point-in-time serialized State, per spec.md §4.10.
type Snapshot struct {
	DocID   string
	UptoLSN uint64
	Blob    []byte
	Version uint64
}

// EventStore is the event-log interface the persistence adapter subscribes
// through; concrete backends must guarantee monotonic lsn per doc_id.
type EventStore interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, rec EventRecord) (uint64, error)
	ListSince(ctx context.Context, docID string, afterLSN uint64) ([]EventRecord, error)
	LatestSnapshot(ctx context.Context, docID string) (*Snapshot, error)
	PutSnapshot(ctx context.Context, snap Snapshot) error
	HasIdempotencyKey(ctx context.Context, docID, key string) (bool, error)
}

// SQLEventStore implements EventStore over database/sql, working against
// either modernc.org/sqlite or lib/pq depending on the *sql.DB it is given.
type SQLEventStore struct {
	db *sql.DB
}

// NewSQLEventStore wraps an already-opened *sql.DB.
func NewSQLEventStore(db *sql.DB) *SQLEventStore {
	return &SQLEventStore{db: db}
}

const eventLogSchema = `
CREATE TABLE IF NOT EXISTS moduforge_events (
	lsn INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id TEXT NOT NULL,
	tr_id INTEGER NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	timestamp TIMESTAMP NOT NULL,
	payload BLOB NOT NULL,
	meta TEXT,
	checksum INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS moduforge_snapshots (
	doc_id TEXT PRIMARY KEY,
	upto_lsn INTEGER NOT NULL,
	blob BLOB NOT NULL,
	version INTEGER NOT NULL
);
`

// Init creates the event-log and snapshot tables if they do not exist.
func (s *SQLEventStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, eventLogSchema)
	if err != nil {
		return forgeerror.StoreIO("", err)
	}
	return nil
}

// Append inserts rec and returns the lsn the store assigned. The
// idempotency-key unique constraint makes a duplicate Append for the same
// transaction id a no-op observed as an error the caller should ignore (the
// dispatcher is expected to check HasIdempotencyKey first, per spec.md
// §4.10's "for each transaction whose id is not already persisted").
func (s *SQLEventStore) Append(ctx context.Context, rec EventRecord) (uint64, error) {
	metaJSON, err := encodeMeta(rec.Meta)
	if err != nil {
		return 0, forgeerror.StoreIO(rec.DocID, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO moduforge_events (doc_id, tr_id, idempotency_key, timestamp, payload, meta, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.DocID, rec.TrID, rec.IdempotencyKey, rec.Timestamp, rec.Payload, metaJSON, rec.Checksum)
	if err != nil {
		return 0, forgeerror.StoreIO(rec.DocID, err)
	}
	lsn, err := res.LastInsertId()
	if err != nil {
		return 0, forgeerror.StoreIO(rec.DocID, err)
	}
	return uint64(lsn), nil
}

// ListSince returns every record for docID with lsn > afterLSN, in order.
func (s *SQLEventStore) ListSince(ctx context.Context, docID string, afterLSN uint64) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lsn, doc_id, tr_id, idempotency_key, timestamp, payload, meta, checksum
		FROM moduforge_events WHERE doc_id = $1 AND lsn > $2 ORDER BY lsn ASC
	`, docID, afterLSN)
	if err != nil {
		return nil, forgeerror.StoreIO(docID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var metaJSON []byte
		if err := rows.Scan(&rec.LSN, &rec.DocID, &rec.TrID, &rec.IdempotencyKey, &rec.Timestamp, &rec.Payload, &metaJSON, &rec.Checksum); err != nil {
			return nil, forgeerror.StoreIO(docID, err)
		}
		meta, err := decodeMeta(metaJSON)
		if err != nil {
			return nil, forgeerror.StoreIO(docID, err)
		}
		rec.Meta = meta
		if crc32.ChecksumIEEE(rec.Payload) != rec.Checksum {
			return nil, forgeerror.ChecksumMismatch(docID)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, forgeerror.StoreIO(docID, err)
	}
	return out, nil
}

// LatestSnapshot returns docID's most recent snapshot, or nil if none exists.
func (s *SQLEventStore) LatestSnapshot(ctx context.Context, docID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc_id, upto_lsn, blob, version FROM moduforge_snapshots WHERE doc_id = $1`, docID)
	var snap Snapshot
	if err := row.Scan(&snap.DocID, &snap.UptoLSN, &snap.Blob, &snap.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, forgeerror.StoreIO(docID, err)
	}
	return &snap, nil
}

// PutSnapshot upserts docID's snapshot.
func (s *SQLEventStore) PutSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO moduforge_snapshots (doc_id, upto_lsn, blob, version) VALUES ($1, $2, $3, $4)
		ON CONFLICT (doc_id) DO UPDATE SET upto_lsn = excluded.upto_lsn, blob = excluded.blob, version = excluded.version
	`, snap.DocID, snap.UptoLSN, snap.Blob, snap.Version)
	if err != nil {
		return forgeerror.StoreIO(snap.DocID, err)
	}
	return nil
}

// HasIdempotencyKey reports whether an event with key is already stored for docID.
func (s *SQLEventStore) HasIdempotencyKey(ctx context.Context, docID, key string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM moduforge_events WHERE doc_id = $1 AND idempotency_key = $2`, docID, key)
	var one int
	err := row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, forgeerror.StoreIO(docID, err)
	}
	return true, nil
}
