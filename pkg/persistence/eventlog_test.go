package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestSQLEventStoreInitExecutesSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS moduforge_events").WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewSQLEventStore(db)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLEventStoreAppendReturnsAssignedLSN(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	mock.ExpectExec("INSERT INTO moduforge_events").WillReturnResult(sqlmock.NewResult(7, 1))

	s := NewSQLEventStore(db)
	rec := NewEventRecord("doc-1", 1, []byte("payload"), nil)
	lsn, err := s.Append(context.Background(), rec)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if lsn != 7 {
		t.Fatalf("Append() lsn = %d, want 7", lsn)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLEventStoreAppendWrapsExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	mock.ExpectExec("INSERT INTO moduforge_events").WillReturnError(errors.New("disk full"))

	s := NewSQLEventStore(db)
	rec := NewEventRecord("doc-1", 1, []byte("payload"), nil)
	if _, err := s.Append(context.Background(), rec); err == nil {
		t.Fatalf("expected Append() to propagate exec error")
	}
}

func TestSQLEventStoreListSinceReturnsOrderedRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	payload := []byte("step-bytes")
	rec := NewEventRecord("doc-1", 1, payload, map[string]interface{}{"k": "v"})
	rows := sqlmock.NewRows([]string{"lsn", "doc_id", "tr_id", "idempotency_key", "timestamp", "payload", "meta", "checksum"}).
		AddRow(uint64(1), "doc-1", uint64(1), rec.IdempotencyKey, now, payload, []byte(`{"k":"v"}`), rec.Checksum)
	mock.ExpectQuery("SELECT lsn, doc_id, tr_id, idempotency_key, timestamp, payload, meta, checksum").WillReturnRows(rows)

	s := NewSQLEventStore(db)
	out, err := s.ListSince(context.Background(), "doc-1", 0)
	if err != nil {
		t.Fatalf("ListSince() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("ListSince() returned %d records, want 1", len(out))
	}
	if out[0].Meta["k"] != "v" {
		t.Fatalf("ListSince()[0].Meta = %v, want k=v", out[0].Meta)
	}
}

func TestSQLEventStoreListSinceDetectsChecksumMismatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"lsn", "doc_id", "tr_id", "idempotency_key", "timestamp", "payload", "meta", "checksum"}).
		AddRow(uint64(1), "doc-1", uint64(1), "tr:1", time.Now().UTC(), []byte("payload"), []byte("{}"), uint32(0))
	mock.ExpectQuery("SELECT lsn, doc_id, tr_id, idempotency_key, timestamp, payload, meta, checksum").WillReturnRows(rows)

	s := NewSQLEventStore(db)
	if _, err := s.ListSince(context.Background(), "doc-1", 0); err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
}

func TestSQLEventStoreLatestSnapshotReturnsNilWhenAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	mock.ExpectQuery("SELECT doc_id, upto_lsn, blob, version FROM moduforge_snapshots").WillReturnRows(
		sqlmock.NewRows([]string{"doc_id", "upto_lsn", "blob", "version"}),
	)

	s := NewSQLEventStore(db)
	snap, err := s.LatestSnapshot(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if snap != nil {
		t.Fatalf("LatestSnapshot() = %v, want nil", snap)
	}
}

func TestSQLEventStorePutSnapshotUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	mock.ExpectExec("INSERT INTO moduforge_snapshots").WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewSQLEventStore(db)
	err = s.PutSnapshot(context.Background(), Snapshot{DocID: "doc-1", UptoLSN: 5, Blob: []byte("x"), Version: 1})
	if err != nil {
		t.Fatalf("PutSnapshot() error = %v", err)
	}
}

func TestSQLEventStoreHasIdempotencyKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	mock.ExpectQuery("SELECT 1 FROM moduforge_events").WillReturnRows(
		sqlmock.NewRows([]string{"1"}).AddRow(1),
	)

	s := NewSQLEventStore(db)
	ok, err := s.HasIdempotencyKey(context.Background(), "doc-1", "tr:1")
	if err != nil {
		t.Fatalf("HasIdempotencyKey() error = %v", err)
	}
	if !ok {
		t.Fatalf("HasIdempotencyKey() = false, want true")
	}
}

func TestSQLEventStoreHasIdempotencyKeyAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	mock.ExpectQuery("SELECT 1 FROM moduforge_events").WillReturnRows(
		sqlmock.NewRows([]string{"1"}),
	)

	s := NewSQLEventStore(db)
	ok, err := s.HasIdempotencyKey(context.Background(), "doc-1", "tr:999")
	if err != nil {
		t.Fatalf("HasIdempotencyKey() error = %v", err)
	}
	if ok {
		t.Fatalf("HasIdempotencyKey() = true, want false")
	}
}
