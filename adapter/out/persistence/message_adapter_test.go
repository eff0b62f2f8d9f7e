package persistence

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"mailwatch/core/domain"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "pgx"), mock
}

func TestUpsertMessageReturnsIDOnConflict(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewMessageAdapter(db)

	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs("key1", "user@example.com", "<mid@x>", "Invoice", "hash1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := adapter.UpsertMessage(context.Background(), &domain.Message{
		IdempKey:   "key1",
		MailboxID:  "user@example.com",
		ExternalID: "<mid@x>",
		Subject:    "Invoice",
		BodyHash:   "hash1",
		ReceivedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpsertClassificationNullableWatcher(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewMessageAdapter(db)

	// Empty watcher_id and extracted_data go to the database as NULL.
	mock.ExpectExec(`INSERT INTO classifications`).
		WithArgs(int64(42), "invoice", 0.91, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := adapter.UpsertClassification(context.Background(), &domain.Classification{
		MessageID:  42,
		Class:      "invoice",
		Confidence: 0.91,
	})
	if err != nil {
		t.Fatalf("UpsertClassification: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListMessagesJoinsClassification(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewMessageAdapter(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "idemp_key", "mailbox_id", "external_id", "subject",
		"body_hash", "received_at", "created_at", "updated_at",
		"class_id", "class", "confidence", "watcher_id", "extracted_data",
	}).
		AddRow(int64(1), "k1", "m", "e1", "s1", "h1", now, now, now,
			int64(7), "invoice", 0.8, "w1", `{"vendor":"acme"}`).
		AddRow(int64(2), "k2", "m", "e2", "s2", "h2", now, now, now,
			nil, nil, nil, nil, nil)

	mock.ExpectQuery(`SELECT m\.id`).
		WithArgs("m", 10).
		WillReturnRows(rows)

	results, err := adapter.ListMessages(context.Background(), "m", 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d rows, want 2", len(results))
	}
	if results[0].Classification == nil || results[0].Classification.Class != "invoice" {
		t.Errorf("first row classification = %+v", results[0].Classification)
	}
	if results[1].Classification != nil {
		t.Errorf("second row should have no classification")
	}
}

func TestScanStateAdvanceAndComplete(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewScanStateAdapter(db)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE mailbox_scan_status`).
		WithArgs(int64(120), "m").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := adapter.AdvanceUID(ctx, "m", 120); err != nil {
		t.Fatalf("AdvanceUID: %v", err)
	}

	mock.ExpectExec(`UPDATE mailbox_scan_status`).
		WithArgs("m").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := adapter.CompleteInitialScan(ctx, "m"); err != nil {
		t.Fatalf("CompleteInitialScan: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
