package persistence

import (
	"context"
	"database/sql"
	"time"

	"mailwatch/core/domain"

	"github.com/jmoiron/sqlx"
)

type ScanStateAdapter struct {
	db *sqlx.DB
}

func NewScanStateAdapter(db *sqlx.DB) *ScanStateAdapter {
	return &ScanStateAdapter{db: db}
}

type scanStateEntity struct {
	MailboxID            string       `db:"mailbox_id"`
	InitialScanCompleted bool         `db:"initial_scan_completed"`
	LastScanUID          int64        `db:"last_scan_uid"`
	InitialScanDate      sql.NullTime `db:"initial_scan_date"`
	UpdatedAt            time.Time    `db:"updated_at"`
}

func (e *scanStateEntity) toDomain() *domain.MailboxScanStatus {
	s := &domain.MailboxScanStatus{
		MailboxID:            e.MailboxID,
		InitialScanCompleted: e.InitialScanCompleted,
		LastScanUID:          e.LastScanUID,
		UpdatedAt:            e.UpdatedAt,
	}
	if e.InitialScanDate.Valid {
		s.InitialScanDate = e.InitialScanDate.Time
	}
	return s
}

// Get returns the watermark row, creating a zeroed one on first sight so
// callers never deal with a missing row.
func (a *ScanStateAdapter) Get(ctx context.Context, mailboxID string) (*domain.MailboxScanStatus, error) {
	var entity scanStateEntity
	query := `SELECT * FROM mailbox_scan_status WHERE mailbox_id = $1`
	err := a.db.GetContext(ctx, &entity, query, mailboxID)
	if err == nil {
		return entity.toDomain(), nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	insert := `
		INSERT INTO mailbox_scan_status (mailbox_id, initial_scan_completed, last_scan_uid, initial_scan_date)
		VALUES ($1, FALSE, 0, NOW())
		ON CONFLICT (mailbox_id) DO NOTHING
	`
	if _, err := a.db.ExecContext(ctx, insert, mailboxID); err != nil {
		return nil, err
	}
	if err := a.db.GetContext(ctx, &entity, query, mailboxID); err != nil {
		return nil, err
	}
	return entity.toDomain(), nil
}

// AdvanceUID raises the watermark. The guard keeps it monotonic even if a
// stale caller passes a lower value.
func (a *ScanStateAdapter) AdvanceUID(ctx context.Context, mailboxID string, uid int64) error {
	query := `
		UPDATE mailbox_scan_status SET
			last_scan_uid = $1,
			updated_at = NOW()
		WHERE mailbox_id = $2 AND last_scan_uid < $1
	`
	_, err := a.db.ExecContext(ctx, query, uid, mailboxID)
	return err
}

// CompleteInitialScan flips the mode. One-way: a completed mailbox never
// returns to the date-window scan.
func (a *ScanStateAdapter) CompleteInitialScan(ctx context.Context, mailboxID string) error {
	query := `
		UPDATE mailbox_scan_status SET
			initial_scan_completed = TRUE,
			updated_at = NOW()
		WHERE mailbox_id = $1 AND initial_scan_completed = FALSE
	`
	_, err := a.db.ExecContext(ctx, query, mailboxID)
	return err
}
