package out

import (
	"context"

	"mailwatch/core/domain"
)

// ScanStateStore defines the outbound port for the poller watermark.
type ScanStateStore interface {
	// Get returns the scan status for a mailbox, inserting a zeroed
	// row on first sight.
	Get(ctx context.Context, mailboxID string) (*domain.MailboxScanStatus, error)

	// AdvanceUID raises last_scan_uid. Callers only pass values above
	// the current watermark.
	AdvanceUID(ctx context.Context, mailboxID string, uid int64) error

	// CompleteInitialScan flips initial_scan_completed. One-way.
	CompleteInitialScan(ctx context.Context, mailboxID string) error
}
