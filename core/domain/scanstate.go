package domain

import "time"

// MailboxScanStatus is the poller's per-mailbox watermark.
//
// Before InitialScanCompleted flips, scans search by date window
// (INITIAL mode). After, scans fetch UIDs strictly above LastScanUID
// (INCREMENTAL mode). The flip is one-way.
type MailboxScanStatus struct {
	MailboxID            string
	InitialScanCompleted bool
	LastScanUID          int64
	InitialScanDate      time.Time
	UpdatedAt            time.Time
}
