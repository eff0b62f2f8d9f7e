package out

import (
	"context"
	"time"
)

// MailMessage is one fetched message with its original bytes.
type MailMessage struct {
	UID        uint32
	MessageID  string
	From       string
	Subject    string
	ReceivedAt time.Time
	Raw        []byte
}

// MailboxState is the source-side mailbox snapshot taken at select time.
type MailboxState struct {
	UIDValidity uint32
	UIDNext     uint32
	NumMessages uint32
}

// MailSource defines the outbound port for the upstream mailbox.
type MailSource interface {
	// Connect dials and authenticates, selecting the inbox read-only.
	Connect(ctx context.Context) (*MailboxState, error)

	// SearchSince returns UIDs of messages received on or after since.
	SearchSince(ctx context.Context, since time.Time) ([]uint32, error)

	// SearchAfterUID returns UIDs strictly greater than lastUID.
	SearchAfterUID(ctx context.Context, lastUID uint32) ([]uint32, error)

	// Fetch retrieves up to limit messages for the given UIDs, with
	// envelope and full body.
	Fetch(ctx context.Context, uids []uint32, limit int) ([]*MailMessage, error)

	// Close logs out and releases the connection.
	Close() error
}
