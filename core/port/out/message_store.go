package out

import (
	"context"

	"mailwatch/core/domain"
)

// MessageStore defines the outbound port for persisted messages and
// their classifications.
type MessageStore interface {
	// UpsertMessage inserts or updates by idemp_key and returns the
	// row ID either way.
	UpsertMessage(ctx context.Context, m *domain.Message) (int64, error)

	// UpsertClassification inserts or updates the 1:1 verdict for a
	// message.
	UpsertClassification(ctx context.Context, c *domain.Classification) error

	// ListMessages returns recent messages of a mailbox joined with
	// their classification, newest first.
	ListMessages(ctx context.Context, mailboxID string, limit int) ([]*MessageWithClassification, error)
}

// MessageWithClassification is the query-API read model.
type MessageWithClassification struct {
	Message        domain.Message
	Classification *domain.Classification
}
