// Package persistence implements the storage ports on Postgres.
package persistence

import (
	"context"
	"database/sql"
	"time"

	"mailwatch/core/domain"
	"mailwatch/core/port/out"

	"github.com/jmoiron/sqlx"
)

type MessageAdapter struct {
	db *sqlx.DB
}

func NewMessageAdapter(db *sqlx.DB) *MessageAdapter {
	return &MessageAdapter{db: db}
}

type messageEntity struct {
	ID         int64        `db:"id"`
	IdempKey   string       `db:"idemp_key"`
	MailboxID  string       `db:"mailbox_id"`
	ExternalID string       `db:"external_id"`
	Subject    string       `db:"subject"`
	BodyHash   string       `db:"body_hash"`
	ReceivedAt sql.NullTime `db:"received_at"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
}

func (e *messageEntity) toDomain() *domain.Message {
	m := &domain.Message{
		ID:         e.ID,
		IdempKey:   e.IdempKey,
		MailboxID:  e.MailboxID,
		ExternalID: e.ExternalID,
		Subject:    e.Subject,
		BodyHash:   e.BodyHash,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
	if e.ReceivedAt.Valid {
		m.ReceivedAt = e.ReceivedAt.Time
	}
	return m
}

// UpsertMessage inserts or updates by idemp_key. Duplicates refresh the
// mutable columns and always return the surviving row ID.
func (a *MessageAdapter) UpsertMessage(ctx context.Context, m *domain.Message) (int64, error) {
	query := `
		INSERT INTO messages (idemp_key, mailbox_id, external_id, subject, body_hash, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idemp_key) DO UPDATE SET
			subject = EXCLUDED.subject,
			body_hash = EXCLUDED.body_hash,
			received_at = EXCLUDED.received_at,
			updated_at = NOW()
		RETURNING id
	`
	var id int64
	err := a.db.QueryRowContext(ctx, query,
		m.IdempKey,
		m.MailboxID,
		m.ExternalID,
		m.Subject,
		m.BodyHash,
		toNullableTime(m.ReceivedAt),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertClassification writes the 1:1 verdict keyed by message_id.
func (a *MessageAdapter) UpsertClassification(ctx context.Context, c *domain.Classification) error {
	query := `
		INSERT INTO classifications (message_id, class, confidence, watcher_id, extracted_data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id) DO UPDATE SET
			class = EXCLUDED.class,
			confidence = EXCLUDED.confidence,
			watcher_id = EXCLUDED.watcher_id,
			extracted_data = EXCLUDED.extracted_data,
			updated_at = NOW()
	`
	_, err := a.db.ExecContext(ctx, query,
		c.MessageID,
		c.Class,
		c.Confidence,
		toNullableString(c.WatcherID),
		toNullableString(c.ExtractedData),
	)
	return err
}

type messageRowEntity struct {
	messageEntity
	ClassID       sql.NullInt64   `db:"class_id"`
	Class         sql.NullString  `db:"class"`
	Confidence    sql.NullFloat64 `db:"confidence"`
	WatcherID     sql.NullString  `db:"watcher_id"`
	ExtractedData sql.NullString  `db:"extracted_data"`
}

// ListMessages returns recent messages of a mailbox with their
// classification when present, newest first.
func (a *MessageAdapter) ListMessages(ctx context.Context, mailboxID string, limit int) ([]*out.MessageWithClassification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT m.id, m.idemp_key, m.mailbox_id, m.external_id, m.subject,
		       m.body_hash, m.received_at, m.created_at, m.updated_at,
		       c.id AS class_id, c.class, c.confidence, c.watcher_id, c.extracted_data
		FROM messages m
		LEFT JOIN classifications c ON c.message_id = m.id
		WHERE m.mailbox_id = $1
		ORDER BY m.received_at DESC NULLS LAST
		LIMIT $2
	`
	var entities []messageRowEntity
	if err := a.db.SelectContext(ctx, &entities, query, mailboxID, limit); err != nil {
		return nil, err
	}

	results := make([]*out.MessageWithClassification, len(entities))
	for i, e := range entities {
		row := &out.MessageWithClassification{Message: *e.messageEntity.toDomain()}
		if e.ClassID.Valid {
			row.Classification = &domain.Classification{
				ID:         e.ClassID.Int64,
				MessageID:  e.ID,
				Class:      e.Class.String,
				Confidence: e.Confidence.Float64,
			}
			if e.WatcherID.Valid {
				row.Classification.WatcherID = e.WatcherID.String
			}
			if e.ExtractedData.Valid {
				row.Classification.ExtractedData = e.ExtractedData.String
			}
		}
		results[i] = row
	}
	return results, nil
}

func toNullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func toNullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
