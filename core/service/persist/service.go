// Package persist lands classified events in storage idempotently.
package persist

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mailwatch/core/domain"
	"mailwatch/core/port/out"
	"mailwatch/pkg/apperr"
)

type Service struct {
	store out.MessageStore
	log   zerolog.Logger
}

func New(store out.MessageStore, log zerolog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Persist upserts the message row then its classification. Both writes
// must land before the input is acked; storage errors are transient so
// the broker redelivers and the upserts replay cleanly.
func (s *Service) Persist(ctx context.Context, in *domain.ClassifiedEmailEvent) error {
	msg := &domain.Message{
		IdempKey:   in.IdempKey,
		MailboxID:  in.MailboxID,
		ExternalID: in.ExternalID,
		Subject:    in.Subject,
		BodyHash:   in.BodyHash,
	}
	if in.ReceivedTS > 0 {
		msg.ReceivedAt = time.Unix(in.ReceivedTS, 0).UTC()
	}

	messageID, err := s.store.UpsertMessage(ctx, msg)
	if err != nil {
		return apperr.Transient("message upsert", err)
	}

	cls := &domain.Classification{
		MessageID:     messageID,
		Class:         in.Class,
		Confidence:    in.Confidence,
		WatcherID:     in.WatcherID,
		ExtractedData: in.ExtractedData,
	}
	if err := s.store.UpsertClassification(ctx, cls); err != nil {
		return apperr.Transient("classification upsert", err)
	}

	s.log.Info().
		Str("trace_id", in.TraceID).
		Str("idemp_key", in.IdempKey).
		Int64("message_id", messageID).
		Str("class", in.Class).
		Msg("classification persisted")
	return nil
}
