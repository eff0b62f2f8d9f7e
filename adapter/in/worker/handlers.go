// Package worker adapts the stage services to the stream consumer loop.
package worker

import (
	"context"

	"github.com/rs/zerolog"

	"mailwatch/core/domain"
	"mailwatch/core/port/out"
	"mailwatch/core/service/classify"
	"mailwatch/core/service/normalize"
	"mailwatch/core/service/persist"
	"mailwatch/core/service/semantic"
	"mailwatch/pkg/apperr"
)

// NormalizerHandler consumes raw_emails.v1 and publishes normalized
// events.
type NormalizerHandler struct {
	svc    *normalize.Service
	broker out.Broker
	log    zerolog.Logger
}

func NewNormalizerHandler(svc *normalize.Service, broker out.Broker, log zerolog.Logger) *NormalizerHandler {
	return &NormalizerHandler{svc: svc, broker: broker, log: log}
}

func (h *NormalizerHandler) Handle(ctx context.Context, entry out.StreamEntry) error {
	in, err := domain.RawEmailFromFields(entry.Values)
	if err != nil {
		return apperr.Malformed("decoding raw email event", err)
	}

	event, err := h.svc.Normalize(ctx, in)
	if err != nil {
		return err
	}

	if _, err := h.broker.Publish(ctx, domain.StreamNormalized, event.Fields()); err != nil {
		return apperr.Transient("publishing normalized event", err)
	}
	h.log.Debug().
		Str("trace_id", event.TraceID).
		Str("idemp_key", event.IdempKey).
		Msg("normalized event published")
	return nil
}

// SemanticHandler consumes emails.normalized.v1 and routes matches to
// the classifier stream. A filtered-out email is simply acked.
type SemanticHandler struct {
	svc    *semantic.Service
	broker out.Broker
	log    zerolog.Logger
}

func NewSemanticHandler(svc *semantic.Service, broker out.Broker, log zerolog.Logger) *SemanticHandler {
	return &SemanticHandler{svc: svc, broker: broker, log: log}
}

func (h *SemanticHandler) Handle(ctx context.Context, entry out.StreamEntry) error {
	in, err := domain.NormalizedFromFields(entry.Values)
	if err != nil {
		return apperr.Malformed("decoding normalized event", err)
	}

	routed, err := h.svc.Filter(ctx, in)
	if err != nil {
		return err
	}
	if routed == nil {
		return nil
	}

	if _, err := h.broker.Publish(ctx, domain.StreamToClassify, routed.Fields()); err != nil {
		return apperr.Transient("publishing routed event", err)
	}
	return nil
}

// ClassifierHandler consumes emails.to_classify.v1 and publishes
// classified verdicts.
type ClassifierHandler struct {
	svc    *classify.Service
	broker out.Broker
	log    zerolog.Logger
}

func NewClassifierHandler(svc *classify.Service, broker out.Broker, log zerolog.Logger) *ClassifierHandler {
	return &ClassifierHandler{svc: svc, broker: broker, log: log}
}

func (h *ClassifierHandler) Handle(ctx context.Context, entry out.StreamEntry) error {
	in, err := domain.RoutedFromFields(entry.Values)
	if err != nil {
		return apperr.Malformed("decoding routed event", err)
	}

	event, err := h.svc.Classify(ctx, in)
	if err != nil {
		return err
	}
	if event == nil {
		return nil
	}

	if _, err := h.broker.Publish(ctx, domain.StreamClassified, event.Fields()); err != nil {
		return apperr.Transient("publishing classified event", err)
	}
	return nil
}

// PersisterHandler consumes emails.classified.v1 and lands rows.
type PersisterHandler struct {
	svc *persist.Service
	log zerolog.Logger
}

func NewPersisterHandler(svc *persist.Service, log zerolog.Logger) *PersisterHandler {
	return &PersisterHandler{svc: svc, log: log}
}

func (h *PersisterHandler) Handle(ctx context.Context, entry out.StreamEntry) error {
	in, err := domain.ClassifiedFromFields(entry.Values)
	if err != nil {
		return apperr.Malformed("decoding classified event", err)
	}
	return h.svc.Persist(ctx, in)
}
