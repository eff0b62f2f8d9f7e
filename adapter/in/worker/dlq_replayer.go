package worker

import (
	"context"

	"github.com/rs/zerolog"

	"mailwatch/core/domain"
	"mailwatch/core/port/out"
	"mailwatch/pkg/apperr"
)

// dlqMetaFields are added at dead-letter time and stripped before a
// replay so the original stream sees the original payload.
var dlqMetaFields = map[string]bool{
	"reason":          true,
	"original_stream": true,
	"original_id":     true,
	"group":           true,
	"consumer":        true,
	"failed_at":       true,
}

// DLQHandler inspects dead-lettered entries. In replay mode it
// re-injects the original fields into the original stream; otherwise it
// only logs, leaving the entry acked either way.
type DLQHandler struct {
	broker out.Broker
	replay bool
	log    zerolog.Logger
}

func NewDLQHandler(broker out.Broker, replay bool, log zerolog.Logger) *DLQHandler {
	return &DLQHandler{broker: broker, replay: replay, log: log}
}

func (h *DLQHandler) Handle(ctx context.Context, entry out.StreamEntry) error {
	originalStream, _ := entry.Values["original_stream"].(string)
	reason, _ := entry.Values["reason"].(string)
	idempKey, _ := entry.Values["idemp_key"].(string)

	event := h.log.Info().
		Str("original_stream", originalStream).
		Str("reason", reason).
		Str("idemp_key", idempKey).
		Str("dlq_id", entry.ID)

	if !h.replay {
		event.Msg("dead-lettered entry")
		return nil
	}

	if originalStream == "" {
		return apperr.Malformed("dead entry without original_stream", nil)
	}

	fields := make(map[string]interface{}, len(entry.Values))
	for k, v := range entry.Values {
		if dlqMetaFields[k] {
			continue
		}
		fields[k] = v
	}

	id, err := h.broker.Publish(ctx, originalStream, fields)
	if err != nil {
		return apperr.Transient("replaying dead entry", err)
	}
	event.Str("replayed_id", id).Msg("dead-lettered entry replayed")
	return nil
}

// DLQStreams lists the dead-letter streams of the pipeline.
func DLQStreams(dlqName func(string) string) []string {
	streams := make([]string, len(domain.PipelineStreams))
	for i, s := range domain.PipelineStreams {
		streams[i] = dlqName(s)
	}
	return streams
}
