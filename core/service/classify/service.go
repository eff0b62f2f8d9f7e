// Package classify runs watcher-conditioned structured extraction.
package classify

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailwatch/core/agent/llm"
	"mailwatch/core/domain"
	"mailwatch/core/port/out"
)

// BodyPromptLimit caps how much body text goes into the prompt.
const BodyPromptLimit = 2000

const systemPrompt = `You classify emails for a semantic watcher and extract structured fields.
Return exactly one JSON object: {"class": "<watcher name>", "confidence": <float 0..1>, "extracted_data": {...}}.
The extracted_data shape follows the watcher's intent; use {} when nothing is extractable.
Respond with JSON only.`

type Service struct {
	completer out.Completer
	log       zerolog.Logger
}

func New(completer out.Completer, log zerolog.Logger) *Service {
	return &Service{completer: completer, log: log}
}

type llmVerdict struct {
	Class         string          `json:"class"`
	Confidence    float64         `json:"confidence"`
	ExtractedData json.RawMessage `json:"extracted_data"`
}

// Classify produces the classified event, or nil when the verdict does
// not clear the publish rule or the LLM result is unusable. A nil result
// with nil error means ack without publishing; retrying the LLM here
// would park the whole stream, chronic failures belong to the DLQ.
func (s *Service) Classify(ctx context.Context, in *domain.RoutedEmailEvent) (*domain.ClassifiedEmailEvent, error) {
	raw, err := s.completer.Complete(ctx, systemPrompt, buildPrompt(in))
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("trace_id", in.TraceID).
			Str("idemp_key", in.IdempKey).
			Msg("llm call failed, skipping classification")
		return nil, nil
	}

	payload := llm.ExtractJSON(raw)
	if payload == "" {
		s.log.Warn().
			Str("trace_id", in.TraceID).
			Str("idemp_key", in.IdempKey).
			Msg("no JSON in llm reply, skipping classification")
		return nil, nil
	}

	var verdict llmVerdict
	if err := json.Unmarshal([]byte(payload), &verdict); err != nil {
		s.log.Warn().
			Err(err).
			Str("trace_id", in.TraceID).
			Str("idemp_key", in.IdempKey).
			Msg("malformed llm JSON, skipping classification")
		return nil, nil
	}

	extracted := string(verdict.ExtractedData)
	if !hasData(extracted) {
		extracted = "{}"
	}

	// Publish iff the semantic filter named a watcher, the model is
	// confident, or it extracted something.
	if in.FilterWatcherName == "" && verdict.Confidence < 0.7 && !hasData(extracted) {
		s.log.Warn().
			Str("trace_id", in.TraceID).
			Str("idemp_key", in.IdempKey).
			Float64("confidence", verdict.Confidence).
			Msg("verdict below publish rule, skipping")
		return nil, nil
	}

	class := verdict.Class
	if in.FilterWatcherName != "" {
		// The routing watcher is authoritative over whatever the model
		// called itself.
		class = in.FilterWatcherName
	}
	if class == "" {
		s.log.Warn().
			Str("trace_id", in.TraceID).
			Str("idemp_key", in.IdempKey).
			Msg("empty class, skipping classification")
		return nil, nil
	}

	confidence := verdict.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &domain.ClassifiedEmailEvent{
		TraceID:       in.TraceID,
		MailboxID:     in.MailboxID,
		IdempKey:      in.IdempKey,
		BodyHash:      in.BodyHash,
		Subject:       in.Subject,
		ExternalID:    in.ExternalID,
		ReceivedTS:    in.ReceivedTS,
		Class:         class,
		Confidence:    confidence,
		WatcherID:     in.FilterWatcherID,
		ExtractedData: extracted,
	}, nil
}

func buildPrompt(in *domain.RoutedEmailEvent) string {
	body := domain.TruncateRunes(in.TextContent, BodyPromptLimit)
	return fmt.Sprintf(`Watcher: %s
Watcher query: %s

From: %s
Subject: %s
Body:
%s`, in.FilterWatcherName, in.FilterQueryText, in.MailboxID, in.Subject, body)
}

// hasData reports whether a JSON object string carries any fields.
func hasData(s string) bool {
	switch s {
	case "", "{}", "null":
		return false
	}
	return true
}
