package poll

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailwatch/core/agent/llm"
	"mailwatch/core/port/out"
)

// SubjectGate decides from headers alone whether a candidate is worth
// pulling into the pipeline.
type SubjectGate interface {
	Allow(ctx context.Context, from, subject string) (bool, error)
}

// PassAllGate lets everything through. The default: downstream semantic
// filtering is the real decision point.
type PassAllGate struct{}

func (PassAllGate) Allow(ctx context.Context, from, subject string) (bool, error) {
	return true, nil
}

const gateSystemPrompt = `You decide from an email's sender and subject whether it looks like subscription or service traffic worth processing.
Respond with one JSON object: {"is_subscription": <bool>, "confidence": <float 0..1>}. No other text.`

// LLMSubjectGate is the cost gate variant: a cheap header-only LLM call
// ahead of the full-body pipeline.
type LLMSubjectGate struct {
	completer out.Completer
	log       zerolog.Logger
}

func NewLLMSubjectGate(completer out.Completer, log zerolog.Logger) *LLMSubjectGate {
	return &LLMSubjectGate{completer: completer, log: log}
}

func (g *LLMSubjectGate) Allow(ctx context.Context, from, subject string) (bool, error) {
	user := fmt.Sprintf("From: %s\nSubject: %s", from, subject)
	raw, err := g.completer.Complete(ctx, gateSystemPrompt, user)
	if err != nil {
		// The gate only exists to save cost. When it is unavailable,
		// letting the candidate through is the safe direction.
		g.log.Warn().Err(err).Str("subject", subject).Msg("subject gate unavailable, passing candidate")
		return true, nil
	}

	payload := llm.ExtractJSON(raw)
	var verdict struct {
		IsSubscription bool    `json:"is_subscription"`
		Confidence     float64 `json:"confidence"`
	}
	if payload == "" || json.Unmarshal([]byte(payload), &verdict) != nil {
		g.log.Warn().Str("subject", subject).Msg("unparseable subject gate reply, passing candidate")
		return true, nil
	}

	return verdict.IsSubscription && verdict.Confidence >= 0.7, nil
}
