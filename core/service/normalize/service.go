// Package normalize turns raw RFC 5322 bytes into clean text with a
// stable body fingerprint.
package normalize

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"mailwatch/core/domain"
	"mailwatch/pkg/apperr"
)

type Service struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Service {
	return &Service{log: log}
}

// Normalize decodes and cleans one raw email event. A body that cannot
// be parsed at all is a malformed error; the caller acks and drops it.
func (s *Service) Normalize(ctx context.Context, in *domain.RawEmailEvent) (*domain.NormalizedEmailEvent, error) {
	raw, err := base64.StdEncoding.DecodeString(in.RawEmailB64)
	if err != nil {
		return nil, apperr.Malformed("invalid raw_email_b64", err)
	}

	text, err := extractText(raw)
	if err != nil {
		return nil, apperr.Malformed("unparseable message body", err)
	}

	clean := CleanText(text)
	bodyHash := domain.BodyHash(clean)

	clean = domain.TruncateRunes(clean, domain.TextContentLimit)

	return &domain.NormalizedEmailEvent{
		TraceID:     in.TraceID,
		MailboxID:   in.MailboxID,
		IdempKey:    in.IdempKey,
		BodyHash:    bodyHash,
		TextContent: clean,
		Subject:     in.Subject,
		ExternalID:  in.ExternalID,
		ReceivedTS:  in.ReceivedTS,
	}, nil
}

// extractText walks the MIME tree preferring text/plain over text/html.
// A non-MIME message falls back to everything after the header block.
func extractText(raw []byte) (string, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		if body := rawBody(raw); body != "" {
			return body, nil
		}
		return "", err
	}

	var plainText, htmlText string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := mime.ParseMediaType(h.Get("Content-Type"))
		b, readErr := io.ReadAll(p.Body)
		if readErr != nil {
			continue
		}
		switch ct {
		case "text/html":
			if htmlText == "" {
				htmlText = string(b)
			}
		default:
			if plainText == "" {
				plainText = string(b)
			}
		}
	}

	if plainText != "" {
		return plainText, nil
	}
	if htmlText != "" {
		return HTMLToText(htmlText), nil
	}
	if body := rawBody(raw); body != "" {
		return body, nil
	}
	return "", nil
}

func rawBody(raw []byte) string {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return strings.TrimSpace(string(raw[idx+4:]))
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return strings.TrimSpace(string(raw[idx+2:]))
	}
	return ""
}
