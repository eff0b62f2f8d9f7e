package normalize

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"mailwatch/core/domain"
	"mailwatch/pkg/apperr"
)

func rawEvent(raw string) *domain.RawEmailEvent {
	return &domain.RawEmailEvent{
		TraceID:     "t1",
		MailboxID:   "user@example.com",
		IdempKey:    "k1",
		Subject:     "Test",
		ExternalID:  "<m1@x>",
		RawEmailB64: base64.StdEncoding.EncodeToString([]byte(raw)),
	}
}

const plainEmail = "From: a@b.c\r\nSubject: Test\r\nContent-Type: text/plain\r\n\r\nHello   world\r\n"

const multipartEmail = "From: a@b.c\r\nSubject: Test\r\n" +
	"Content-Type: multipart/alternative; boundary=xyz\r\n\r\n" +
	"--xyz\r\nContent-Type: text/plain\r\n\r\nplain wins\r\n" +
	"--xyz\r\nContent-Type: text/html\r\n\r\n<p>html loses</p>\r\n" +
	"--xyz--\r\n"

const htmlOnlyEmail = "From: a@b.c\r\nSubject: Test\r\n" +
	"Content-Type: text/html\r\n\r\n" +
	"<html><style>p{color:red}</style><body><p>Only &amp; html</p></body></html>\r\n"

func TestNormalizePrefersPlainText(t *testing.T) {
	svc := New(zerolog.Nop())

	out, err := svc.Normalize(context.Background(), rawEvent(multipartEmail))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.TextContent != "plain wins" {
		t.Errorf("text = %q, want %q", out.TextContent, "plain wins")
	}
}

func TestNormalizeHTMLFallback(t *testing.T) {
	svc := New(zerolog.Nop())

	out, err := svc.Normalize(context.Background(), rawEvent(htmlOnlyEmail))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.TextContent != "Only & html" {
		t.Errorf("text = %q, want %q", out.TextContent, "Only & html")
	}
}

func TestNormalizeFingerprintStable(t *testing.T) {
	svc := New(zerolog.Nop())
	ctx := context.Background()

	a, err := svc.Normalize(ctx, rawEvent(plainEmail))
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.Normalize(ctx, rawEvent(plainEmail))
	if err != nil {
		t.Fatal(err)
	}
	if a.BodyHash != b.BodyHash {
		t.Errorf("hash differs across runs: %s vs %s", a.BodyHash, b.BodyHash)
	}
	if a.TextContent != "Hello world" {
		t.Errorf("text = %q", a.TextContent)
	}
}

func TestNormalizeTruncatesTextButHashesFullBody(t *testing.T) {
	svc := New(zerolog.Nop())
	ctx := context.Background()

	long := strings.Repeat("word ", 400) // 2000 chars of body
	raw := "Subject: Test\r\nContent-Type: text/plain\r\n\r\n" + long

	out, err := svc.Normalize(ctx, rawEvent(raw))
	if err != nil {
		t.Fatal(err)
	}
	if len(out.TextContent) > domain.TextContentLimit {
		t.Errorf("text length %d exceeds limit", len(out.TextContent))
	}

	// Full-body hash: a difference past the truncation point still
	// changes the fingerprint.
	out2, err := svc.Normalize(ctx, rawEvent(raw+"tail"))
	if err != nil {
		t.Fatal(err)
	}
	if out.BodyHash == out2.BodyHash {
		t.Error("hash should cover the untruncated body")
	}
}

func TestNormalizeTruncatesOnRuneBoundary(t *testing.T) {
	svc := New(zerolog.Nop())

	long := strings.Repeat("é", 1200)
	raw := "Subject: Test\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n" + long

	out, err := svc.Normalize(context.Background(), rawEvent(raw))
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(out.TextContent) {
		t.Fatal("truncated text_content is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(out.TextContent); n > domain.TextContentLimit {
		t.Errorf("rune count %d exceeds limit", n)
	}
}

func TestNormalizeBadBase64IsMalformed(t *testing.T) {
	svc := New(zerolog.Nop())

	ev := rawEvent(plainEmail)
	ev.RawEmailB64 = "%%%not-base64%%%"
	_, err := svc.Normalize(context.Background(), ev)
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.KindOf(err) != apperr.KindMalformed {
		t.Errorf("kind = %v, want malformed", apperr.KindOf(err))
	}
}

func TestCleanTextStripsTrackers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"utm link",
			"Sale now https://shop.example/x?utm_source=mail today",
			"Sale now today",
		},
		{
			"pixel url",
			"hi https://t.example/open.gif?id=1 there",
			"hi there",
		},
		{
			"whitespace collapse",
			"a\t\tb\n\n  c",
			"a b c",
		},
		{
			"plain url kept",
			"see https://example.com/docs now",
			"see https://example.com/docs now",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanText(tt.in); got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"script removed",
			"<script>alert(1)</script><p>body</p>",
			"body",
		},
		{
			"entities decoded",
			"a &lt;b&gt; &quot;c&quot; &nbsp;d &amp; e",
			`a <b> "c" d & e`,
		},
		{
			"tracking pixel removed",
			`<img src="https://t.x/p.gif" width="1" height="1"><p>real</p>`,
			"real",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTMLToText(tt.in); got != tt.want {
				t.Errorf("HTMLToText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
