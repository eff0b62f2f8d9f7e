package classify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"mailwatch/core/domain"
)

type fakeCompleter struct {
	reply string
	err   error
	user  string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	f.user = user
	return f.reply, f.err
}

func routedEvent() *domain.RoutedEmailEvent {
	return &domain.RoutedEmailEvent{
		NormalizedEmailEvent: domain.NormalizedEmailEvent{
			TraceID:     "t1",
			MailboxID:   "m",
			IdempKey:    "k1",
			BodyHash:    "h1",
			Subject:     "Your renewal",
			TextContent: "your plan renews on march 1",
		},
		FilterWatcherID:   "w1",
		FilterWatcherName: "subscriptions",
		FilterQueryText:   "subscription renewals",
	}
}

func TestClassifyPromptCarriesMailAddressing(t *testing.T) {
	completer := &fakeCompleter{reply: `{"class": "subs", "confidence": 0.9, "extracted_data": {}}`}
	svc := New(completer, zerolog.Nop())

	if _, err := svc.Classify(context.Background(), routedEvent()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(completer.user, "From: m\n") {
		t.Errorf("prompt missing From line: %q", completer.user)
	}
	if !strings.Contains(completer.user, "Subject: Your renewal") {
		t.Errorf("prompt missing Subject line: %q", completer.user)
	}
}

func TestBuildPromptTruncatesBodyOnRuneBoundary(t *testing.T) {
	in := routedEvent()
	in.TextContent = strings.Repeat("é", BodyPromptLimit+100)

	prompt := buildPrompt(in)
	if !utf8.ValidString(prompt) {
		t.Fatal("prompt is not valid UTF-8")
	}
}

func TestClassifyWatcherNameOverridesClass(t *testing.T) {
	completer := &fakeCompleter{
		reply: "```json\n{\"class\": \"something-else\", \"confidence\": 0.9, \"extracted_data\": {\"vendor\": \"acme\"}}\n```",
	}
	svc := New(completer, zerolog.Nop())

	out, err := svc.Classify(context.Background(), routedEvent())
	if err != nil {
		t.Fatal(err)
	}
	if out == nil {
		t.Fatal("expected classified event")
	}
	if out.Class != "subscriptions" {
		t.Errorf("class = %q, want watcher name", out.Class)
	}
	if out.WatcherID != "w1" {
		t.Errorf("watcher_id = %q", out.WatcherID)
	}
	if out.ExtractedData != `{"vendor": "acme"}` {
		t.Errorf("extracted_data = %q", out.ExtractedData)
	}
}

func TestClassifyPublishRule(t *testing.T) {
	tests := []struct {
		name        string
		watcherName string
		reply       string
		publish     bool
	}{
		{
			"watcher name alone suffices",
			"subs",
			`{"class": "", "confidence": 0.1, "extracted_data": {}}`,
			true,
		},
		{
			"high confidence without watcher",
			"",
			`{"class": "invoices", "confidence": 0.85, "extracted_data": {}}`,
			true,
		},
		{
			"extracted data without watcher",
			"",
			`{"class": "invoices", "confidence": 0.2, "extracted_data": {"total": "10"}}`,
			true,
		},
		{
			"nothing clears the rule",
			"",
			`{"class": "invoices", "confidence": 0.2, "extracted_data": {}}`,
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(&fakeCompleter{reply: tt.reply}, zerolog.Nop())
			in := routedEvent()
			in.FilterWatcherName = tt.watcherName
			if tt.watcherName == "" {
				in.FilterWatcherID = ""
			}

			out, err := svc.Classify(context.Background(), in)
			if err != nil {
				t.Fatal(err)
			}
			if (out != nil) != tt.publish {
				t.Errorf("published = %v, want %v", out != nil, tt.publish)
			}
		})
	}
}

func TestClassifySkipsOnFailuresWithoutError(t *testing.T) {
	tests := []struct {
		name      string
		completer *fakeCompleter
	}{
		{"llm unreachable", &fakeCompleter{err: errors.New("connection refused")}},
		{"empty reply", &fakeCompleter{reply: ""}},
		{"garbage reply", &fakeCompleter{reply: "I cannot classify this email."}},
		{"broken json", &fakeCompleter{reply: `{"class": `}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(tt.completer, zerolog.Nop())
			out, err := svc.Classify(context.Background(), routedEvent())
			if err != nil {
				t.Errorf("want nil error so the consumer acks, got %v", err)
			}
			if out != nil {
				t.Errorf("want no event, got %+v", out)
			}
		})
	}
}

func TestClassifyClampsConfidence(t *testing.T) {
	svc := New(&fakeCompleter{reply: `{"class": "x", "confidence": 3.5, "extracted_data": {}}`}, zerolog.Nop())
	out, err := svc.Classify(context.Background(), routedEvent())
	if err != nil || out == nil {
		t.Fatalf("out=%v err=%v", out, err)
	}
	if out.Confidence != 1 {
		t.Errorf("confidence = %f, want clamped to 1", out.Confidence)
	}
}
