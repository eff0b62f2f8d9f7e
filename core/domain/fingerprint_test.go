package domain

import "testing"

func TestProviderFor(t *testing.T) {
	tests := []struct {
		name     string
		mailbox  string
		override string
		want     string
	}{
		{"gmail", "a@gmail.com", "", "gmail"},
		{"outlook", "a@outlook.com", "", "outlook"},
		{"hotmail", "a@hotmail.com", "", "outlook"},
		{"custom domain", "ops@fastmail.fm", "", "fastmail"},
		{"subdomainless", "x@localhost", "", "localhost"},
		{"no at sign", "not-an-address", "", "unknown"},
		{"trailing at", "broken@", "", "unknown"},
		{"override wins", "a@gmail.com", "corp", "corp"},
		{"case folded", "a@GMAIL.com", "", "gmail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProviderFor(tt.mailbox, tt.override); got != tt.want {
				t.Errorf("ProviderFor(%q, %q) = %q, want %q", tt.mailbox, tt.override, got, tt.want)
			}
		})
	}
}

func TestBuildIdempotencyKeyDeterministic(t *testing.T) {
	a := BuildIdempotencyKey("gmail", "u@gmail.com", "<m1@x>")
	b := BuildIdempotencyKey("gmail", "u@gmail.com", "<m1@x>")
	if a != b {
		t.Error("same inputs must give the same key")
	}
	if len(a) != 64 {
		t.Errorf("key length = %d, want 64", len(a))
	}
	if c := BuildIdempotencyKey("gmail", "u@gmail.com", "<m2@x>"); c == a {
		t.Error("different external_id must change the key")
	}
	if c := BuildIdempotencyKey("outlook", "u@gmail.com", "<m1@x>"); c == a {
		t.Error("different provider must change the key")
	}
}

func TestBodyHashMatchesContent(t *testing.T) {
	if BodyHash("hello") == BodyHash("hello ") {
		t.Error("distinct cleaned bodies must hash differently")
	}
	if BodyHash("hello") != BodyHash("hello") {
		t.Error("hash must be stable")
	}
}
