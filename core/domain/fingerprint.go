package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ProviderFor derives the mail provider label from a mailbox address.
// Well-known domains map to canonical names; anything else uses the
// leading domain label. An override from configuration wins.
func ProviderFor(mailboxID, override string) string {
	if override != "" {
		return override
	}
	at := strings.LastIndex(mailboxID, "@")
	if at < 0 || at == len(mailboxID)-1 {
		return "unknown"
	}
	domain := strings.ToLower(mailboxID[at+1:])
	switch domain {
	case "gmail.com":
		return "gmail"
	case "outlook.com", "hotmail.com":
		return "outlook"
	}
	if dot := strings.Index(domain, "."); dot > 0 {
		return domain[:dot]
	}
	return domain
}

// BuildIdempotencyKey returns sha256(provider || mailbox_id || external_id)
// as a 64-char lowercase hex string. Stable across replays: republishing
// the same message always yields the same key.
func BuildIdempotencyKey(provider, mailboxID, externalID string) string {
	sum := sha256.Sum256([]byte(provider + mailboxID + externalID))
	return hex.EncodeToString(sum[:])
}

// BodyHash returns sha256 of the cleaned text body; the embedding cache key.
func BodyHash(cleanText string) string {
	sum := sha256.Sum256([]byte(cleanText))
	return hex.EncodeToString(sum[:])
}
