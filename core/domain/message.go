package domain

import "time"

// Message is the persisted record of a pipeline-processed email, keyed by
// its idempotency key so replays update in place.
type Message struct {
	ID         int64
	IdempKey   string
	MailboxID  string
	ExternalID string
	Subject    string
	BodyHash   string
	ReceivedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Classification is the 1:1 classifier verdict for a message.
type Classification struct {
	ID            int64
	MessageID     int64
	Class         string
	Confidence    float64
	WatcherID     string
	ExtractedData string // jsonb
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
