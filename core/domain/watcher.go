package domain

import "time"

// Watcher is a standing semantic query over a mailbox. Matching is done
// against its prototype queries, not the seed text itself.
type Watcher struct {
	ID        string
	MailboxID string
	Name      string
	QueryText string
	Threshold float64
	IsActive  bool
	CreatedAt time.Time
}

// WatcherQuery is one prototype sentence of a watcher, stored with its
// embedding for vector search.
type WatcherQuery struct {
	ID        string
	WatcherID string
	QueryText string
}

// WatcherMatch is one row from the vector search: the best prototype of an
// active watcher, with its raw cosine distance to the email embedding.
type WatcherMatch struct {
	WatcherID      string
	WatcherName    string
	Threshold      float64
	QueryID        string
	QueryText      string
	CosineDistance float64
}

// Similarity converts cosine distance into the score compared against the
// watcher's threshold.
func (m WatcherMatch) Similarity() float64 {
	return 1 - m.CosineDistance
}

// Routed reports whether this match clears its watcher's threshold.
// The comparison is inclusive.
func (m WatcherMatch) Routed() bool {
	return m.Similarity() >= m.Threshold
}
