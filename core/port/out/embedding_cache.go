package out

import "context"

// EmbeddingCache defines the outbound port for the durable
// (mailbox_id, body_hash) → embedding cache.
type EmbeddingCache interface {
	// Get returns the cached vector, or nil with no error on a miss.
	Get(ctx context.Context, mailboxID, bodyHash string) ([]float32, error)

	// Put upserts the vector for the key pair.
	Put(ctx context.Context, mailboxID, bodyHash string, embedding []float32) error
}
