package out

import "context"

// Completer defines the outbound port for chat completions.
type Completer interface {
	// Complete sends a system+user prompt pair and returns the raw
	// assistant text.
	Complete(ctx context.Context, system, user string) (string, error)
}

// Embedder defines the outbound port for text embeddings.
type Embedder interface {
	// Embed returns the embedding vector for a single input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
