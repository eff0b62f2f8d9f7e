package persistence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EmbeddingCacheAdapter implements the durable embedding cache keyed by
// (mailbox_id, body_hash). Replays of an already-seen body never pay for
// a second embedding call.
type EmbeddingCacheAdapter struct {
	db *pgxpool.Pool
}

func NewEmbeddingCacheAdapter(db *pgxpool.Pool) *EmbeddingCacheAdapter {
	return &EmbeddingCacheAdapter{db: db}
}

func (a *EmbeddingCacheAdapter) Get(ctx context.Context, mailboxID, bodyHash string) ([]float32, error) {
	var raw string
	query := `
		SELECT email_embedding::text FROM email_embeddings
		WHERE mailbox_id = $1 AND body_hash = $2
	`
	err := a.db.QueryRow(ctx, query, mailboxID, bodyHash).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return parsePgVector(raw)
}

func (a *EmbeddingCacheAdapter) Put(ctx context.Context, mailboxID, bodyHash string, embedding []float32) error {
	query := `
		INSERT INTO email_embeddings (mailbox_id, body_hash, email_embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (mailbox_id, body_hash) DO UPDATE SET
			email_embedding = EXCLUDED.email_embedding
	`
	_, err := a.db.Exec(ctx, query, mailboxID, bodyHash, pgVector(embedding))
	return err
}

// parsePgVector parses the pgvector text literal "[f1,f2,...]".
func parsePgVector(raw string) ([]float32, error) {
	s := strings.TrimSpace(raw)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector literal %q", raw)
	}
	s = s[1 : len(s)-1]
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector element %q: %w", p, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
