package persistence

import (
	"context"
	"sort"
	"strconv"
	"time"

	"mailwatch/core/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WatcherAdapter implements the watcher store on pgxpool with pgvector.
type WatcherAdapter struct {
	db *pgxpool.Pool
}

func NewWatcherAdapter(db *pgxpool.Pool) *WatcherAdapter {
	return &WatcherAdapter{db: db}
}

func (a *WatcherAdapter) CreateWatcher(ctx context.Context, w *domain.Watcher, seedEmbedding []float32) (string, error) {
	query := `
		INSERT INTO watchers (mailbox_id, name, query_text, query_embedding, threshold, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING id
	`
	threshold := w.Threshold
	if threshold == 0 {
		threshold = 0.7
	}
	var id string
	err := a.db.QueryRow(ctx, query,
		w.MailboxID,
		w.Name,
		w.QueryText,
		pgVector(seedEmbedding),
		threshold,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (a *WatcherAdapter) CreateWatcherQueries(ctx context.Context, watcherID string, queries []string, embeddings [][]float32) error {
	query := `
		INSERT INTO watcher_queries (watcher_id, query_text, query_embedding)
		VALUES ($1, $2, $3)
	`
	for i, text := range queries {
		if _, err := a.db.Exec(ctx, query, watcherID, text, pgVector(embeddings[i])); err != nil {
			return err
		}
	}
	return nil
}

func (a *WatcherAdapter) ListWatchers(ctx context.Context, mailboxID string) ([]*domain.Watcher, error) {
	query := `
		SELECT id, mailbox_id, name, query_text, threshold, is_active, created_at
		FROM watchers
		WHERE mailbox_id = $1
		ORDER BY created_at DESC
	`
	rows, err := a.db.Query(ctx, query, mailboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var watchers []*domain.Watcher
	for rows.Next() {
		var w domain.Watcher
		var createdAt time.Time
		if err := rows.Scan(&w.ID, &w.MailboxID, &w.Name, &w.QueryText, &w.Threshold, &w.IsActive, &createdAt); err != nil {
			return nil, err
		}
		w.CreatedAt = createdAt
		watchers = append(watchers, &w)
	}
	return watchers, rows.Err()
}

func (a *WatcherAdapter) HasActiveWatchers(ctx context.Context, mailboxID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM watchers WHERE mailbox_id = $1 AND is_active)`
	if err := a.db.QueryRow(ctx, query, mailboxID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// MatchWatcherQueries is the routing search: per active watcher of the
// mailbox, its best prototype by cosine distance, ascending, at most
// limit rows.
func (a *WatcherAdapter) MatchWatcherQueries(ctx context.Context, mailboxID string, embedding []float32, limit int) ([]domain.WatcherMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `
		SELECT DISTINCT ON (w.id)
			w.id, w.name, w.threshold,
			wq.id, wq.query_text,
			wq.query_embedding <=> $2 AS cosine_distance
		FROM watchers w
		JOIN watcher_queries wq ON wq.watcher_id = w.id
		WHERE w.mailbox_id = $1
		  AND w.is_active
		ORDER BY w.id, cosine_distance ASC
	`
	rows, err := a.db.Query(ctx, query, mailboxID, pgVector(embedding))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.WatcherMatch
	for rows.Next() {
		var m domain.WatcherMatch
		if err := rows.Scan(&m.WatcherID, &m.WatcherName, &m.Threshold, &m.QueryID, &m.QueryText, &m.CosineDistance); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DISTINCT ON fixes the per-watcher winner; global order and the
	// top-K cut happen here.
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CosineDistance < matches[j].CosineDistance
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// pgVector converts a float32 slice to the pgvector literal format.
func pgVector(v []float32) string {
	buf := make([]byte, 0, len(v)*10+2)
	buf = append(buf, '[')
	for i, f := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(f), 'f', 6, 32)
	}
	buf = append(buf, ']')
	return string(buf)
}
