package out

import (
	"context"

	"mailwatch/core/domain"
)

// WatcherStore defines the outbound port for watcher rows and the
// vector search over their prototype queries.
type WatcherStore interface {
	// CreateWatcher inserts a watcher with its seed embedding and
	// returns the new row ID.
	CreateWatcher(ctx context.Context, w *domain.Watcher, seedEmbedding []float32) (string, error)

	// CreateWatcherQueries inserts prototype rows for a watcher.
	CreateWatcherQueries(ctx context.Context, watcherID string, queries []string, embeddings [][]float32) error

	// ListWatchers returns watchers for a mailbox, active and inactive.
	ListWatchers(ctx context.Context, mailboxID string) ([]*domain.Watcher, error)

	// HasActiveWatchers reports whether the mailbox has any active
	// watcher. Used to skip embedding work entirely.
	HasActiveWatchers(ctx context.Context, mailboxID string) (bool, error)

	// MatchWatcherQueries runs the top-K vector search: for each active
	// watcher of the mailbox, its best prototype by cosine distance,
	// ordered ascending, at most limit rows.
	MatchWatcherQueries(ctx context.Context, mailboxID string, embedding []float32, limit int) ([]domain.WatcherMatch, error)
}
