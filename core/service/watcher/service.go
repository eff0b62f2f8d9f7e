// Package watcher creates watcher bundles: the watcher row, its seed
// embedding, and LLM-expanded prototype queries.
package watcher

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"mailwatch/core/domain"
	"mailwatch/core/port/out"
)

// MaxPrototypes caps a watcher's prototype set, seed included.
const MaxPrototypes = 10

// PrototypeExpander turns a seed query into paraphrase prototypes.
type PrototypeExpander interface {
	ExpandPrototypes(ctx context.Context, seed string, max int) ([]string, error)
}

type Service struct {
	store    out.WatcherStore
	embedder out.Embedder
	expander PrototypeExpander
	log      zerolog.Logger
}

func New(store out.WatcherStore, embedder out.Embedder, expander PrototypeExpander, log zerolog.Logger) *Service {
	return &Service{store: store, embedder: embedder, expander: expander, log: log}
}

// CreateBundle embeds the seed, inserts the watcher, expands the seed
// into prototypes and stores them with one batch embedding call. The
// returned watcher carries its new ID.
func (s *Service) CreateBundle(ctx context.Context, w *domain.Watcher) (*domain.Watcher, error) {
	if w.MailboxID == "" || w.Name == "" || w.QueryText == "" {
		return nil, fmt.Errorf("watcher needs mailbox, name and query text")
	}

	seedEmbedding, err := s.embedder.Embed(ctx, w.QueryText)
	if err != nil {
		return nil, fmt.Errorf("embedding seed query: %w", err)
	}

	id, err := s.store.CreateWatcher(ctx, w, seedEmbedding)
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w.ID = id

	prototypes, err := s.expander.ExpandPrototypes(ctx, w.QueryText, MaxPrototypes)
	if err != nil {
		// The seed still works as the only prototype.
		s.log.Warn().Err(err).Str("watcher_id", id).Msg("prototype expansion failed, using seed only")
		prototypes = []string{w.QueryText}
	}

	embeddings := make([][]float32, len(prototypes))
	if len(prototypes) == 1 {
		embeddings[0] = seedEmbedding
	} else {
		embeddings, err = s.embedder.EmbedBatch(ctx, prototypes)
		if err != nil {
			return nil, fmt.Errorf("embedding prototypes: %w", err)
		}
	}

	if err := s.store.CreateWatcherQueries(ctx, id, prototypes, embeddings); err != nil {
		return nil, fmt.Errorf("storing prototypes: %w", err)
	}

	s.log.Info().
		Str("watcher_id", id).
		Str("name", w.Name).
		Int("prototypes", len(prototypes)).
		Msg("watcher bundle created")
	return w, nil
}
