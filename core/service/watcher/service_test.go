package watcher

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"mailwatch/core/domain"
)

type fakeStore struct {
	watcher    *domain.Watcher
	prototypes []string
}

func (f *fakeStore) CreateWatcher(ctx context.Context, w *domain.Watcher, seed []float32) (string, error) {
	f.watcher = w
	return "w1", nil
}

func (f *fakeStore) CreateWatcherQueries(ctx context.Context, id string, queries []string, embeddings [][]float32) error {
	if len(queries) != len(embeddings) {
		return errors.New("queries/embeddings length mismatch")
	}
	f.prototypes = queries
	return nil
}

func (f *fakeStore) ListWatchers(ctx context.Context, m string) ([]*domain.Watcher, error) {
	return nil, nil
}
func (f *fakeStore) HasActiveWatchers(ctx context.Context, m string) (bool, error) {
	return false, nil
}
func (f *fakeStore) MatchWatcherQueries(ctx context.Context, m string, e []float32, l int) ([]domain.WatcherMatch, error) {
	return nil, nil
}

type fakeEmbedder struct{ batchCalls int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchCalls++
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

type fakeExpander struct {
	prototypes []string
	err        error
}

func (f *fakeExpander) ExpandPrototypes(ctx context.Context, seed string, max int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prototypes, nil
}

func TestCreateBundleStoresPrototypes(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	svc := New(store, embedder, &fakeExpander{prototypes: []string{"seed", "variant a", "variant b"}}, zerolog.Nop())

	w, err := svc.CreateBundle(context.Background(), &domain.Watcher{
		MailboxID: "m", Name: "subs", QueryText: "seed", Threshold: 0.7,
	})
	if err != nil {
		t.Fatal(err)
	}
	if w.ID != "w1" {
		t.Errorf("id = %q", w.ID)
	}
	if len(store.prototypes) != 3 {
		t.Errorf("prototypes = %v", store.prototypes)
	}
	if embedder.batchCalls != 1 {
		t.Errorf("batch calls = %d, want 1", embedder.batchCalls)
	}
}

func TestCreateBundleExpansionFailureFallsBackToSeed(t *testing.T) {
	store := &fakeStore{}
	svc := New(store, &fakeEmbedder{}, &fakeExpander{err: errors.New("llm down")}, zerolog.Nop())

	_, err := svc.CreateBundle(context.Background(), &domain.Watcher{
		MailboxID: "m", Name: "subs", QueryText: "seed",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(store.prototypes) != 1 || store.prototypes[0] != "seed" {
		t.Errorf("prototypes = %v, want seed only", store.prototypes)
	}
}

func TestCreateBundleValidatesInput(t *testing.T) {
	svc := New(&fakeStore{}, &fakeEmbedder{}, &fakeExpander{}, zerolog.Nop())
	if _, err := svc.CreateBundle(context.Background(), &domain.Watcher{Name: "x"}); err == nil {
		t.Error("expected validation error")
	}
}
