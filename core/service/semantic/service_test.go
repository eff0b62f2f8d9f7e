package semantic

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mailwatch/core/domain"
)

type fakeCache struct {
	store map[string][]float32
	puts  int
}

func (f *fakeCache) key(mailboxID, bodyHash string) string { return mailboxID + "|" + bodyHash }

func (f *fakeCache) Get(ctx context.Context, mailboxID, bodyHash string) ([]float32, error) {
	return f.store[f.key(mailboxID, bodyHash)], nil
}

func (f *fakeCache) Put(ctx context.Context, mailboxID, bodyHash string, embedding []float32) error {
	f.puts++
	f.store[f.key(mailboxID, bodyHash)] = embedding
	return nil
}

type fakeWatchers struct {
	active  bool
	matches []domain.WatcherMatch
}

func (f *fakeWatchers) CreateWatcher(ctx context.Context, w *domain.Watcher, seed []float32) (string, error) {
	return "", nil
}
func (f *fakeWatchers) CreateWatcherQueries(ctx context.Context, id string, q []string, e [][]float32) error {
	return nil
}
func (f *fakeWatchers) ListWatchers(ctx context.Context, mailboxID string) ([]*domain.Watcher, error) {
	return nil, nil
}
func (f *fakeWatchers) HasActiveWatchers(ctx context.Context, mailboxID string) (bool, error) {
	return f.active, nil
}
func (f *fakeWatchers) MatchWatcherQueries(ctx context.Context, mailboxID string, embedding []float32, limit int) ([]domain.WatcherMatch, error) {
	return f.matches, nil
}

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return []float32{0.1, 0.2}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, _ := f.Embed(ctx, texts[i])
		out[i] = v
	}
	return out, nil
}

func longEvent() *domain.NormalizedEmailEvent {
	return &domain.NormalizedEmailEvent{
		TraceID:     "t1",
		MailboxID:   "m",
		IdempKey:    "k1",
		BodyHash:    "h1",
		Subject:     "Subscription renewal notice",
		TextContent: strings.Repeat("your plan renews soon ", 5),
	}
}

func newService(cache *fakeCache, watchers *fakeWatchers, embedder *fakeEmbedder, cfg Config) *Service {
	return New(cache, watchers, embedder, cfg, zerolog.Nop())
}

func TestFilterDropsShortText(t *testing.T) {
	cache := &fakeCache{store: map[string][]float32{}}
	embedder := &fakeEmbedder{}
	svc := newService(cache, &fakeWatchers{active: true}, embedder, Config{})

	in := &domain.NormalizedEmailEvent{MailboxID: "m", BodyHash: "h", Subject: "hi", TextContent: "short"}
	routed, err := svc.Filter(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if routed != nil {
		t.Error("short email should be filtered out")
	}
	if embedder.calls != 0 {
		t.Error("short email should not be embedded")
	}
}

func TestFilterThresholdBoundaryIsInclusive(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		want     bool
	}{
		{"above threshold", 0.25, true},   // similarity 0.75
		{"exactly threshold", 0.30, true}, // similarity 0.70
		{"below threshold", 0.31, false},  // similarity 0.69
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			watchers := &fakeWatchers{
				active: true,
				matches: []domain.WatcherMatch{
					{WatcherID: "w1", WatcherName: "sub", Threshold: 0.7, QueryID: "q1", CosineDistance: tt.distance},
				},
			}
			svc := newService(&fakeCache{store: map[string][]float32{}}, watchers, &fakeEmbedder{}, Config{})

			routed, err := svc.Filter(context.Background(), longEvent())
			if err != nil {
				t.Fatal(err)
			}
			if (routed != nil) != tt.want {
				t.Errorf("routed = %v, want %v", routed != nil, tt.want)
			}
		})
	}
}

func TestFilterRoutedFieldsFromBestMatch(t *testing.T) {
	watchers := &fakeWatchers{
		active: true,
		matches: []domain.WatcherMatch{
			{WatcherID: "w1", WatcherName: "subs", Threshold: 0.70, QueryID: "q1", QueryText: "renewal", CosineDistance: 0.20},
			{WatcherID: "w2", WatcherName: "loose", Threshold: 0.50, QueryID: "q2", CosineDistance: 0.30},
		},
	}
	svc := newService(&fakeCache{store: map[string][]float32{}}, watchers, &fakeEmbedder{}, Config{})

	routed, err := svc.Filter(context.Background(), longEvent())
	if err != nil {
		t.Fatal(err)
	}
	if routed == nil {
		t.Fatal("expected routed event")
	}
	if routed.FilterWatcherID != "w1" {
		t.Errorf("winner = %s, want w1", routed.FilterWatcherID)
	}
	if routed.FilterSimilarity != "0.8000" {
		t.Errorf("similarity = %s, want 0.8000", routed.FilterSimilarity)
	}
	if routed.MatchesJSON == "" || !strings.Contains(routed.MatchesJSON, `"w2"`) {
		t.Errorf("matches json should carry all candidates: %s", routed.MatchesJSON)
	}
}

func TestFilterDropsWhenBestMatchMissesItsThreshold(t *testing.T) {
	// w1 is the closest candidate but does not clear its own threshold.
	// The decision belongs to the closest candidate alone; w2 clearing a
	// looser threshold must not route the email.
	watchers := &fakeWatchers{
		active: true,
		matches: []domain.WatcherMatch{
			{WatcherID: "w1", WatcherName: "tight", Threshold: 0.99, QueryID: "q1", CosineDistance: 0.10},
			{WatcherID: "w2", WatcherName: "loose", Threshold: 0.50, QueryID: "q2", CosineDistance: 0.20},
		},
	}
	svc := newService(&fakeCache{store: map[string][]float32{}}, watchers, &fakeEmbedder{}, Config{})

	routed, err := svc.Filter(context.Background(), longEvent())
	if err != nil {
		t.Fatal(err)
	}
	if routed != nil {
		t.Errorf("expected drop, got routed to %s", routed.FilterWatcherID)
	}
}

func TestFilterFloorCountsRunes(t *testing.T) {
	cache := &fakeCache{store: map[string][]float32{}}
	embedder := &fakeEmbedder{}
	svc := newService(cache, &fakeWatchers{active: true}, embedder, Config{})

	// 30 runes but 90 bytes; counting bytes would wrongly pass the floor.
	in := &domain.NormalizedEmailEvent{
		MailboxID: "m", BodyHash: "h",
		Subject:     strings.Repeat("안", 10),
		TextContent: strings.Repeat("녕", 19),
	}
	routed, err := svc.Filter(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if routed != nil || embedder.calls != 0 {
		t.Errorf("multibyte text under the floor should drop without embedding, routed=%v calls=%d", routed != nil, embedder.calls)
	}
}

func TestFilterEmbedsOncePerBody(t *testing.T) {
	cache := &fakeCache{store: map[string][]float32{}}
	embedder := &fakeEmbedder{}
	svc := newService(cache, &fakeWatchers{active: true}, embedder, Config{})
	ctx := context.Background()

	if _, err := svc.Filter(ctx, longEvent()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Filter(ctx, longEvent()); err != nil {
		t.Fatal(err)
	}
	if embedder.calls != 1 {
		t.Errorf("embed calls = %d, want 1", embedder.calls)
	}
	if cache.puts != 1 {
		t.Errorf("cache puts = %d, want 1", cache.puts)
	}
}

func TestFilterCacheOnlyDropsOnMiss(t *testing.T) {
	embedder := &fakeEmbedder{}
	svc := newService(&fakeCache{store: map[string][]float32{}}, &fakeWatchers{active: true}, embedder, Config{CacheOnly: true})

	routed, err := svc.Filter(context.Background(), longEvent())
	if err != nil {
		t.Fatal(err)
	}
	if routed != nil {
		t.Error("cache-only miss should be filtered out")
	}
	if embedder.calls != 0 {
		t.Error("cache-only mode must not call the embedder")
	}
}

func TestFilterSkipsEmbeddingWithoutWatchers(t *testing.T) {
	embedder := &fakeEmbedder{}
	svc := newService(&fakeCache{store: map[string][]float32{}}, &fakeWatchers{active: false}, embedder, Config{WatcherTTL: time.Minute})

	routed, err := svc.Filter(context.Background(), longEvent())
	if err != nil {
		t.Fatal(err)
	}
	if routed != nil || embedder.calls != 0 {
		t.Errorf("no-watchers mailbox should skip embedding, routed=%v calls=%d", routed != nil, embedder.calls)
	}
}
