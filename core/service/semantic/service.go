// Package semantic decides whether a normalized email is close enough
// to any watcher to be worth classifying.
package semantic

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailwatch/core/domain"
	"mailwatch/core/port/out"
	"mailwatch/pkg/apperr"
)

// MinTextLength is the floor below which an email carries too little
// signal to embed.
const MinTextLength = 40

type Service struct {
	cache    out.EmbeddingCache
	watchers out.WatcherStore
	embedder out.Embedder
	log      zerolog.Logger

	cacheOnly bool
	topK      int

	// mailbox → active-watcher existence, memoized briefly so the hot
	// path skips a storage round trip per email.
	mu         sync.Mutex
	activeMemo map[string]activeEntry
	memoTTL    time.Duration
}

type activeEntry struct {
	active  bool
	expires time.Time
}

type Config struct {
	CacheOnly  bool
	TopK       int
	WatcherTTL time.Duration
}

func New(cache out.EmbeddingCache, watchers out.WatcherStore, embedder out.Embedder, cfg Config, log zerolog.Logger) *Service {
	topK := cfg.TopK
	if topK == 0 {
		topK = 5
	}
	memoTTL := cfg.WatcherTTL
	if memoTTL == 0 {
		memoTTL = time.Minute
	}
	return &Service{
		cache:      cache,
		watchers:   watchers,
		embedder:   embedder,
		log:        log,
		cacheOnly:  cfg.CacheOnly,
		topK:       topK,
		activeMemo: make(map[string]activeEntry),
		memoTTL:    memoTTL,
	}
}

// Filter returns the routed event when some watcher clears its
// threshold, or nil when the email is filtered out. A nil result with
// nil error means ack and drop.
func (s *Service) Filter(ctx context.Context, in *domain.NormalizedEmailEvent) (*domain.RoutedEmailEvent, error) {
	emailText := domain.TruncateRunes(in.Subject+"\n"+in.TextContent, domain.TextContentLimit)
	if utf8.RuneCountInString(emailText) < MinTextLength {
		s.log.Debug().
			Str("trace_id", in.TraceID).
			Str("idemp_key", in.IdempKey).
			Int("length", utf8.RuneCountInString(emailText)).
			Msg("text too short, filtered out")
		return nil, nil
	}

	hasWatchers, err := s.hasActiveWatchers(ctx, in.MailboxID)
	if err != nil {
		return nil, apperr.Transient("checking active watchers", err)
	}
	if !hasWatchers {
		s.log.Debug().
			Str("trace_id", in.TraceID).
			Str("mailbox_id", in.MailboxID).
			Msg("no active watchers, filtered out")
		return nil, nil
	}

	embedding, err := s.embeddingFor(ctx, in, emailText)
	if err != nil {
		return nil, err
	}
	if embedding == nil {
		// Cache-only mode and a cold cache.
		return nil, nil
	}

	matches, err := s.watchers.MatchWatcherQueries(ctx, in.MailboxID, embedding, s.topK)
	if err != nil {
		return nil, apperr.Transient("watcher query search", err)
	}

	// Only the closest candidate decides: it routes iff it clears its
	// own threshold, otherwise the email is dropped even when a farther
	// watcher with a looser threshold would have accepted it.
	if len(matches) == 0 || !matches[0].Routed() {
		s.log.Debug().
			Str("trace_id", in.TraceID).
			Str("idemp_key", in.IdempKey).
			Int("candidates", len(matches)).
			Msg("best match below its threshold, filtered out")
		return nil, nil
	}
	best := &matches[0]

	routed := &domain.RoutedEmailEvent{
		NormalizedEmailEvent: *in,
		FilterWatcherID:      best.WatcherID,
		FilterWatcherName:    best.WatcherName,
		FilterQueryID:        best.QueryID,
		FilterQueryText:      best.QueryText,
		FilterSimilarity:     fmt.Sprintf("%.4f", best.Similarity()),
	}
	routed.MatchesJSON = encodeMatches(matches)

	s.log.Info().
		Str("trace_id", in.TraceID).
		Str("idemp_key", in.IdempKey).
		Str("watcher", best.WatcherName).
		Str("similarity", routed.FilterSimilarity).
		Msg("routed to classifier")
	return routed, nil
}

// embeddingFor resolves the email embedding: durable cache first, then
// the embedding API unless running cache-only.
func (s *Service) embeddingFor(ctx context.Context, in *domain.NormalizedEmailEvent, emailText string) ([]float32, error) {
	cached, err := s.cache.Get(ctx, in.MailboxID, in.BodyHash)
	if err != nil {
		return nil, apperr.Transient("embedding cache read", err)
	}
	if cached != nil {
		return cached, nil
	}
	if s.cacheOnly {
		s.log.Debug().
			Str("trace_id", in.TraceID).
			Str("idemp_key", in.IdempKey).
			Msg("cache-only mode, embedding miss, filtered out")
		return nil, nil
	}

	embedding, err := s.embedder.Embed(ctx, emailText)
	if err != nil {
		return nil, apperr.Transient("computing embedding", err)
	}
	if err := s.cache.Put(ctx, in.MailboxID, in.BodyHash, embedding); err != nil {
		// The decision already has its embedding; a failed cache write
		// only costs a recompute later.
		s.log.Warn().Err(err).Str("idemp_key", in.IdempKey).Msg("embedding cache write failed")
	}
	return embedding, nil
}

func (s *Service) hasActiveWatchers(ctx context.Context, mailboxID string) (bool, error) {
	now := time.Now()
	s.mu.Lock()
	if e, ok := s.activeMemo[mailboxID]; ok && now.Before(e.expires) {
		s.mu.Unlock()
		return e.active, nil
	}
	s.mu.Unlock()

	active, err := s.watchers.HasActiveWatchers(ctx, mailboxID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.activeMemo[mailboxID] = activeEntry{active: active, expires: now.Add(s.memoTTL)}
	s.mu.Unlock()
	return active, nil
}

type matchRecord struct {
	WatcherID   string  `json:"watcher_id"`
	WatcherName string  `json:"watcher_name"`
	QueryID     string  `json:"query_id"`
	Similarity  float64 `json:"similarity"`
	Routed      bool    `json:"routed"`
}

func encodeMatches(matches []domain.WatcherMatch) string {
	records := make([]matchRecord, len(matches))
	for i, m := range matches {
		records[i] = matchRecord{
			WatcherID:   m.WatcherID,
			WatcherName: m.WatcherName,
			QueryID:     m.QueryID,
			Similarity:  m.Similarity(),
			Routed:      m.Routed(),
		}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return ""
	}
	return string(b)
}
