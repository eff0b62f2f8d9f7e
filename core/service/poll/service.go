// Package poll drives the mailbox scan state machine and publishes raw
// email events.
package poll

import (
	"context"
	"encoding/base64"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailwatch/core/domain"
	"mailwatch/core/port/out"
	"mailwatch/pkg/apperr"
)

type Service struct {
	source    out.MailSource
	broker    out.Broker
	scanState out.ScanStateStore
	gate      SubjectGate
	log       zerolog.Logger

	mailboxID      string
	provider       string
	batchLimit     int
	scanWindowDays int
	concurrency    int
}

type Config struct {
	MailboxID        string
	ProviderOverride string
	BatchLimit       int
	ScanWindowDays   int
	Concurrency      int
}

func New(source out.MailSource, broker out.Broker, scanState out.ScanStateStore, gate SubjectGate, cfg Config, log zerolog.Logger) *Service {
	batchLimit := cfg.BatchLimit
	if batchLimit == 0 {
		batchLimit = 100
	}
	scanWindowDays := cfg.ScanWindowDays
	if scanWindowDays == 0 {
		scanWindowDays = 450
	}
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 4
	}
	if gate == nil {
		gate = PassAllGate{}
	}
	return &Service{
		source:         source,
		broker:         broker,
		scanState:      scanState,
		gate:           gate,
		log:            log,
		mailboxID:      cfg.MailboxID,
		provider:       domain.ProviderFor(cfg.MailboxID, cfg.ProviderOverride),
		batchLimit:     batchLimit,
		scanWindowDays: scanWindowDays,
		concurrency:    concurrency,
	}
}

// InitialScanDone reports whether the mailbox is in incremental mode.
// A state read failure counts as not done.
func (s *Service) InitialScanDone(ctx context.Context) bool {
	state, err := s.scanState.Get(ctx, s.mailboxID)
	if err != nil {
		return false
	}
	return state.InitialScanCompleted
}

// batchResult accumulates per-message outcomes across the pool workers.
type batchResult struct {
	mu         sync.Mutex
	published  int
	gated      int
	publishErr error
}

func (r *batchResult) recordPublished() {
	r.mu.Lock()
	r.published++
	r.mu.Unlock()
}

func (r *batchResult) recordGated() {
	r.mu.Lock()
	r.gated++
	r.mu.Unlock()
}

func (r *batchResult) recordError(err error) {
	r.mu.Lock()
	if r.publishErr == nil {
		r.publishErr = err
	}
	r.mu.Unlock()
}

// ScanOnce runs one poll tick: pick the batch per the scan mode, gate
// and publish concurrently, then advance the watermark only if the whole
// batch landed.
func (s *Service) ScanOnce(ctx context.Context) error {
	state, err := s.scanState.Get(ctx, s.mailboxID)
	if err != nil {
		return apperr.Transient("reading scan state", err)
	}

	if _, err := s.source.Connect(ctx); err != nil {
		return apperr.Transient("connecting to mailbox", err)
	}
	defer s.source.Close()

	var uids []uint32
	if state.InitialScanCompleted {
		uids, err = s.source.SearchAfterUID(ctx, uint32(state.LastScanUID))
	} else {
		since := time.Now().AddDate(0, 0, -s.scanWindowDays)
		uids, err = s.source.SearchSince(ctx, since)
	}
	if err != nil {
		return apperr.Transient("searching mailbox", err)
	}

	// Ascending UID order; drop anything at or below the watermark so
	// the initial scan resumes where it left off.
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	filtered := uids[:0]
	for _, uid := range uids {
		if int64(uid) > state.LastScanUID {
			filtered = append(filtered, uid)
		}
	}
	uids = filtered

	batchDrained := len(uids) <= s.batchLimit
	if len(uids) > s.batchLimit {
		uids = uids[:s.batchLimit]
	}
	if len(uids) == 0 {
		if !state.InitialScanCompleted {
			if err := s.scanState.CompleteInitialScan(ctx, s.mailboxID); err != nil {
				return apperr.Transient("completing initial scan", err)
			}
			s.log.Info().Str("mailbox_id", s.mailboxID).Msg("initial scan completed")
		}
		return nil
	}

	msgs, err := s.source.Fetch(ctx, uids, s.batchLimit)
	if err != nil {
		return apperr.Transient("fetching messages", err)
	}

	result := &batchResult{}
	worker := &publishWorker{svc: s, result: result}
	p := pool.New[*out.MailMessage](s.concurrency, worker).WithContinueOnError()
	if err := p.Go(ctx); err != nil {
		return apperr.Transient("starting publish pool", err)
	}
	var maxUID uint32
	for _, msg := range msgs {
		if msg.UID > maxUID {
			maxUID = msg.UID
		}
		p.Submit(msg)
	}
	if err := p.Close(ctx); err != nil {
		result.recordError(err)
	}

	if result.publishErr != nil {
		// No watermark move: the whole batch replays next tick and
		// idempotency keys keep downstream deduplicated.
		return apperr.Transient("publishing batch", result.publishErr)
	}

	if err := s.scanState.AdvanceUID(ctx, s.mailboxID, int64(maxUID)); err != nil {
		return apperr.Transient("advancing watermark", err)
	}
	if !state.InitialScanCompleted && batchDrained {
		if err := s.scanState.CompleteInitialScan(ctx, s.mailboxID); err != nil {
			return apperr.Transient("completing initial scan", err)
		}
		s.log.Info().Str("mailbox_id", s.mailboxID).Msg("initial scan completed")
	}

	s.log.Info().
		Str("mailbox_id", s.mailboxID).
		Int("batch", len(msgs)).
		Int("published", result.published).
		Int("gated", result.gated).
		Uint32("watermark", maxUID).
		Msg("poll tick done")
	return nil
}

type publishWorker struct {
	svc    *Service
	result *batchResult
}

func (w *publishWorker) Do(ctx context.Context, msg *out.MailMessage) error {
	allowed, err := w.svc.gate.Allow(ctx, msg.From, msg.Subject)
	if err != nil {
		w.result.recordError(err)
		return err
	}
	if !allowed {
		w.result.recordGated()
		return nil
	}

	event := w.svc.buildEvent(msg)
	if _, err := w.svc.broker.Publish(ctx, domain.StreamRawEmails, event.Fields()); err != nil {
		w.result.recordError(err)
		return err
	}
	w.result.recordPublished()
	return nil
}

func (s *Service) buildEvent(msg *out.MailMessage) *domain.RawEmailEvent {
	externalID := msg.MessageID
	if externalID == "" {
		externalID = strconv.FormatUint(uint64(msg.UID), 10)
	}
	return &domain.RawEmailEvent{
		TraceID:     uuid.NewString(),
		MailboxID:   s.mailboxID,
		ExternalID:  externalID,
		ReceivedTS:  msg.ReceivedAt.Unix(),
		IdempKey:    domain.BuildIdempotencyKey(s.provider, s.mailboxID, externalID),
		Subject:     msg.Subject,
		RawEmailB64: base64.StdEncoding.EncodeToString(msg.Raw),
	}
}
