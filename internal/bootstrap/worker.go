package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mailwatch/adapter/in/worker"
	"mailwatch/adapter/out/imap"
	"mailwatch/adapter/out/messaging"
	"mailwatch/config"
	"mailwatch/core/domain"
	"mailwatch/core/service/poll"
)

// Worker modes. "all" runs the poller and every pipeline stage in one
// process, the rest run a single role for horizontal scaling.
const (
	ModeAll         = "all"
	ModePoller      = "poller"
	ModeNormalizer  = "normalizer"
	ModeSemantic    = "semantic-filter"
	ModeClassifier  = "classifier"
	ModePersister   = "persister"
	ModeDLQReplayer = "dlq-replayer"
)

type runner interface {
	Run(ctx context.Context) error
}

// Worker runs a set of stage consumers and/or the mailbox poller.
type Worker struct {
	deps    *Dependencies
	runners []runner
	log     zerolog.Logger
}

func NewWorker(cfg *config.Config, log zerolog.Logger, mode string, replay bool) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	w := &Worker{deps: deps, log: log}

	switch mode {
	case ModeAll:
		w.addPoller()
		w.addNormalizer()
		w.addSemanticFilter()
		w.addClassifier()
		w.addPersister()
	case ModePoller:
		w.addPoller()
	case ModeNormalizer:
		w.addNormalizer()
	case ModeSemantic:
		w.addSemanticFilter()
	case ModeClassifier:
		w.addClassifier()
	case ModePersister:
		w.addPersister()
	case ModeDLQReplayer:
		w.addDLQReplayer(replay)
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown worker mode %q", mode)
	}

	return w, cleanup, nil
}

// Run blocks until ctx is cancelled or a runner fails.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range w.runners {
		r := r
		g.Go(func() error { return r.Run(ctx) })
	}
	return g.Wait()
}

func (w *Worker) addPoller() {
	cfg := w.deps.Config
	source := imap.New(imap.Config{
		Addr:     cfg.IMAPServer,
		Username: cfg.EmailUser,
		Password: cfg.EmailPassword,
		Timeout:  cfg.IMAPTimeout,
		Logger:   w.log.With().Str("component", "imap").Logger(),
	})

	var gate poll.SubjectGate
	if cfg.SubjectGate == "llm" {
		gate = poll.NewLLMSubjectGate(w.deps.LLM, w.log.With().Str("component", "subject-gate").Logger())
	}

	svc := poll.New(source, w.deps.Broker, w.deps.ScanStateRepo, gate, poll.Config{
		MailboxID:        cfg.EmailUser,
		ProviderOverride: cfg.ProviderOverride,
		BatchLimit:       cfg.ScanBatchLimit,
		ScanWindowDays:   cfg.ScanWindowDays,
		Concurrency:      cfg.PollConcurrency,
	}, w.log.With().Str("stage", "poller").Logger())

	w.runners = append(w.runners, worker.NewPoller(svc, worker.PollerConfig{
		Interval:        cfg.PollInterval,
		InitialInterval: cfg.InitialPollInterval,
	}, w.log.With().Str("stage", "poller").Logger()))
}

func (w *Worker) addNormalizer() {
	handler := worker.NewNormalizerHandler(w.deps.NormalizeService, w.deps.Broker, w.stageLog("normalizer"))
	w.addConsumer(domain.StreamRawEmails, domain.GroupNormalizer, "normalizer", handler)
}

func (w *Worker) addSemanticFilter() {
	handler := worker.NewSemanticHandler(w.deps.SemanticService, w.deps.Broker, w.stageLog("semantic-filter"))
	w.addConsumer(domain.StreamNormalized, domain.GroupSemantic, "semantic-filter", handler)
}

func (w *Worker) addClassifier() {
	handler := worker.NewClassifierHandler(w.deps.ClassifyService, w.deps.Broker, w.stageLog("classifier"))
	w.addConsumer(domain.StreamToClassify, domain.GroupClassifier, "classifier", handler)
}

func (w *Worker) addPersister() {
	handler := worker.NewPersisterHandler(w.deps.PersistService, w.stageLog("persister"))
	w.addConsumer(domain.StreamClassified, domain.GroupPersister, "persister", handler)
}

// addDLQReplayer consumes every stage's dead letter stream under one
// group. With replay enabled entries are re-injected into their
// original streams, otherwise they are only logged and acked.
func (w *Worker) addDLQReplayer(replay bool) {
	handler := worker.NewDLQHandler(w.deps.Broker, replay, w.stageLog("dlq-replayer"))
	for _, stream := range worker.DLQStreams(messaging.DLQStream) {
		w.addConsumer(stream, domain.GroupDLQReplayer, "dlq-replayer", handler)
	}
}

func (w *Worker) addConsumer(stream, group, role string, handler messaging.EntryHandler) {
	cfg := w.deps.Config
	w.runners = append(w.runners, messaging.NewConsumer(w.deps.Broker, &messaging.ConsumerConfig{
		Stream:               stream,
		Group:                group,
		Consumer:             cfg.ConsumerName(role),
		Handler:              handler,
		Logger:               w.stageLog(role),
		MaxRetries:           int64(cfg.ConsumerMaxRetries),
		PendingCheckInterval: cfg.PendingCheckInterval,
	}))
}

func (w *Worker) stageLog(stage string) zerolog.Logger {
	return w.log.With().Str("stage", stage).Logger()
}
