package bootstrap

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mailwatch/adapter/out/messaging"
	"mailwatch/adapter/out/persistence"
	"mailwatch/config"
	"mailwatch/core/agent/llm"
	"mailwatch/core/service/classify"
	"mailwatch/core/service/normalize"
	"mailwatch/core/service/persist"
	"mailwatch/core/service/semantic"
	"mailwatch/core/service/watcher"
	"mailwatch/infra/database"
)

// Dependencies wires infrastructure, adapters and services. Every mode
// (poller, stage workers, api, add-watcher) builds on the same graph.
type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger

	DB    *pgxpool.Pool
	SQLDB *sqlx.DB
	Redis *redis.Client

	Broker *messaging.RedisBroker
	LLM    *llm.Client

	MessageRepo   *persistence.MessageAdapter
	ScanStateRepo *persistence.ScanStateAdapter
	WatcherRepo   *persistence.WatcherAdapter
	EmbeddingRepo *persistence.EmbeddingCacheAdapter

	NormalizeService *normalize.Service
	SemanticService  *semantic.Service
	ClassifyService  *classify.Service
	PersistService   *persist.Service
	WatcherService   *watcher.Service
}

func NewDependencies(cfg *config.Config, log zerolog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Log: log}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, db.Close)

	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { _ = sqlDB.Close() })

	rdb, err := database.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Redis = rdb
	cleanups = append(cleanups, func() { _ = rdb.Close() })

	deps.Broker = messaging.NewRedisBroker(rdb, messaging.BrokerConfig{
		Block:     time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
		MinIdle:   cfg.PendingIdleTime,
		OpTimeout: cfg.BrokerTimeout,
		Logger:    log.With().Str("component", "broker").Logger(),
	})

	deps.LLM = llm.NewClient(llm.ClientConfig{
		APIKey:         cfg.OpenAIAPIKey,
		Model:          cfg.LLMModel,
		EmbeddingModel: cfg.EmbeddingModel,
		EmbeddingDim:   cfg.EmbeddingDim,
		MaxTokens:      cfg.LLMMaxTokens,
		Temperature:    cfg.LLMTemperature,
		ChatTimeout:    cfg.LLMTimeout,
		EmbedTimeout:   cfg.EmbedTimeout,
	})

	deps.MessageRepo = persistence.NewMessageAdapter(sqlDB)
	deps.ScanStateRepo = persistence.NewScanStateAdapter(sqlDB)
	deps.WatcherRepo = persistence.NewWatcherAdapter(db)
	deps.EmbeddingRepo = persistence.NewEmbeddingCacheAdapter(db)

	deps.NormalizeService = normalize.New(log.With().Str("stage", "normalizer").Logger())
	deps.SemanticService = semantic.New(deps.EmbeddingRepo, deps.WatcherRepo, deps.LLM, semantic.Config{
		CacheOnly:  cfg.CacheOnly,
		TopK:       cfg.TopK,
		WatcherTTL: cfg.WatcherTTL,
	}, log.With().Str("stage", "semantic-filter").Logger())
	deps.ClassifyService = classify.New(deps.LLM, log.With().Str("stage", "classifier").Logger())
	deps.PersistService = persist.New(deps.MessageRepo, log.With().Str("stage", "persister").Logger())
	deps.WatcherService = watcher.New(deps.WatcherRepo, deps.LLM, deps.LLM, log.With().Str("component", "watcher").Logger())

	return deps, cleanup, nil
}
