package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"mailwatch/config"
	"mailwatch/core/domain"
	"mailwatch/internal/bootstrap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// .env is optional, real deployments use environment variables.
	_ = godotenv.Load()

	mode := flag.String("mode", bootstrap.ModeAll, "run mode: all, poller, normalizer, semantic-filter, classifier, persister, dlq-replayer, api, add-watcher")
	replay := flag.Bool("replay", false, "dlq-replayer: re-inject dead entries into their original streams")
	watcherName := flag.String("watcher-name", "", "add-watcher: watcher display name")
	watcherQuery := flag.String("watcher-query", "", "add-watcher: seed query text")
	watcherThreshold := flag.Float64("watcher-threshold", 0.7, "add-watcher: minimum cosine similarity")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	switch *mode {
	case "api":
		runAPI(cfg, log)
	case "add-watcher":
		runAddWatcher(cfg, log, *watcherName, *watcherQuery, *watcherThreshold)
	default:
		runWorker(cfg, log, *mode, *replay)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

func runWorker(cfg *config.Config, log zerolog.Logger, mode string, replay bool) {
	w, cleanup, err := bootstrap.NewWorker(cfg, log, mode, replay)
	if err != nil {
		log.Fatal().Err(err).Str("mode", mode).Msg("worker init failed")
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("mode", mode).Msg("worker starting")
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
	log.Info().Msg("worker shut down")
}

func runAPI(cfg *config.Config, log zerolog.Logger) {
	app, cleanup, err := bootstrap.NewAPI(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("api init failed")
	}
	defer cleanup()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Dur("timeout", shutdownTimeout).Msg("shutting down api")
		done := make(chan error, 1)
		go func() { done <- app.Shutdown() }()
		select {
		case err := <-done:
			if err != nil {
				log.Error().Err(err).Msg("shutdown error")
			}
		case <-time.After(shutdownTimeout):
			log.Warn().Msg("shutdown timed out, exiting")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("api listening")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("api server failed")
	}
}

func runAddWatcher(cfg *config.Config, log zerolog.Logger, name, query string, threshold float64) {
	if name == "" || query == "" {
		log.Fatal().Msg("add-watcher requires -watcher-name and -watcher-query")
	}

	deps, cleanup, err := bootstrap.NewDependencies(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init failed")
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	w, err := deps.WatcherService.CreateBundle(ctx, &domain.Watcher{
		MailboxID: cfg.EmailUser,
		Name:      name,
		QueryText: query,
		Threshold: threshold,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("watcher creation failed")
	}
	log.Info().Str("watcher_id", w.ID).Str("name", w.Name).Msg("watcher created")
}
