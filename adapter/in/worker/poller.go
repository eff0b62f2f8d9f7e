package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mailwatch/core/service/poll"
)

// Poller ticks the scan service. The initial scan runs on its own,
// usually slower, interval until the backlog is drained.
type Poller struct {
	svc *poll.Service
	log zerolog.Logger

	interval        time.Duration
	initialInterval time.Duration
}

type PollerConfig struct {
	Interval        time.Duration
	InitialInterval time.Duration
}

func NewPoller(svc *poll.Service, cfg PollerConfig, log zerolog.Logger) *Poller {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	initialInterval := cfg.InitialInterval
	if initialInterval == 0 {
		initialInterval = interval
	}
	return &Poller{
		svc:             svc,
		log:             log,
		interval:        interval,
		initialInterval: initialInterval,
	}
}

// Run polls until ctx is cancelled. Consecutive failures back off
// exponentially up to ten intervals.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().
		Dur("interval", p.interval).
		Dur("initial_interval", p.initialInterval).
		Msg("starting poller")

	failures := 0
	for {
		err := p.svc.ScanOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			p.log.Error().Err(err).Int("consecutive_failures", failures).Msg("poll tick failed")
		} else {
			failures = 0
		}

		wait := p.interval
		if !p.svc.InitialScanDone(ctx) {
			wait = p.initialInterval
		}
		if failures > 0 {
			backoff := wait * time.Duration(1<<uint(failures-1))
			if backoff > wait*10 {
				backoff = wait * 10
			}
			wait = backoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
