package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mailwatch/core/port/out"
	"mailwatch/pkg/apperr"
)

// EntryHandler processes one stream entry. The returned error's kind
// decides the ack: nil or malformed/permanent acks, transient does not.
type EntryHandler interface {
	Handle(ctx context.Context, entry out.StreamEntry) error
}

// Consumer is the read-process-ack loop for one stream and group.
type Consumer struct {
	broker   out.Broker
	stream   string
	group    string
	consumer string
	handler  EntryHandler
	log      zerolog.Logger

	count                int64
	maxRetries           int64
	pendingCheckInterval time.Duration
}

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Handler  EntryHandler
	Logger   zerolog.Logger

	Count                int64
	MaxRetries           int64
	PendingCheckInterval time.Duration
}

func NewConsumer(broker out.Broker, cfg *ConsumerConfig) *Consumer {
	count := cfg.Count
	if count == 0 {
		count = 10
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	pendingCheckInterval := cfg.PendingCheckInterval
	if pendingCheckInterval == 0 {
		pendingCheckInterval = 30 * time.Second
	}

	return &Consumer{
		broker:               broker,
		stream:               cfg.Stream,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		handler:              cfg.Handler,
		log:                  cfg.Logger,
		count:                count,
		maxRetries:           maxRetries,
		pendingCheckInterval: pendingCheckInterval,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("stream", c.stream).
		Str("group", c.group).
		Str("consumer", c.consumer).
		Msg("starting consumer")

	if err := c.broker.EnsureGroup(ctx, c.stream, c.group); err != nil {
		return err
	}

	go c.reclaimLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entries, err := c.broker.ReadGroup(ctx, c.stream, c.group, c.consumer, c.count)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Str("stream", c.stream).Msg("error reading from stream")
			time.Sleep(time.Second)
			continue
		}

		for _, entry := range entries {
			c.processEntry(ctx, entry)
		}
	}
}

// processEntry runs the handler and applies the ack discipline. A panic
// is recovered and leaves the entry un-acked for redelivery.
func (c *Consumer) processEntry(ctx context.Context, entry out.StreamEntry) {
	err := c.safeHandle(ctx, entry)
	if err == nil {
		c.ack(ctx, entry.ID)
		return
	}

	switch apperr.KindOf(err) {
	case apperr.KindMalformed:
		c.log.Warn().
			Err(err).
			Str("stream", c.stream).
			Str("id", entry.ID).
			Msg("malformed entry dropped")
		c.ack(ctx, entry.ID)
	case apperr.KindPermanent:
		c.log.Error().
			Err(err).
			Str("stream", c.stream).
			Str("id", entry.ID).
			Msg("permanent failure, entry acked")
		c.ack(ctx, entry.ID)
	default:
		// Transient: leave pending, the reclaim loop redelivers.
		c.log.Warn().
			Err(err).
			Str("stream", c.stream).
			Str("id", entry.ID).
			Msg("transient failure, entry left pending")
	}
}

func (c *Consumer) safeHandle(ctx context.Context, entry out.StreamEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			c.log.Error().
				Str("stream", c.stream).
				Str("id", entry.ID).
				Interface("panic", r).
				Msg("recovered handler panic")
		}
	}()
	return c.handler.Handle(ctx, entry)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.broker.Ack(ctx, c.stream, c.group, id); err != nil {
		c.log.Error().Err(err).Str("stream", c.stream).Str("id", id).Msg("error acknowledging entry")
	}
}

// reclaimLoop periodically reprocesses stale pending entries and
// dead-letters those past the retry ceiling.
func (c *Consumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reclaimOnce(ctx)
		}
	}
}

func (c *Consumer) reclaimOnce(ctx context.Context) {
	claimed, dead, err := c.broker.ClaimStale(ctx, c.stream, c.group, c.consumer, c.maxRetries)
	if err != nil {
		c.log.Error().Err(err).Str("stream", c.stream).Msg("error checking pending entries")
		return
	}

	for _, d := range dead {
		if err := c.broker.DeadLetter(ctx, c.stream, c.group, c.consumer, d.Entry, d.Reason); err != nil {
			c.log.Error().Err(err).Str("id", d.Entry.ID).Msg("error dead-lettering entry")
		}
	}

	for _, entry := range claimed {
		c.log.Info().
			Str("stream", c.stream).
			Str("id", entry.ID).
			Msg("reprocessing claimed pending entry")
		c.processEntry(ctx, entry)
	}
}
