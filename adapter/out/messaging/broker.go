// Package messaging implements the stream broker port on Redis Streams
// and the consumer group read loop driving the stage handlers.
package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mailwatch/core/port/out"
)

// DLQStream maps a pipeline stream to its dead-letter stream:
// the ".v1" suffix becomes ".dlq.v1".
func DLQStream(stream string) string {
	if strings.HasSuffix(stream, ".v1") {
		return strings.TrimSuffix(stream, ".v1") + ".dlq.v1"
	}
	return stream + ".dlq"
}

// RedisBroker implements the Broker port on a Redis client.
type RedisBroker struct {
	client    *redis.Client
	log       zerolog.Logger
	block     time.Duration
	minIdle   time.Duration
	opTimeout time.Duration
}

type BrokerConfig struct {
	Block     time.Duration // XREADGROUP block interval
	MinIdle   time.Duration // pending idle threshold before reclaim
	OpTimeout time.Duration // deadline for non-blocking commands
	Logger    zerolog.Logger
}

func NewRedisBroker(client *redis.Client, cfg BrokerConfig) *RedisBroker {
	block := cfg.Block
	if block == 0 {
		block = time.Second
	}
	minIdle := cfg.MinIdle
	if minIdle == 0 {
		minIdle = 2 * time.Minute
	}
	opTimeout := cfg.OpTimeout
	if opTimeout == 0 {
		opTimeout = 5 * time.Second
	}
	return &RedisBroker{
		client:    client,
		log:       cfg.Logger,
		block:     block,
		minIdle:   minIdle,
		opTimeout: opTimeout,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, stream string, fields map[string]interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()

	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

func (b *RedisBroker) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (b *RedisBroker) ReadGroup(ctx context.Context, stream, group, consumer string, count int64) ([]out.StreamEntry, error) {
	result, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    b.block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var entries []out.StreamEntry
	for _, s := range result {
		for _, msg := range s.Messages {
			entries = append(entries, out.StreamEntry{ID: msg.ID, Values: msg.Values})
		}
	}
	return entries, nil
}

func (b *RedisBroker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	ctx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()

	return b.client.XAck(ctx, stream, group, ids...).Err()
}

// ClaimStale reclaims pending entries idle past the threshold. Entries
// already delivered more than maxRetries times are not re-claimed; they
// are returned as dead for the caller to dead-letter.
func (b *RedisBroker) ClaimStale(ctx context.Context, stream, group, consumer string, maxRetries int64) ([]out.StreamEntry, []out.DeadEntry, error) {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var claimed []out.StreamEntry
	var dead []out.DeadEntry
	for _, p := range pending {
		if p.Idle < b.minIdle {
			continue
		}

		if p.RetryCount >= maxRetries {
			entries, err := b.client.XRange(ctx, stream, p.ID, p.ID).Result()
			if err != nil || len(entries) == 0 {
				// Already trimmed; ack so it stops circulating.
				b.client.XAck(ctx, stream, group, p.ID)
				continue
			}
			dead = append(dead, out.DeadEntry{
				Entry:      out.StreamEntry{ID: p.ID, Values: entries[0].Values},
				Deliveries: p.RetryCount,
				Reason:     fmt.Sprintf("exceeded %d redeliveries", maxRetries),
			})
			continue
		}

		msgs, err := b.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: consumer,
			MinIdle:  b.minIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			b.log.Error().Err(err).Str("stream", stream).Str("id", p.ID).Msg("error claiming pending entry")
			continue
		}
		for _, msg := range msgs {
			claimed = append(claimed, out.StreamEntry{ID: msg.ID, Values: msg.Values})
		}
	}
	return claimed, dead, nil
}

func (b *RedisBroker) DeadLetter(ctx context.Context, stream, group, consumer string, entry out.StreamEntry, reason string) error {
	dlq := DLQStream(stream)

	fields := map[string]interface{}{
		"reason":          reason,
		"original_stream": stream,
		"original_id":     entry.ID,
		"group":           group,
		"consumer":        consumer,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range entry.Values {
		fields[k] = v
	}

	if _, err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: dlq, Values: fields}).Result(); err != nil {
		return fmt.Errorf("xadd %s: %w", dlq, err)
	}
	if err := b.client.XAck(ctx, stream, group, entry.ID).Err(); err != nil {
		return fmt.Errorf("xack after dead-letter: %w", err)
	}

	b.log.Warn().
		Str("dlq_stream", dlq).
		Str("original_stream", stream).
		Str("original_id", entry.ID).
		Str("reason", reason).
		Msg("entry dead-lettered")
	return nil
}

func (b *RedisBroker) Len(ctx context.Context, stream string) (int64, error) {
	return b.client.XLen(ctx, stream).Result()
}
