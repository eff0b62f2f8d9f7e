// Package out defines outbound ports (driven ports) for the application.
package out

import "context"

// StreamEntry is one delivered broker entry with its per-stream ID.
type StreamEntry struct {
	ID     string
	Values map[string]interface{}
}

// DeadEntry is a pending entry that exhausted its redeliveries.
type DeadEntry struct {
	Entry      StreamEntry
	Deliveries int64
	Reason     string
}

// Broker defines the outbound port for the ordered stream broker.
type Broker interface {
	// Publish appends flat fields to stream and returns the entry ID.
	Publish(ctx context.Context, stream string, fields map[string]interface{}) (string, error)

	// EnsureGroup creates the consumer group on stream, tolerating
	// prior existence.
	EnsureGroup(ctx context.Context, stream, group string) error

	// ReadGroup blocks up to the configured interval for new entries
	// delivered to this consumer within group.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64) ([]StreamEntry, error)

	// Ack marks entries as processed for group.
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// ClaimStale reclaims pending entries idle past the configured
	// threshold. Entries delivered more than maxRetries times are
	// dead-lettered instead and returned in dead.
	ClaimStale(ctx context.Context, stream, group, consumer string, maxRetries int64) (claimed []StreamEntry, dead []DeadEntry, err error)

	// DeadLetter moves an entry to the stream's DLQ with a reason and
	// acks the original.
	DeadLetter(ctx context.Context, stream, group, consumer string, entry StreamEntry, reason string) error

	// Len returns the entry count of stream.
	Len(ctx context.Context, stream string) (int64, error)
}
