package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// MetadataTraceID is the Message.Metadata key holding the publisher's
// trace ID.
const MetadataTraceID = "trace_id"

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `mapstructure:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `mapstructure:"natsUrl"`
	NATSToken         string `mapstructure:"natsToken"`
	NATSMaxReconnects int    `mapstructure:"natsMaxReconnects"`
	NATSReconnectWait int    `mapstructure:"natsReconnectWait"` // seconds

	// QueueGroup load-balances subscriptions across instances (NATS only).
	QueueGroup string `mapstructure:"queueGroup"`
}

// Standard topic names for the prediction pipeline.
const (
	TopicPredictionRequested = "kestrel.prediction.requested"
	TopicPredictionScored    = "kestrel.prediction.scored"
	TopicPredictionFailed    = "kestrel.prediction.failed"
	TopicPredictionRecorded  = "kestrel.prediction.recorded"
	TopicHighRisk            = "kestrel.prediction.high_risk"
)

// PredictionRequestMessage is the payload of an asynchronous scoring request.
type PredictionRequestMessage struct {
	RequestID string   `json:"requestId"`
	TraceID   string   `json:"traceId,omitempty"`
	Features  Features `json:"features"`
}

// Async request states.
const (
	AsyncPending = "pending"
	AsyncDone    = "done"
	AsyncFailed  = "failed"
)

// PredictionReplyMessage is published once an asynchronous request is done
// and kept in the cache for polling.
type PredictionReplyMessage struct {
	RequestID string            `json:"requestId"`
	Status    string            `json:"status"`
	Result    *PredictionResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// AsyncResultTTL bounds how long async replies stay pollable.
const AsyncResultTTL = time.Hour

// AsyncResultPrefix prefixes every async reply key. Entries under it change
// state on another node, so they must not be held in a local cache tier.
const AsyncResultPrefix = "async:"

// AsyncResultKey is the cache key of an async reply.
func AsyncResultKey(requestID string) string {
	return AsyncResultPrefix + requestID
}
