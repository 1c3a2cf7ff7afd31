package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientInterface is the queue surface the pipeline components depend on:
// the processor and simulator publish through it, the ingest and fence-feed
// consumers receive through it. Tests substitute the mock package.
type ClientInterface interface {
	// Push publishes data onto the queue and blocks until the broker
	// confirms it, retrying with backoff on transient failures.
	Push(ctx context.Context, data []byte) error

	// UnsafePush publishes without waiting for a broker confirmation. It
	// returns an error only when the client is not connected.
	UnsafePush(ctx context.Context, data []byte) error

	// Consume continuously puts queue deliveries on the returned channel.
	// The receiver must Ack each delivery once handled (telemetry events
	// are acked on handoff and never redelivered).
	Consume() (<-chan amqp.Delivery, error)

	// Close cleanly shuts down the channel and connection.
	Close() error
}

var _ ClientInterface = (*Client)(nil)
