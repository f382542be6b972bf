// Package broker defines the contract the batch consumer depends on for
// pulling deliveries out of a message broker: named durable queues,
// per-channel prefetch, consume-as-stream delivery, and cumulative
// (multi-)acknowledgement. A generic pub/sub Producer/Consumer abstraction
// with a per-message ack-or-nack return from the handler cannot express
// "acknowledge everything up to and including delivery N" after a whole
// batch has been formed and sunk, so this is a narrower, purpose-built
// contract instead. See DESIGN.md for the full rationale.
package broker

import (
	"context"
	"errors"
)

// ErrConnectionLost is wrapped into errors returned from a Queue's Errors()
// channel or from Deliveries() closing unexpectedly; it is the BrokerError
// of the design: it propagates out of the consumer's iteration instead of
// being retried internally.
var ErrConnectionLost = errors.New("broker: connection lost")

// Delivery is one message pulled off a queue.
type Delivery struct {
	BodyValue       []byte
	RoutingKeyValue string
	// Tag identifies this delivery for cumulative acknowledgement: acking
	// tag N acknowledges every delivery up to and including N.
	Tag uint64
}

// RoutingKey and Body let Delivery satisfy batch.Message without the batch
// package importing broker.
func (d Delivery) RoutingKey() string { return d.RoutingKeyValue }
func (d Delivery) Body() []byte       { return d.BodyValue }

// Source connects to a broker and opens queues on it.
type Source interface {
	// Connect establishes the broker connection. Idempotent per instance.
	Connect(ctx context.Context) error

	// Open starts consuming queueName with the given prefetch limit (also
	// used as the hard per-batch cap by the caller) and returns a Queue
	// handle to drain it.
	Open(ctx context.Context, queueName string, prefetch int) (Queue, error)

	// Close tears down the broker connection and any open queues.
	Close() error
}

// Queue streams deliveries from one broker queue and accepts cumulative
// acknowledgement against it.
type Queue interface {
	// Deliveries yields messages as they arrive. The channel is closed when
	// the queue is closed or the connection is lost; a connection loss is
	// additionally reported on Errors().
	Deliveries() <-chan Delivery

	// Errors reports broker-level failures (ErrConnectionLost and similar).
	// The consumer must stop iterating and the caller must reconnect.
	Errors() <-chan error

	// AckUpTo acknowledges every delivery up to and including tag in one
	// broker call.
	AckUpTo(ctx context.Context, tag uint64) error

	// Close stops draining the queue. Unacknowledged deliveries already
	// pulled are implicitly redelivered by the broker on reconnect.
	Close() error
}
