// Package consumer accumulates broker deliveries into batch.Batch values
// and hands each one to a sink, acknowledging the underlying deliveries
// only once the sink returns successfully. A batch is cut either when it
// reaches the configured size or when the configured interval elapses,
// whichever comes first — mirroring a buffered-channel-with-timeout
// accumulator, expressed here as a blocking iteration instead of an async
// generator since Go has no direct equivalent of the latter.
package consumer

import (
	"context"
	"time"

	"github.com/cyberstudio/batchmq/internal/batch"
	"github.com/cyberstudio/batchmq/internal/broker"
	"github.com/cyberstudio/batchmq/internal/decode"
)

// Config controls batch formation.
type Config struct {
	// BatchSize is the hard cap on deliveries per batch. The broker's
	// prefetch is set separately, by whoever opens the queue.
	BatchSize int
	// Interval is the maximum time to wait for BatchSize deliveries before
	// cutting a (possibly smaller) batch anyway. A non-positive Interval
	// replaces the timeout with a 24-hour one, so in practice BatchSize
	// cuts the batch.
	Interval time.Duration
}

// Consumer accumulates deliveries from one broker.Queue into batches.
type Consumer struct {
	cfg    Config
	decode decode.Decoder
}

// New creates a Consumer that decodes message bodies with decoder.
func New(cfg Config, decoder decode.Decoder) *Consumer {
	return &Consumer{cfg: cfg, decode: decoder}
}

// Sink receives one formed batch. Iterate only acknowledges the
// deliveries that made up the batch after sink returns nil.
type Sink func(ctx context.Context, b *batch.Batch) error

// Iterate drains q, forming and sinking batches, until ctx is canceled or
// the queue reports a broker-level error. It returns ctx.Err(), the
// broker error that ended iteration, or the first error returned by the
// sink or by the acknowledgement; a nil return never happens in
// practice since iteration is meant to run for the process lifetime.
func (c *Consumer) Iterate(ctx context.Context, q broker.Queue, sink Sink) error {
	var buffer []broker.Delivery
	remaining := c.interval()

	for {
		start := time.Now()
		timer := time.NewTimer(remaining)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()

		case err, ok := <-q.Errors():
			timer.Stop()
			if !ok {
				return broker.ErrConnectionLost
			}
			return err

		case d, ok := <-q.Deliveries():
			timer.Stop()
			if !ok {
				return broker.ErrConnectionLost
			}

			buffer = append(buffer, d)
			if len(buffer) >= c.cfg.BatchSize {
				if err := c.flush(ctx, q, buffer, sink); err != nil {
					return err
				}
				buffer = nil
				remaining = c.interval()
				continue
			}

			remaining -= time.Since(start)
			if remaining < 0 {
				remaining = 0
			}

		case <-timer.C:
			if len(buffer) > 0 {
				if err := c.flush(ctx, q, buffer, sink); err != nil {
					return err
				}
				buffer = nil
			}
			remaining = c.interval()
		}
	}
}

func (c *Consumer) interval() time.Duration {
	if c.cfg.Interval <= 0 {
		// No timeout trigger: block until BatchSize is reached. A very long
		// timer still lets ctx cancellation interrupt promptly.
		return 24 * time.Hour
	}
	return c.cfg.Interval
}

func (c *Consumer) flush(ctx context.Context, q broker.Queue, buffer []broker.Delivery, sink Sink) error {
	messages := make([]batch.Message, len(buffer))
	for i, d := range buffer {
		messages[i] = d
	}

	b, ok := batch.FromMessages(messages, c.decode.Decode)
	if ok {
		if err := sink(ctx, b); err != nil {
			return err
		}
	}

	lastTag := buffer[len(buffer)-1].Tag
	return q.AckUpTo(ctx, lastTag)
}
