// Package pipeline wires one broker queue to one database table: a
// consumer.Consumer forms batches, an inserter.Engine sinks them, and the
// pipeline logs the outcome of each batch (rows written, rows isolated as
// unprocessable, decode failures) before the consumer acknowledges it.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/cyberstudio/batchmq/internal/batch"
	"github.com/cyberstudio/batchmq/internal/broker"
	"github.com/cyberstudio/batchmq/internal/consumer"
	"github.com/cyberstudio/batchmq/internal/inserter"
)

// Queue describes the broker queue a single pipeline drains. Name is the
// queue opened on the broker; TableName is attached to the pipeline's log
// lines only, since each batch is inserted into the table named by its
// messages' routing key. BatchSize is not read by the pipeline; the
// prefetch passed to Run is what the broker sees.
type Queue struct {
	Name      string
	TableName string
	BatchSize int
}

// Pipeline drains one broker queue, forming and inserting batches until ctx
// is canceled or the broker connection is lost.
type Pipeline struct {
	queue    Queue
	consumer *consumer.Consumer
	inserter *inserter.Engine
	log      *slog.Logger
}

// New creates a pipeline for a single queue.
func New(queue Queue, c *consumer.Consumer, e *inserter.Engine, log *slog.Logger) *Pipeline {
	return &Pipeline{queue: queue, consumer: c, inserter: e, log: log.With("queue", queue.Name, "table", queue.TableName)}
}

// Run drains src's queue until ctx is canceled or the broker connection is
// lost, returning the terminating error.
func (p *Pipeline) Run(ctx context.Context, src broker.Source, prefetch int) error {
	q, err := src.Open(ctx, p.queue.Name, prefetch)
	if err != nil {
		return err
	}
	defer q.Close()

	p.log.InfoContext(ctx, "pipeline started")
	err = p.consumer.Iterate(ctx, q, p.sink)
	p.log.InfoContext(ctx, "pipeline stopped", "error", err)
	return err
}

func (p *Pipeline) sink(ctx context.Context, b *batch.Batch) error {
	if len(b.ErrorBodies) > 0 {
		bodies := make([]string, len(b.ErrorBodies))
		for i, body := range b.ErrorBodies {
			bodies[i] = string(body)
		}
		p.log.WarnContext(ctx, "dropped undecodable messages",
			"count", len(b.ErrorBodies),
			"decode_errors", bodies,
		)
	}

	out, err := p.inserter.BulkCreate(ctx, b)
	if err != nil {
		return err
	}

	if len(out.ErrorObjects) > 0 {
		p.log.ErrorContext(ctx, "rows rejected by database",
			"count", len(out.ErrorObjects),
			"inserted", len(out.Objects)-len(out.ErrorObjects),
			"db_errors", out.ErrorObjects,
		)
	} else {
		p.log.InfoContext(ctx, "batch inserted", "count", len(out.Objects))
	}
	return nil
}
