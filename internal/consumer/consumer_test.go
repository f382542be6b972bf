package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberstudio/batchmq/internal/batch"
	"github.com/cyberstudio/batchmq/internal/broker"
	"github.com/cyberstudio/batchmq/internal/decode"
)

type fakeQueue struct {
	deliveries chan broker.Delivery
	errs       chan error
	acked      []uint64
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		deliveries: make(chan broker.Delivery, 16),
		errs:       make(chan error, 1),
	}
}

func (q *fakeQueue) Deliveries() <-chan broker.Delivery { return q.deliveries }
func (q *fakeQueue) Errors() <-chan error                { return q.errs }
func (q *fakeQueue) AckUpTo(ctx context.Context, tag uint64) error {
	q.acked = append(q.acked, tag)
	return nil
}
func (q *fakeQueue) Close() error { return nil }

func plainDecode(body []byte) (batch.Row, error) {
	return batch.Row{"v": string(body)}, nil
}

func TestIterate_CutsOnBatchSize(t *testing.T) {
	q := newFakeQueue()
	q.deliveries <- broker.Delivery{BodyValue: []byte("1"), RoutingKeyValue: "a.b.things", Tag: 1}
	q.deliveries <- broker.Delivery{BodyValue: []byte("2"), RoutingKeyValue: "a.b.things", Tag: 2}

	c := New(Config{BatchSize: 2, Interval: time.Hour}, decode.Func(plainDecode))

	ctx, cancel := context.WithCancel(context.Background())
	var got *batch.Batch
	go func() {
		_ = c.Iterate(ctx, q, func(ctx context.Context, b *batch.Batch) error {
			got = b
			cancel()
			return nil
		})
	}()

	<-ctx.Done()
	time.Sleep(10 * time.Millisecond)
	require.NotNil(t, got)
	assert.Equal(t, "things", got.TableName)
	assert.Len(t, got.Objects, 2)
	assert.Equal(t, []uint64{2}, q.acked)
}

func TestIterate_CutsOnInterval(t *testing.T) {
	q := newFakeQueue()
	q.deliveries <- broker.Delivery{BodyValue: []byte("1"), RoutingKeyValue: "a.b.things", Tag: 1}

	c := New(Config{BatchSize: 10, Interval: 20 * time.Millisecond}, decode.Func(plainDecode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	var got *batch.Batch
	go func() {
		_ = c.Iterate(ctx, q, func(ctx context.Context, b *batch.Batch) error {
			got = b
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for interval-triggered flush")
	}
	// The ack is sent only after the sink returns, so give it a moment.
	time.Sleep(10 * time.Millisecond)
	require.NotNil(t, got)
	assert.Len(t, got.Objects, 1)
	assert.Equal(t, []uint64{1}, q.acked)
}

func TestIterate_StopsOnContextCancel(t *testing.T) {
	q := newFakeQueue()
	c := New(Config{BatchSize: 10, Interval: time.Hour}, decode.Func(plainDecode))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Iterate(ctx, q, func(ctx context.Context, b *batch.Batch) error { return nil })
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Iterate to return")
	}
}
