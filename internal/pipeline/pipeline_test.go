package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberstudio/batchmq/internal/batch"
	"github.com/cyberstudio/batchmq/internal/broker"
	"github.com/cyberstudio/batchmq/internal/consumer"
	"github.com/cyberstudio/batchmq/internal/decode"
	"github.com/cyberstudio/batchmq/internal/inserter"
	"github.com/cyberstudio/batchmq/internal/store"
)

type fakeSource struct{ q *fakeQueue }

func (s *fakeSource) Connect(ctx context.Context) error { return nil }
func (s *fakeSource) Open(ctx context.Context, name string, prefetch int) (broker.Queue, error) {
	return s.q, nil
}
func (s *fakeSource) Close() error { return nil }

type fakeQueue struct {
	deliveries chan broker.Delivery
	errs       chan error
}

func (q *fakeQueue) Deliveries() <-chan broker.Delivery { return q.deliveries }
func (q *fakeQueue) Errors() <-chan error                { return q.errs }
func (q *fakeQueue) AckUpTo(ctx context.Context, tag uint64) error { return nil }
func (q *fakeQueue) Close() error { return nil }

type fakeStore struct{}

func (s *fakeStore) Connect(ctx context.Context) error { return nil }
func (s *fakeStore) Descriptor(ctx context.Context, table string) (store.TableDescriptor, error) {
	return store.TableDescriptor{}, nil
}
func (s *fakeStore) BulkInsert(ctx context.Context, table string, rows []map[string]any) error {
	return nil
}
func (s *fakeStore) Close() error { return nil }

func TestPipeline_RunStopsOnConnectionLoss(t *testing.T) {
	q := &fakeQueue{deliveries: make(chan broker.Delivery, 4), errs: make(chan error, 1)}
	q.deliveries <- broker.Delivery{BodyValue: []byte(`{"x":1}`), RoutingKeyValue: "a.b.things", Tag: 1}
	close(q.deliveries)

	src := &fakeSource{q: q}
	jsonDecode := decode.Func(func(body []byte) (batch.Row, error) {
		return batch.Row{"x": 1}, nil
	})

	c := consumer.New(consumer.Config{BatchSize: 10, Interval: time.Hour}, jsonDecode)
	e := inserter.New(inserter.Config{RetryInterval: time.Millisecond}, &fakeStore{})

	p := New(Queue{Name: "things", TableName: "things", BatchSize: 10}, c, e, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := p.Run(context.Background(), src, 10)
	assert.True(t, errors.Is(err, broker.ErrConnectionLost))
}

func TestPipeline_PropagatesOpenError(t *testing.T) {
	wantErr := errors.New("dial failed")
	src := &erroringSource{err: wantErr}
	c := consumer.New(consumer.Config{BatchSize: 1, Interval: time.Hour}, decode.Func(func(b []byte) (batch.Row, error) { return nil, nil }))
	e := inserter.New(inserter.Config{RetryInterval: time.Millisecond}, &fakeStore{})
	p := New(Queue{Name: "q", TableName: "t"}, c, e, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := p.Run(context.Background(), src, 10)
	require.ErrorIs(t, err, wantErr)
}

type erroringSource struct{ err error }

func (s *erroringSource) Connect(ctx context.Context) error { return nil }
func (s *erroringSource) Open(ctx context.Context, name string, prefetch int) (broker.Queue, error) {
	return nil, s.err
}
func (s *erroringSource) Close() error { return nil }
