package inserter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberstudio/batchmq/internal/batch"
	"github.com/cyberstudio/batchmq/internal/store"
)

type fakeStore struct {
	// poison marks row values (the "x" field) that always fail as a data error.
	poison map[int]bool
	// transportFailuresBeforeSuccess makes the first N calls fail transport.
	transportFailuresBeforeSuccess int
	calls                          int
	inserted                       [][]map[string]any

	// columns, when non-nil, is returned from Descriptor to exercise
	// column filtering; descriptorCalls counts how many times the store
	// was actually asked, to verify the engine's cache.
	columns         map[string]struct{}
	descriptorCalls int
}

func (s *fakeStore) Connect(ctx context.Context) error { return nil }
func (s *fakeStore) Descriptor(ctx context.Context, table string) (store.TableDescriptor, error) {
	s.descriptorCalls++
	return store.TableDescriptor{Table: table, Columns: s.columns}, nil
}
func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) BulkInsert(ctx context.Context, table string, rows []map[string]any) error {
	s.calls++
	if s.transportFailuresBeforeSuccess > 0 {
		s.transportFailuresBeforeSuccess--
		return &store.TransportError{Cause: errors.New("connection reset")}
	}
	for _, r := range rows {
		if x, ok := r["x"].(int); ok && s.poison[x] {
			return &store.DataError{Cause: errors.New("constraint violation")}
		}
	}
	s.inserted = append(s.inserted, rows)
	return nil
}

func TestBulkCreate_HappyPath(t *testing.T) {
	st := &fakeStore{}
	e := New(Config{RetryInterval: time.Millisecond}, st)

	b := &batch.Batch{TableName: "things", Objects: []batch.Row{{"x": 1}, {"x": 2}}}
	out, err := e.BulkCreate(context.Background(), b)
	require.NoError(t, err)
	assert.Empty(t, out.ErrorObjects)
	assert.Equal(t, 1, st.calls)
}

func TestBulkCreate_IsolatesPoisonRowByBisection(t *testing.T) {
	st := &fakeStore{poison: map[int]bool{3: true}}
	e := New(Config{RetryInterval: time.Millisecond}, st)

	b := &batch.Batch{TableName: "things", Objects: []batch.Row{{"x": 1}, {"x": 2}, {"x": 3}, {"x": 4}}}
	out, err := e.BulkCreate(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, out.ErrorObjects, 1)
	assert.Equal(t, batch.Row{"x": 3}, out.ErrorObjects[0])

	var totalInserted int
	for _, rows := range st.inserted {
		totalInserted += len(rows)
	}
	assert.Equal(t, 3, totalInserted)
}

func TestBulkCreate_BisectionPreservesFirstHalfBeforeSecondHalfOrder(t *testing.T) {
	// Poisoning x:3 forces one bisection of the 4-row batch into two
	// 2-row shards; only the second shard (x:3, x:4) contains the poison
	// and gets bisected further. Every successful BulkInsert call must
	// therefore see rows in their original relative order: {1,2} before
	// {3} and {4} individually.
	st := &fakeStore{poison: map[int]bool{3: true}}
	e := New(Config{RetryInterval: time.Millisecond}, st)

	b := &batch.Batch{TableName: "things", Objects: []batch.Row{{"x": 1}, {"x": 2}, {"x": 3}, {"x": 4}}}
	out, err := e.BulkCreate(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, out.ErrorObjects, 1)
	assert.Equal(t, batch.Row{"x": 3}, out.ErrorObjects[0])

	require.Len(t, st.inserted, 2)
	assert.Equal(t, []map[string]any{{"x": 1}, {"x": 2}}, st.inserted[0])
	assert.Equal(t, []map[string]any{{"x": 4}}, st.inserted[1])
}

func TestBulkCreate_RetriesTransportFailureForever(t *testing.T) {
	st := &fakeStore{transportFailuresBeforeSuccess: 3}
	e := New(Config{RetryInterval: time.Millisecond}, st)

	b := &batch.Batch{TableName: "things", Objects: []batch.Row{{"x": 1}}}
	out, err := e.BulkCreate(context.Background(), b)
	require.NoError(t, err)
	assert.Empty(t, out.ErrorObjects)
	assert.Equal(t, 4, st.calls)
}

func TestBulkCreate_FiltersUnknownColumnsUsingCachedDescriptor(t *testing.T) {
	st := &fakeStore{columns: map[string]struct{}{"x": {}}}
	e := New(Config{RetryInterval: time.Millisecond}, st)

	b1 := &batch.Batch{TableName: "things", Objects: []batch.Row{{"x": 1, "ghost": "drop me"}}}
	_, err := e.BulkCreate(context.Background(), b1)
	require.NoError(t, err)

	b2 := &batch.Batch{TableName: "things", Objects: []batch.Row{{"x": 2, "ghost": "drop me too"}}}
	_, err = e.BulkCreate(context.Background(), b2)
	require.NoError(t, err)

	require.Len(t, st.inserted, 2)
	for _, rows := range st.inserted {
		for _, r := range rows {
			_, hasGhost := r["ghost"]
			assert.False(t, hasGhost)
		}
	}
	assert.Equal(t, 1, st.descriptorCalls, "descriptor should be fetched once and cached thereafter")
}

func TestBulkCreate_StopsOnContextCancelDuringTransportRetry(t *testing.T) {
	st := &fakeStore{transportFailuresBeforeSuccess: 1000}
	e := New(Config{RetryInterval: 5 * time.Millisecond}, st)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	b := &batch.Batch{TableName: "things", Objects: []batch.Row{{"x": 1}}}
	_, err := e.BulkCreate(ctx, b)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
