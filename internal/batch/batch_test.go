package batch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	routingKey string
	body       []byte
}

func (m fakeMessage) RoutingKey() string { return m.routingKey }
func (m fakeMessage) Body() []byte       { return m.body }

func jsonishDecode(body []byte) (Row, error) {
	if string(body) == "bad" {
		return nil, errors.New("decode failed")
	}
	return Row{"x": string(body)}, nil
}

func TestFromMessages_HappyPath(t *testing.T) {
	msgs := []Message{
		fakeMessage{"a.b.things", []byte("1")},
		fakeMessage{"a.b.things", []byte("2")},
		fakeMessage{"a.b.things", []byte("3")},
	}

	b, ok := FromMessages(msgs, jsonishDecode)
	require.True(t, ok)
	assert.Equal(t, "things", b.TableName)
	assert.Len(t, b.Objects, 3)
	assert.Empty(t, b.ErrorBodies)
}

func TestFromMessages_DecodeFailure(t *testing.T) {
	msgs := []Message{
		fakeMessage{"a.b.things", []byte("1")},
		fakeMessage{"a.b.things", []byte("bad")},
		fakeMessage{"a.b.things", []byte("3")},
	}

	b, ok := FromMessages(msgs, jsonishDecode)
	require.True(t, ok)
	assert.Len(t, b.Objects, 2)
	require.Len(t, b.ErrorBodies, 1)
	assert.Equal(t, []byte("bad"), b.ErrorBodies[0])
}

func TestFromMessages_EmptyOrNoRoutingKey(t *testing.T) {
	_, ok := FromMessages(nil, jsonishDecode)
	assert.False(t, ok)

	_, ok = FromMessages([]Message{fakeMessage{"", []byte("1")}}, jsonishDecode)
	assert.False(t, ok)
}

func TestShatter_ConcatenatesAndBalances(t *testing.T) {
	b := Batch{TableName: "t", Objects: []Row{{"x": 1}, {"x": 2}, {"x": 3}, {"x": 4}}}

	for n := 1; n <= 3; n++ {
		shards, err := b.Shatter(n)
		require.NoError(t, err)
		require.Len(t, shards, n)

		var concatenated []Row
		min, max := len(b.Objects), 0
		for _, s := range shards {
			concatenated = append(concatenated, s.Objects...)
			assert.Empty(t, s.ErrorObjects)
			assert.Empty(t, s.ErrorBodies)
			if len(s.Objects) < min {
				min = len(s.Objects)
			}
			if len(s.Objects) > max {
				max = len(s.Objects)
			}
		}
		assert.Equal(t, b.Objects, concatenated)
		assert.LessOrEqual(t, max-min, 1)
	}
}

func TestShatter_RejectsNonPositive(t *testing.T) {
	b := Batch{Objects: []Row{{"x": 1}}}
	_, err := b.Shatter(0)
	assert.Error(t, err)
	_, err = b.Shatter(-2)
	assert.Error(t, err)
}

func TestPrepared_DropsNullsAndFillsCreatedAt(t *testing.T) {
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := Batch{
		TableName: "t",
		Objects: []Row{
			{"x": 1, "y": nil, "created_at": nil},
			{"x": 2, "created_at": time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)},
			{"x": 3},
		},
	}

	out := b.Prepared(func() time.Time { return fixedNow })
	require.Len(t, out.Objects, 3)

	_, hasY := out.Objects[0]["y"]
	assert.False(t, hasY)
	assert.Equal(t, fixedNow, out.Objects[0]["created_at"])

	assert.Equal(t, time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC), out.Objects[1]["created_at"])

	_, hasCreatedAt := out.Objects[2]["created_at"]
	assert.False(t, hasCreatedAt)
}

func TestPrepared_TreatsNumericZeroCreatedAtAsFalsy(t *testing.T) {
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := Batch{
		TableName: "t",
		Objects: []Row{
			{"x": 1, "created_at": int64(0)},
			{"x": 2, "created_at": float64(0)},
			{"x": 3, "created_at": int64(1577836800)},
		},
	}

	out := b.Prepared(func() time.Time { return fixedNow })
	require.Len(t, out.Objects, 3)

	assert.Equal(t, fixedNow, out.Objects[0]["created_at"])
	assert.Equal(t, fixedNow, out.Objects[1]["created_at"])
	assert.Equal(t, int64(1577836800), out.Objects[2]["created_at"])
}
