// Package batch implements the pure, I/O-free batch model at the center of
// the bridge: building a table-scoped batch of decoded rows out of raw
// broker messages, splitting it for retry, and normalizing row values before
// insertion. Nothing in this package blocks or touches the network.
package batch

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Row is one decoded message body: a flat mapping from column name to a
// dynamic value (nil, int64, float64, string, bool, time.Time, or a
// driver-specific passthrough value — any Go value stored under `any`
// satisfies the "escape hatch" the value model needs).
type Row map[string]any

// Message is the minimal view of a broker delivery the batch model needs.
// Adapters under internal/broker satisfy this with their native delivery
// type; the batch model never sees acknowledgement handles.
type Message interface {
	RoutingKey() string
	Body() []byte
}

// Decoder turns one raw message body into a decoded Row. Decode failures of
// any kind are reported via the returned error and never panic; the message
// body is preserved in Batch.ErrorBodies by the caller.
type Decoder func(body []byte) (Row, error)

// Batch is the core value type: a table-scoped group of decoded rows plus
// the two side lists of failures recorded alongside them.
type Batch struct {
	TableName    string
	Objects      []Row
	ErrorBodies  [][]byte
	ErrorObjects []Row
}

// FromMessages builds a Batch from a non-empty sequence of messages that
// share a routing key. It returns (nil, false) if messages is empty or the
// first message carries no routing key. The table name is the last
// dot-separated segment of the first message's routing key. Each body is
// decoded independently with decode; failures are collected into
// ErrorBodies rather than aborting the batch — no decode-error class is
// privileged over another. Decode order is preserved independently in
// Objects and ErrorBodies.
func FromMessages(messages []Message, decode Decoder) (*Batch, bool) {
	if len(messages) == 0 {
		return nil, false
	}
	key := messages[0].RoutingKey()
	if key == "" {
		return nil, false
	}

	b := &Batch{TableName: lastSegment(key)}
	for _, m := range messages {
		row, err := decode(m.Body())
		if err != nil {
			b.ErrorBodies = append(b.ErrorBodies, m.Body())
			continue
		}
		b.Objects = append(b.Objects, row)
	}
	return b, true
}

func lastSegment(routingKey string) string {
	idx := strings.LastIndexByte(routingKey, '.')
	if idx < 0 {
		return routingKey
	}
	return routingKey[idx+1:]
}

// Shatter splits Objects into exactly n contiguous, equal-ceiling-sized
// shards: shard k holds indices [k*s, (k+1)*s) where s = ceil(len/n). Shards
// beyond the one that exhausts Objects are empty. Shards carry the parent's
// TableName but empty error sequences — the parent alone keeps its errors.
// n <= 0 is rejected explicitly rather than left undefined.
func (b Batch) Shatter(n int) ([]Batch, error) {
	if n <= 0 {
		return nil, fmt.Errorf("batch: shatter requires n > 0, got %d", n)
	}

	total := len(b.Objects)
	shardSize := int(math.Ceil(float64(total) / float64(n)))
	shards := make([]Batch, n)
	for k := 0; k < n; k++ {
		start := k * shardSize
		end := start + shardSize
		if start > total {
			start = total
		}
		if end > total {
			end = total
		}
		shards[k] = Batch{
			TableName: b.TableName,
			Objects:   append([]Row(nil), b.Objects[start:end]...),
		}
	}
	return shards, nil
}

// Prepared returns a new Batch with the same TableName and error sequences,
// and Objects rebuilt row by row: null-valued fields are dropped (letting
// the database apply its defaults), any time.Time value passes through
// unchanged (normalization to calendar time happens at decode time — see
// internal/decode), and a created_at key present in the source row is kept
// when truthy or replaced with now() when falsy/absent-but-present.
func (b Batch) Prepared(now func() time.Time) Batch {
	if now == nil {
		now = time.Now
	}

	out := Batch{
		TableName:    b.TableName,
		ErrorBodies:  b.ErrorBodies,
		ErrorObjects: b.ErrorObjects,
	}
	for _, src := range b.Objects {
		dst := make(Row, len(src))
		for k, v := range src {
			if v == nil {
				continue
			}
			dst[k] = v
		}
		if v, ok := src["created_at"]; ok {
			if isFalsy(v) {
				dst["created_at"] = now()
			} else {
				dst["created_at"] = v
			}
		}
		out.Objects = append(out.Objects, dst)
	}
	return out
}

// isFalsy mirrors the source system's notion of a "truthy" field value:
// nil, zero time, empty string, false and numeric zero are all falsy (the
// same set Python's `value or datetime.now()` treats as falsy).
func isFalsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case time.Time:
		return t.IsZero()
	case string:
		return t == ""
	case bool:
		return !t
	case int:
		return t == 0
	case int32:
		return t == 0
	case int64:
		return t == 0
	case float32:
		return t == 0
	case float64:
		return t == 0
	default:
		return false
	}
}

func (b Batch) String() string {
	return fmt.Sprintf("Batch(table=%s, objects=%d, error_bodies=%d, error_objects=%d)",
		b.TableName, len(b.Objects), len(b.ErrorBodies), len(b.ErrorObjects))
}
