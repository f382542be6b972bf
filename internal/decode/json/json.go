// Package json decodes broker bodies that are JSON objects into batch.Row
// values, normalizing numbers and RFC 3339 timestamp-looking strings the way
// the database-facing side of the bridge expects.
package json

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/cyberstudio/batchmq/internal/batch"
)

// Decoder decodes JSON-object message bodies into batch.Row.
type Decoder struct {
	// TimeFields lists keys whose string values should be parsed as RFC3339
	// timestamps and normalized to time.Time. Columns holding timestamps in
	// the originating system (e.g. created_at) belong here.
	TimeFields map[string]bool
}

// New creates a JSON decoder that treats the given keys as timestamp fields.
func New(timeFields ...string) *Decoder {
	set := make(map[string]bool, len(timeFields))
	for _, f := range timeFields {
		set[f] = true
	}
	return &Decoder{TimeFields: set}
}

// Decode implements decode.Decoder. Only the narrow set of errors
// encoding/json documents for Unmarshal are treated as decode failures;
// anything else propagates.
func (d *Decoder) Decode(body []byte) (batch.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		if isDecodeError(err) {
			return nil, err
		}
		// Not one of the documented decode failure modes; let it propagate
		// instead of silently folding it into errors_bodies.
		panic(err)
	}

	row := make(batch.Row, len(raw))
	for k, v := range raw {
		row[k] = d.normalize(k, v)
	}
	return row, nil
}

func (d *Decoder) normalize(key string, v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case string:
		if d.TimeFields[key] {
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				return t
			}
		}
		return val
	default:
		return val
	}
}

// isDecodeError reports whether err is one of the documented failure modes
// of a malformed or truncated JSON body, as opposed to a programmer error.
func isDecodeError(err error) bool {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return true
	}
	switch err.(type) {
	case *json.SyntaxError, *json.UnmarshalTypeError, *json.InvalidUnmarshalError:
		return true
	default:
		return false
	}
}
