// Package decode defines the pluggable payload-decoding contract. The broker
// is treated as carrying opaque, self-describing bodies (spec §6); a Decoder
// turns one body into a flat batch.Row. No field schema is enforced here.
package decode

import "github.com/cyberstudio/batchmq/internal/batch"

// Decoder decodes one message body into a flat row. Implementations must
// return an error — never panic — for malformed input; only a narrow, named
// set of errors should be caught internally (see each implementation), so
// programmer errors like out-of-memory keep propagating instead of silently
// becoming a decode failure.
type Decoder interface {
	Decode(body []byte) (batch.Row, error)
}

// Func adapts a plain function to the Decoder interface.
type Func func(body []byte) (batch.Row, error)

func (f Func) Decode(body []byte) (batch.Row, error) { return f(body) }
