// Package avro decodes broker bodies that are single-record Avro
// object-container files (OCF): the schema travels with the body, which is
// a more literal reading of "self-describing" than a bare JSON object.
package avro

import (
	"bytes"
	"errors"
	"io"

	"github.com/cyberstudio/batchmq/internal/batch"
	hambaavro "github.com/hamba/avro/v2/ocf"
)

// Decoder decodes one Avro OCF-encoded body, taking its first (and expected
// only) record as the row.
type Decoder struct{}

// New creates an Avro OCF decoder.
func New() *Decoder { return &Decoder{} }

// Decode implements decode.Decoder.
func (d *Decoder) Decode(body []byte) (batch.Row, error) {
	dec, err := hambaavro.NewDecoder(bytes.NewReader(body))
	if err != nil {
		if isDecodeError(err) {
			return nil, err
		}
		panic(err)
	}

	if !dec.HasNext() {
		return nil, errors.New("avro: container has no records")
	}

	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		if isDecodeError(err) {
			return nil, err
		}
		panic(err)
	}

	return batch.Row(row), nil
}

// isDecodeError reports whether err is a malformed/truncated-container
// condition, as opposed to a programmer error.
func isDecodeError(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF || errors.Is(err, io.ErrUnexpectedEOF)
}
