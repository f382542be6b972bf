// Package store defines the contract the bulk insert engine depends on: a
// relational sink that can describe a table's columns (to drop unknown
// fields before insert) and bulk-insert a slice of rows, classifying any
// failure as either a transport problem (retry forever) or a data problem
// (bisect to isolate the offending rows).
package store

import (
	"context"
	"fmt"
)

// TableDescriptor is what the engine needs to know about a table before
// inserting into it: the set of column names it may write to.
type TableDescriptor struct {
	Table   string
	Columns map[string]struct{}
}

// HasColumn reports whether name is a real column on the table.
func (d TableDescriptor) HasColumn(name string) bool {
	_, ok := d.Columns[name]
	return ok
}

// Store is a relational sink capable of bulk-inserting decoded batch rows.
type Store interface {
	// Connect establishes the database connection. Idempotent per instance.
	Connect(ctx context.Context) error

	// Descriptor reflects the live schema for table.
	Descriptor(ctx context.Context, table string) (TableDescriptor, error)

	// BulkInsert inserts rows into table in a single statement/transaction.
	// On failure it returns either a *TransportError (the connection or
	// network failed; the data itself was never judged) or a *DataError
	// (the database rejected the data itself, e.g. a constraint violation
	// or type mismatch).
	BulkInsert(ctx context.Context, table string, rows []map[string]any) error

	// Close releases the underlying connection.
	Close() error
}

// TransportError wraps a failure to reach or execute against the database
// at all: network errors, connection resets, broken pipes. The bulk insert
// engine retries these indefinitely at a fixed interval.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("store: transport error: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// DataError wraps a failure the database attributes to the data itself:
// constraint violations, type mismatches, value overflows. The bulk insert
// engine bisects the batch to isolate which row(s) caused it.
type DataError struct {
	Cause error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("store: data error: %v", e.Cause)
}

func (e *DataError) Unwrap() error { return e.Cause }
