// Package inserter implements the bulk insert engine: it bulk-inserts a
// batch.Batch into a store.Store, retrying transport failures forever at a
// fixed interval and bisecting the batch on data failures until the rows
// responsible for the failure are isolated. Bisection is iterative over an
// explicit work stack rather than recursive, since a pathological batch of
// all-poison rows would otherwise recurse to a stack depth proportional to
// the batch size.
package inserter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cyberstudio/batchmq/internal/batch"
	"github.com/cyberstudio/batchmq/internal/store"
)

// Config controls retry behavior.
type Config struct {
	// RetryInterval is the fixed sleep between transport-failure retries.
	// Unlike pkg/resilience's exponential backoff, this is a plain
	// fixed-interval loop: the bridge would rather hammer a database that
	// is coming back up than miss the moment it does.
	RetryInterval time.Duration
}

// Engine bulk-inserts batches into a single store.Store. It keeps a
// process-lifetime, lazily-populated cache of table descriptors: one
// instance is confined to a single pipeline, so the cache needs no
// cross-instance coordination, only a mutex around the cache map.
type Engine struct {
	cfg   Config
	store store.Store

	mu          sync.Mutex
	descriptors map[string]store.TableDescriptor
}

// New creates a bulk insert engine over st.
func New(cfg Config, st store.Store) *Engine {
	return &Engine{cfg: cfg, store: st, descriptors: make(map[string]store.TableDescriptor)}
}

// BulkCreate inserts b's prepared objects, splitting on data failures until
// every insertable row lands and every row that doesn't is collected onto
// the returned batch's ErrorObjects. It returns an error when ctx is
// canceled or when fetching the table's descriptor fails with anything
// other than a transport error; any rejection of rows by the database is
// reported through ErrorObjects instead.
func (e *Engine) BulkCreate(ctx context.Context, b *batch.Batch) (*batch.Batch, error) {
	prepared := b.Prepared(time.Now)
	if len(prepared.Objects) == 0 {
		return &prepared, nil
	}

	desc, err := e.descriptorFor(ctx, prepared.TableName)
	if err != nil {
		return nil, err
	}
	prepared.Objects = filterToColumns(desc, prepared.Objects)

	work := []batch.Batch{prepared}
	var errorObjects []batch.Row

	for len(work) > 0 {
		last := len(work) - 1
		cur := work[last]
		work = work[:last]

		if len(cur.Objects) == 0 {
			continue
		}

		err := e.insertWithRetry(ctx, cur.TableName, cur.Objects)
		if err == nil {
			continue
		}

		var dataErr *store.DataError
		if !errors.As(err, &dataErr) {
			// Only ctx cancellation reaches here; transport failures are
			// retried inside insertWithRetry and never returned.
			return nil, err
		}

		if len(cur.Objects) == 1 {
			errorObjects = append(errorObjects, cur.Objects[0])
			continue
		}

		shards, shatterErr := cur.Shatter(2)
		if shatterErr != nil {
			// Unreachable given the len(cur.Objects) >= 2 guard above, but
			// fail closed rather than lose rows silently.
			errorObjects = append(errorObjects, cur.Objects...)
			continue
		}
		// work is a LIFO stack; push second half first so the first half
		// pops (and therefore inserts) before it, preserving broker order
		// across bisection.
		work = append(work, shards[1], shards[0])
	}

	result := prepared
	result.ErrorObjects = errorObjects
	return &result, nil
}

// insertWithRetry inserts rows into table, retrying indefinitely on
// *store.TransportError and returning immediately on *store.DataError or
// context cancellation.
func (e *Engine) insertWithRetry(ctx context.Context, table string, rows []batch.Row) error {
	maps := toMaps(rows)
	for {
		err := e.store.BulkInsert(ctx, table, maps)
		if err == nil {
			return nil
		}

		var transportErr *store.TransportError
		if !errors.As(err, &transportErr) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.RetryInterval):
		}
	}
}

// descriptorFor fetches table's descriptor, building and caching it on
// first use. Like insertWithRetry, it retries transport failures forever
// and surfaces anything else (including a canceled ctx) immediately.
func (e *Engine) descriptorFor(ctx context.Context, table string) (store.TableDescriptor, error) {
	e.mu.Lock()
	d, ok := e.descriptors[table]
	e.mu.Unlock()
	if ok {
		return d, nil
	}

	for {
		d, err := e.store.Descriptor(ctx, table)
		if err == nil {
			e.mu.Lock()
			e.descriptors[table] = d
			e.mu.Unlock()
			return d, nil
		}

		var transportErr *store.TransportError
		if !errors.As(err, &transportErr) {
			return store.TableDescriptor{}, err
		}

		select {
		case <-ctx.Done():
			return store.TableDescriptor{}, ctx.Err()
		case <-time.After(e.cfg.RetryInterval):
		}
	}
}

// filterToColumns drops keys that aren't real columns on the target table,
// so a decoded payload carrying extra fields doesn't reach the database as
// an unknown-column error. A descriptor with no columns reflected (not yet
// supported by a given store, or a table the store couldn't describe) skips
// filtering rather than stripping every field.
func filterToColumns(desc store.TableDescriptor, rows []batch.Row) []batch.Row {
	if len(desc.Columns) == 0 {
		return rows
	}

	out := make([]batch.Row, len(rows))
	for i, r := range rows {
		filtered := make(batch.Row, len(r))
		for k, v := range r {
			if desc.HasColumn(k) {
				filtered[k] = v
			}
		}
		out[i] = filtered
	}
	return out
}

func toMaps(rows []batch.Row) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any(r)
	}
	return out
}
