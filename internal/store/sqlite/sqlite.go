// Package sqlite is an alternate store.Store implementation, backed by
// gorm.io/driver/sqlite (mattn/go-sqlite3). SQLite has no network layer, so
// almost every failure it reports is a data failure (constraint violation,
// type mismatch); the exception is SQLITE_BUSY/SQLITE_LOCKED contention,
// which is transient and classified as transport so it retries instead of
// bisecting a batch that was never actually bad.
package sqlite

import (
	"context"
	stderrors "errors"
	"strconv"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cyberstudio/batchmq/internal/store"
	"github.com/cyberstudio/batchmq/internal/store/gormstore"
	"github.com/cyberstudio/batchmq/pkg/errors"
)

// Config configures the connection to a SQLite database file.
type Config struct {
	Path string

	// StatementTimeoutMs bounds how long a statement waits on a busy/locked
	// database via mattn/go-sqlite3's _busy_timeout DSN param.
	StatementTimeoutMs int
	// EchoPool turns on gorm's SQL diagnostic logging.
	EchoPool bool
}

// Adapter implements store.Store for SQLite.
type Adapter struct {
	cfg  Config
	base gormstore.Base
}

// New creates a SQLite adapter. Connect must be called before use.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Connect(ctx context.Context) error {
	path := a.cfg.Path
	if path == "" {
		path = "batchmq.db"
	}
	if a.cfg.StatementTimeoutMs > 0 {
		path += "?_busy_timeout=" + strconv.Itoa(a.cfg.StatementTimeoutMs)
	}

	db, err := gorm.Open(sqlite.Open(path), gormstore.GormConfig(a.cfg.EchoPool))
	if err != nil {
		return &store.TransportError{Cause: err}
	}

	a.base = gormstore.NewBase(db, classify, 0)
	return nil
}

func (a *Adapter) Descriptor(ctx context.Context, table string) (store.TableDescriptor, error) {
	return a.base.Descriptor(ctx, table)
}

func (a *Adapter) BulkInsert(ctx context.Context, table string, rows []map[string]any) error {
	return a.base.BulkInsert(ctx, table, rows)
}

func (a *Adapter) Close() error { return a.base.Close() }

func classify(err error) error {
	if gormstore.IsTransportFailure(err) {
		return &store.TransportError{Cause: err}
	}

	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return &store.TransportError{Cause: err}
		default:
			return &store.DataError{Cause: err}
		}
	}

	return &store.DataError{Cause: errors.Wrap(err, "sqlite: unclassified error")}
}
