// Package postgres is the primary store.Store implementation, backed by
// gorm.io/driver/postgres (pgx). Its Classify function inspects
// *pgconn.PgError: class 08 (connection exception) and the broken-pipe /
// reset conditions pgx surfaces as plain network errors are transport
// failures; anything else with an SQLSTATE (23xxx integrity violations,
// 22xxx data exceptions, 42xxx syntax/undefined-column) is a data failure.
package postgres

import (
	"context"
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/cyberstudio/batchmq/internal/store"
	"github.com/cyberstudio/batchmq/internal/store/gormstore"
	"github.com/cyberstudio/batchmq/pkg/errors"
)

// Config configures the connection to a Postgres database.
type Config struct {
	Host, Port, User, Password, Name, SSLMode string
	MaxOpenConns, MaxIdleConns                int

	// StatementTimeoutMs bounds every statement at the server via pgx's
	// passthrough of unrecognized DSN key=value pairs as Postgres runtime
	// parameters (mirrors the source system's server_settings.statement_timeout).
	StatementTimeoutMs int
	// EchoPool turns on gorm's SQL/pool diagnostic logging.
	EchoPool bool
}

// Adapter implements store.Store for Postgres.
type Adapter struct {
	cfg  Config
	base gormstore.Base
}

// New creates a Postgres adapter. Connect must be called before use.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Connect(ctx context.Context) error {
	dsn := "host=" + a.cfg.Host +
		" user=" + a.cfg.User +
		" password=" + a.cfg.Password +
		" dbname=" + a.cfg.Name +
		" port=" + a.cfg.Port +
		" sslmode=" + a.cfg.SSLMode

	if a.cfg.StatementTimeoutMs > 0 {
		dsn += " statement_timeout=" + strconv.Itoa(a.cfg.StatementTimeoutMs)
	}

	db, err := gorm.Open(postgres.Open(dsn), gormstore.GormConfig(a.cfg.EchoPool))
	if err != nil {
		return &store.TransportError{Cause: err}
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(a.cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(a.cfg.MaxIdleConns)
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

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") {
			return &store.TransportError{Cause: err}
		}
		return &store.DataError{Cause: err}
	}

	// Unrecognized error shape from the driver; treat conservatively as a
	// data error so it does not retry forever against a poisoned batch.
	return &store.DataError{Cause: errors.Wrap(err, "postgres: unclassified error")}
}
