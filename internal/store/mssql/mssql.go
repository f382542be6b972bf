// Package mssql is an alternate store.Store implementation, backed by
// gorm.io/driver/sqlserver (microsoft/go-mssqldb). Its Classify function
// inspects mssql.Error by SQL Server error number: class 20 login/network
// failures are transport; integrity violations (2627 unique constraint,
// 547 FK/check constraint, 8152 string truncation, 245 conversion failure)
// are data failures.
package mssql

import (
	"context"
	stderrors "errors"
	"time"

	mssqldriver "github.com/microsoft/go-mssqldb"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"

	"github.com/cyberstudio/batchmq/internal/store"
	"github.com/cyberstudio/batchmq/internal/store/gormstore"
	"github.com/cyberstudio/batchmq/pkg/errors"
)

// Config configures the connection to a SQL Server database.
type Config struct {
	Host, Port, User, Password, Name string
	Encrypt                          bool

	// StatementTimeoutMs bounds every statement. go-mssqldb has no
	// per-statement DSN option, so this is enforced via a context deadline
	// applied around each call instead of a connection-string parameter.
	StatementTimeoutMs int
	// EchoPool turns on gorm's SQL/pool diagnostic logging.
	EchoPool bool
}

// Adapter implements store.Store for SQL Server.
type Adapter struct {
	cfg  Config
	base gormstore.Base
}

// New creates a SQL Server adapter. Connect must be called before use.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Connect(ctx context.Context) error {
	encrypt := "disable"
	if a.cfg.Encrypt {
		encrypt = "true"
	}
	dsn := "sqlserver://" + a.cfg.User + ":" + a.cfg.Password + "@" + a.cfg.Host + ":" + a.cfg.Port +
		"?database=" + a.cfg.Name + "&encrypt=" + encrypt

	db, err := gorm.Open(sqlserver.Open(dsn), gormstore.GormConfig(a.cfg.EchoPool))
	if err != nil {
		return &store.TransportError{Cause: err}
	}

	timeout := time.Duration(a.cfg.StatementTimeoutMs) * time.Millisecond
	a.base = gormstore.NewBase(db, classify, timeout)
	return nil
}

func (a *Adapter) Descriptor(ctx context.Context, table string) (store.TableDescriptor, error) {
	return a.base.Descriptor(ctx, table)
}

func (a *Adapter) BulkInsert(ctx context.Context, table string, rows []map[string]any) error {
	return a.base.BulkInsert(ctx, table, rows)
}

func (a *Adapter) Close() error { return a.base.Close() }

var dataErrorNumbers = map[int32]bool{
	2627:  true, // unique constraint violation
	547:   true, // FK/check constraint violation
	8152:  true, // string or binary data would be truncated
	245:   true, // conversion failed
	2601:  true, // duplicate key on unique index
	515:   true, // cannot insert NULL into non-nullable column
}

func classify(err error) error {
	if gormstore.IsTransportFailure(err) {
		return &store.TransportError{Cause: err}
	}

	var sqlErr mssqldriver.Error
	if stderrors.As(err, &sqlErr) {
		if dataErrorNumbers[sqlErr.Number] {
			return &store.DataError{Cause: err}
		}
		return &store.TransportError{Cause: err}
	}

	return &store.DataError{Cause: errors.Wrap(err, "mssql: unclassified error")}
}
