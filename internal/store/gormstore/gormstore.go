// Package gormstore is the shared gorm.io/gorm-backed implementation of
// store.Store. Each concrete driver (postgres, mysql, sqlite, mssql) opens
// its own *gorm.DB with a driver-specific DSN and supplies a Classify
// function that turns the driver's native error type into a
// *store.TransportError or *store.DataError; everything else (connecting,
// reflecting columns, issuing the bulk insert) is identical across drivers
// and lives here once.
package gormstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cyberstudio/batchmq/internal/store"
	apperrors "github.com/cyberstudio/batchmq/pkg/errors"
)

// GormConfig builds the *gorm.Config every driver opens its connection
// with. echoPool mirrors the source system's db.echo_pool diagnostics
// flag: when set, gorm logs every statement (and its duration) at Info
// level instead of staying silent.
func GormConfig(echoPool bool) *gorm.Config {
	level := logger.Silent
	if echoPool {
		level = logger.Info
	}
	return &gorm.Config{Logger: logger.Default.LogMode(level)}
}

// IsTransportFailure reports whether err is a connection/network-level
// failure common to every database/sql driver, independent of the specific
// wire protocol in use. Driver classifiers call this first and fall back to
// their own error-code inspection only when it returns false.
func IsTransportFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Classify turns a raw error returned by a gorm operation into a
// *store.TransportError or *store.DataError. It must not return nil for a
// non-nil err.
type Classify func(err error) error

// Base is embedded by each driver's Adapter; it is not used directly.
type Base struct {
	DB       *gorm.DB
	classify Classify

	// statementTimeout bounds every statement Base issues, on top of
	// whatever native DSN-level timeout (if any) the driver's own Connect
	// already configured. It is the only mechanism available for drivers
	// with no such DSN option (go-mssqldb has none).
	statementTimeout time.Duration
}

// NewBase wraps an already-opened *gorm.DB with a driver's classifier.
// statementTimeout, when non-zero, bounds every statement issued through
// Base via the context passed to gorm.
func NewBase(db *gorm.DB, classify Classify, statementTimeout time.Duration) Base {
	return Base{DB: db, classify: classify, statementTimeout: statementTimeout}
}

func (b Base) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.statementTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.statementTimeout)
}

func (b Base) Descriptor(ctx context.Context, table string) (store.TableDescriptor, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	columnTypes, err := b.DB.WithContext(ctx).Migrator().ColumnTypes(table)
	if err != nil {
		return store.TableDescriptor{}, b.classify(err)
	}

	cols := make(map[string]struct{}, len(columnTypes))
	for _, c := range columnTypes {
		cols[c.Name()] = struct{}{}
	}
	return store.TableDescriptor{Table: table, Columns: cols}, nil
}

func (b Base) BulkInsert(ctx context.Context, table string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	// gorm's map-create path accepts []map[string]any directly and issues
	// one multi-row INSERT. Row key sets need not match: gorm unions the
	// keys across all rows into the column list, and a row missing one of
	// those keys gets NULL for that column. batch.Batch.Prepared drops null
	// fields per row, so a column's own default applies only when no row
	// in the call carries that key.
	result := b.DB.WithContext(ctx).Table(table).Create(rows)
	if result.Error != nil {
		return b.classify(result.Error)
	}
	return nil
}

func (b Base) Close() error {
	sqlDB, err := b.DB.DB()
	if err != nil {
		return apperrors.Wrap(err, "gormstore: failed to get underlying sql.DB")
	}
	if err := sqlDB.Close(); err != nil {
		return apperrors.Wrap(err, "gormstore: close failed")
	}
	return nil
}
