// Package mysql is an alternate store.Store implementation, backed by
// gorm.io/driver/mysql (go-sql-driver/mysql). Its Classify function
// inspects *mysql.MySQLError by code: the 08xxx/driver connection-refused
// family and the CR_* client-side codes below 2000 are transport failures;
// documented data-integrity codes (1062 duplicate key, 1048 column cannot
// be null, 1406 data too long, 1264 out of range) are data failures.
package mysql

import (
	"context"
	stderrors "errors"
	"strconv"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/cyberstudio/batchmq/internal/store"
	"github.com/cyberstudio/batchmq/internal/store/gormstore"
	"github.com/cyberstudio/batchmq/pkg/errors"
)

// Config configures the connection to a MySQL database.
type Config struct {
	Host, Port, User, Password, Name string

	// StatementTimeoutMs bounds a statement round trip via the driver's
	// readTimeout/writeTimeout DSN params. max_execution_time is not used
	// here: it only throttles SELECT, not the INSERT this store issues.
	StatementTimeoutMs int
	// EchoPool turns on gorm's SQL/pool diagnostic logging.
	EchoPool bool
}

// Adapter implements store.Store for MySQL.
type Adapter struct {
	cfg  Config
	base gormstore.Base
}

// New creates a MySQL adapter. Connect must be called before use.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Connect(ctx context.Context) error {
	dsn := a.cfg.User + ":" + a.cfg.Password + "@tcp(" + a.cfg.Host + ":" + a.cfg.Port + ")/" +
		a.cfg.Name + "?charset=utf8mb4&parseTime=True&loc=Local"

	if a.cfg.StatementTimeoutMs > 0 {
		timeout := strconv.Itoa(a.cfg.StatementTimeoutMs) + "ms"
		dsn += "&readTimeout=" + timeout + "&writeTimeout=" + timeout
	}

	db, err := gorm.Open(mysql.Open(dsn), gormstore.GormConfig(a.cfg.EchoPool))
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

// dataErrorCodes are MySQL server error numbers that describe a problem
// with the submitted values, not the connection.
var dataErrorCodes = map[uint16]bool{
	1062: true, // ER_DUP_ENTRY
	1048: true, // ER_BAD_NULL_ERROR
	1406: true, // ER_DATA_TOO_LONG
	1264: true, // ER_WARN_DATA_OUT_OF_RANGE
	1366: true, // ER_TRUNCATED_WRONG_VALUE
	1452: true, // ER_NO_REFERENCED_ROW_2 (FK violation)
}

func classify(err error) error {
	if gormstore.IsTransportFailure(err) {
		return &store.TransportError{Cause: err}
	}

	var mysqlErr *mysqldriver.MySQLError
	if stderrors.As(err, &mysqlErr) {
		if dataErrorCodes[mysqlErr.Number] {
			return &store.DataError{Cause: err}
		}
		// Connection-refused, too-many-connections, and every other
		// server-side code not recognized as a data problem is treated as
		// transport so it retries rather than silently dropping rows.
		return &store.TransportError{Cause: err}
	}

	return &store.DataError{Cause: errors.Wrap(err, "mysql: unclassified error")}
}
