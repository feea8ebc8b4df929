package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper guards an sqlx handle. sql.ErrNoRows is an answer, not a
// fault.
type DatabaseWrapper struct {
	db *sqlx.DB
	cb *CircuitBreaker
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker. name
// identifies the backend in logs and metrics (e.g. "postgresql", "sqlite").
func NewDatabaseWrapper(db *sqlx.DB, name string, logger *zap.Logger) *DatabaseWrapper {
	cfg := ConfigFor(ServiceDatabase)
	cfg.Neutral = func(err error) bool { return errors.Is(err, sql.ErrNoRows) }
	return &DatabaseWrapper{
		db: db,
		cb: New(name, ServiceDatabase, cfg, logger),
	}
}

func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.cb.Execute(ctx, func() error { return dw.db.PingContext(ctx) })
}

func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return Call(ctx, dw.cb, func() (sql.Result, error) { return dw.db.ExecContext(ctx, query, args...) })
}

func (dw *DatabaseWrapper) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	return Call(ctx, dw.cb, func() (sql.Result, error) { return dw.db.NamedExecContext(ctx, query, arg) })
}

func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.cb.Execute(ctx, func() error { return dw.db.GetContext(ctx, dest, query, args...) })
}

func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.cb.Execute(ctx, func() error { return dw.db.SelectContext(ctx, dest, query, args...) })
}

// Close closes the underlying handle
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// DB returns the raw handle for schema work and transactions.
func (dw *DatabaseWrapper) DB() *sqlx.DB {
	return dw.db
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
