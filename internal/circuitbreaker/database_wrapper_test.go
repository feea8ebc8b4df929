package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"
)

func newMockWrapper(t *testing.T, monitorPings bool) (*DatabaseWrapper, sqlmock.Sqlmock) {
	t.Helper()
	rawDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(monitorPings))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { rawDB.Close() })

	db := sqlx.NewDb(rawDB, "sqlmock")
	return NewDatabaseWrapper(db, "test-db", zaptest.NewLogger(t)), mock
}

func TestDatabaseWrapper_NormalOperations(t *testing.T) {
	wrapper, mock := newMockWrapper(t, true)
	ctx := context.Background()

	mock.ExpectPing()
	if err := wrapper.PingContext(ctx); err != nil {
		t.Errorf("PingContext failed: %v", err)
	}

	mock.ExpectExec("INSERT INTO turns").
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	result, err := wrapper.ExecContext(ctx, "INSERT INTO turns (session_id) VALUES (?)", "s1")
	if err != nil {
		t.Fatalf("ExecContext failed: %v", err)
	}
	if affected, _ := result.RowsAffected(); affected != 1 {
		t.Errorf("Expected 1 affected row, got %d", affected)
	}

	mock.ExpectExec("INSERT INTO turns").
		WithArgs("s2", "CALL_ANALYZE").
		WillReturnResult(sqlmock.NewResult(2, 1))
	_, err = wrapper.NamedExecContext(ctx,
		"INSERT INTO turns (session_id, action) VALUES (:session_id, :action)",
		map[string]interface{}{"session_id": "s2", "action": "CALL_ANALYZE"})
	if err != nil {
		t.Errorf("NamedExecContext failed: %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM turns").
		WillReturnRows(sqlmock.NewRows([]string{"action"}).AddRow("CALL_GUIDE").AddRow("PROCESS_OUTPUT"))
	var actions []string
	if err := wrapper.SelectContext(ctx, &actions, "SELECT action FROM turns"); err != nil {
		t.Errorf("SelectContext failed: %v", err)
	}
	if len(actions) != 2 {
		t.Errorf("Expected 2 rows, got %d", len(actions))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestDatabaseWrapper_NoRowsIsNotAFailure(t *testing.T) {
	wrapper, mock := newMockWrapper(t, false)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		mock.ExpectQuery("SELECT (.+) FROM turns").WillReturnRows(sqlmock.NewRows([]string{"action"}))
		var action string
		err := wrapper.GetContext(ctx, &action, "SELECT action FROM turns WHERE id = ?", i)
		if !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("Expected sql.ErrNoRows, got %v", err)
		}
	}
	if wrapper.IsCircuitBreakerOpen() {
		t.Error("sql.ErrNoRows must not open the breaker")
	}
}

func TestDatabaseWrapper_OpensOnFailures(t *testing.T) {
	wrapper, mock := newMockWrapper(t, false)
	ctx := context.Background()

	threshold := int(ConfigFor(ServiceDatabase).FailureThreshold)
	for i := 0; i < threshold; i++ {
		mock.ExpectExec("INSERT INTO turns").WillReturnError(errors.New("connection reset"))
		if _, err := wrapper.ExecContext(ctx, "INSERT INTO turns (session_id) VALUES (?)", "s1"); err == nil {
			t.Fatal("Expected exec error")
		}
	}
	if !wrapper.IsCircuitBreakerOpen() {
		t.Fatal("Expected breaker to open after repeated failures")
	}

	_, err := wrapper.ExecContext(ctx, "INSERT INTO turns (session_id) VALUES (?)", "s1")
	if err != ErrCircuitBreakerOpen {
		t.Errorf("Expected fast failure while open, got %v", err)
	}
}
