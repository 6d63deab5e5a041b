package recordstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewPostgres(sqlxDB), mock
}

func TestPostgres_Get_NotFound(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT key, value, version, expires_at").
		WithArgs("order:1").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "version", "expires_at"}))

	_, err := p.Get(context.Background(), "order:1", Strong)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgres_Get_Found(t *testing.T) {
	p, mock := newMockPostgres(t)

	rows := sqlmock.NewRows([]string{"key", "value", "version", "expires_at"}).
		AddRow("order:1", []byte("payload"), int64(3), nil)
	mock.ExpectQuery("SELECT key, value, version, expires_at").
		WithArgs("order:1").
		WillReturnRows(rows)

	rec, err := p.Get(context.Background(), "order:1", Strong)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Version != 3 {
		t.Errorf("Version = %d, want 3", rec.Version)
	}
	if string(rec.Value) != "payload" {
		t.Errorf("Value = %s, want payload", rec.Value)
	}
}

func TestPostgres_CompareAndSet_VersionMismatch(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectExec("UPDATE records").
		WithArgs([]byte("new"), nil, "order:1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery("SELECT key, value, version, expires_at").
		WithArgs("order:1").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "version", "expires_at"}).
			AddRow("order:1", []byte("current"), int64(5), nil))

	_, err := p.CompareAndSet(context.Background(), "order:1", 2, []byte("new"), 0)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("CompareAndSet() error = %v, want ErrVersionMismatch", err)
	}
}

func TestPostgres_CompareAndSet_Success(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectExec("UPDATE records").
		WithArgs([]byte("new"), nil, "order:1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT key, value, version, expires_at").
		WithArgs("order:1").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "version", "expires_at"}).
			AddRow("order:1", []byte("new"), int64(3), nil))

	rec, err := p.CompareAndSet(context.Background(), "order:1", 2, []byte("new"), 0)
	if err != nil {
		t.Fatalf("CompareAndSet() error = %v", err)
	}
	if rec.Version != 3 {
		t.Errorf("Version = %d, want 3", rec.Version)
	}
}

func TestPostgres_Add_GuardRejectsOversell(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT value").
		WithArgs("stock:sku-1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(encodeInt64(2)))
	mock.ExpectRollback()

	guard := func(result int64) bool { return result >= 0 }
	_, err := p.Add(context.Background(), "stock:sku-1", -5, guard)
	if !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Add() error = %v, want ErrGuardFailed", err)
	}
}

func TestPostgres_Add_Success(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT value").
		WithArgs("stock:sku-1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(encodeInt64(10)))
	mock.ExpectExec("UPDATE records").
		WithArgs(encodeInt64(7), "stock:sku-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	guard := func(result int64) bool { return result >= 0 }
	result, err := p.Add(context.Background(), "stock:sku-1", -3, guard)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if result != 7 {
		t.Errorf("Add() result = %d, want 7", result)
	}
}

func TestPostgres_Delete(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectExec("DELETE FROM records").
		WithArgs("order:1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := p.Delete(context.Background(), "order:1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}
