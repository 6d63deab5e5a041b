package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/jmoiron/sqlx"
)

// Postgres is a Store backed by a single `records` table, shared by every
// multi-worker deployment that needs CAS/guarded-add semantics across
// processes. One row per key; version is an optimistic-lock counter.
type Postgres struct {
	db *sqlx.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an already-open *sqlx.DB. Run Migrate before first use.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects to dsn and pings it before returning.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

type recordRow struct {
	Key       string       `db:"key"`
	Value     []byte       `db:"value"`
	Version   int64        `db:"version"`
	ExpiresAt sql.NullTime `db:"expires_at"`
}

func rowToRecord(r recordRow) Record {
	rec := Record{Key: r.Key, Value: r.Value, Version: r.Version}
	if r.ExpiresAt.Valid {
		rec.ExpiresAt = r.ExpiresAt.Time
	}
	return rec
}

func (p *Postgres) Get(ctx context.Context, key string, _ Consistency) (Record, error) {
	var row recordRow
	err := p.db.GetContext(ctx, &row, `
		SELECT key, value, version, expires_at
		FROM records
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, wrapPgErr(err)
	}
	return rowToRecord(row), nil
}

func (p *Postgres) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (Record, error) {
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO records (key, value, version, expires_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (key) DO UPDATE
			SET value = $2, version = 1, expires_at = $3
			WHERE records.expires_at IS NOT NULL AND records.expires_at <= now()
	`, key, value, expiresAt)
	if err != nil {
		return Record{}, wrapPgErr(err)
	}

	rec, err := p.Get(ctx, key, Strong)
	if err != nil {
		return Record{}, err
	}
	if rec.Version != 1 || string(rec.Value) != string(value) {
		return Record{}, ErrConflict
	}
	return rec, nil
}

func (p *Postgres) CompareAndSet(ctx context.Context, key string, expectedVersion int64, value []byte, ttl time.Duration) (Record, error) {
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE records
		SET value = $1, version = version + 1, expires_at = $2
		WHERE key = $3 AND version = $4 AND (expires_at IS NULL OR expires_at > now())
	`, value, expiresAt, key, expectedVersion)
	if err != nil {
		return Record{}, wrapPgErr(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := p.Get(ctx, key, Strong); errors.Is(err, ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, ErrVersionMismatch
	}

	return p.Get(ctx, key, Strong)
}

func (p *Postgres) Add(ctx context.Context, key string, delta int64, guard func(int64) bool) (int64, error) {
	// The current value is read with SELECT ... FOR UPDATE and the guard is
	// evaluated in Go on current+delta before the UPDATE, all inside one
	// transaction, so the check-and-commit is atomic with respect
	// to other Add/CompareAndSet callers racing on the same row.
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapPgErr(err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.GetContext(ctx, &raw, `
		SELECT value
		FROM records
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
		FOR UPDATE
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, wrapPgErr(err)
	}

	current := decodeInt64(raw)
	result := current + delta
	if guard != nil && !guard(result) {
		return current, ErrGuardFailed
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE records
		SET value = $1, version = version + 1
		WHERE key = $2
	`, encodeInt64(result), key)
	if err != nil {
		return 0, wrapPgErr(err)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapPgErr(err)
	}
	return result, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM records WHERE key = $1`, key)
	if err != nil {
		return wrapPgErr(err)
	}
	return nil
}

func wrapPgErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrUnavailable, err)
}
