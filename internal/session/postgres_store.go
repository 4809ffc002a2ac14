package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

// PostgresStore keeps sessions in the `sessions` table (migration 00003).
// Expired rows are ignored on read and overwritten or deleted on write.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	var raw []byte
	const q = `SELECT data FROM sessions WHERE id = $1 AND expires_at > NOW()`
	if err := p.db.GetContext(ctx, &raw, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "select session")
	}
	return decode(id, raw)
}

func (p *PostgresStore) Put(ctx context.Context, id string, s *Session, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	const q = `INSERT INTO sessions (id, data, expires_at) VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`
	if _, err := p.db.ExecContext(ctx, q, id, raw, ttl.Seconds()); err != nil {
		return errors.Wrap(err, "upsert session")
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return errors.Wrap(err, "delete session")
	}
	return nil
}

// Update locks the row for the duration of fn.
func (p *PostgresStore) Update(ctx context.Context, id string, ttl time.Duration, fn func(*Session) error) (err error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var raw []byte
	const sel = `SELECT data FROM sessions WHERE id = $1 AND expires_at > NOW() FOR UPDATE`
	if err = tx.GetContext(ctx, &raw, sel, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return errors.Wrap(err, "select session")
	}
	s, err := decode(id, raw)
	if err != nil {
		return err
	}
	if err = fn(s); err != nil {
		return err
	}
	out, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	const upd = `UPDATE sessions SET data = $2, expires_at = NOW() + make_interval(secs => $3) WHERE id = $1`
	if _, err = tx.ExecContext(ctx, upd, id, out, ttl.Seconds()); err != nil {
		return errors.Wrap(err, "update session")
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// PurgeExpired removes rows past their expiry. Run from the CLI or cron.
func (p *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, errors.Wrap(err, "purge sessions")
	}
	return res.RowsAffected()
}
