package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// CodeRepository stores one-time codes keyed by (email, purpose). Only a
// bcrypt hash of the code is persisted. Issuing a code replaces any prior
// code for the same email and purpose; consuming one deletes it.
type CodeRepository interface {
	Upsert(ctx context.Context, email, purpose, codeHash string, expiresAt time.Time) error
	Consume(ctx context.Context, email, code, purpose string) (bool, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type codeRepository struct {
	pool *pgxpool.Pool
}

func NewCodeRepository(pool *pgxpool.Pool) CodeRepository {
	return &codeRepository{pool: pool}
}

func (r *codeRepository) Upsert(ctx context.Context, email, purpose, codeHash string, expiresAt time.Time) error {
	const q = `
		INSERT INTO one_time_codes (email, purpose, code_hash, expires_at)
		VALUES (lower($1), $2, $3, $4)
		ON CONFLICT (email, purpose) DO UPDATE SET
			code_hash = EXCLUDED.code_hash,
			expires_at = EXCLUDED.expires_at,
			created_at = now()`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, email, purpose, codeHash, expiresAt)
	return err
}

// Consume atomically checks and deletes the code for (email, purpose).
// The row lock serializes concurrent attempts: whichever transaction wins
// deletes the row, the loser finds nothing. Expired rows are rejected and
// removed even if the sweeper has not purged them yet.
func (r *codeRepository) Consume(ctx context.Context, email, code, purpose string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	const sel = `
		SELECT id, code_hash, expires_at
		FROM one_time_codes
		WHERE email = lower($1) AND purpose = $2
		FOR UPDATE`

	var (
		id       int64
		codeHash string
		expires  time.Time
	)
	err = tx.QueryRow(ctx, sel, email, purpose).Scan(&id, &codeHash, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if time.Now().After(expires) {
		_, err = tx.Exec(ctx, `DELETE FROM one_time_codes WHERE id = $1`, id)
		if err != nil {
			return false, err
		}
		return false, tx.Commit(ctx)
	}

	if bcrypt.CompareHashAndPassword([]byte(codeHash), []byte(code)) != nil {
		return false, nil
	}

	if _, err = tx.Exec(ctx, `DELETE FROM one_time_codes WHERE id = $1`, id); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// DeleteExpired purges expired codes; correctness never depends on it,
// Consume re-checks expiry on its own.
func (r *codeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	const q = `DELETE FROM one_time_codes WHERE expires_at < now()`

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}
