package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/lolcoach/coach-relay-go/internal/model"
)

// TokenRepository stores session tokens by hash. At most one token exists
// per (user, room); Upsert replaces the previous one and reports its hash
// in ReplacedHash.
type TokenRepository interface {
	FindByHash(ctx context.Context, tokenHash string) (*model.SessionToken, error)
	Upsert(ctx context.Context, params model.UpsertTokenParams) (*model.SessionToken, error)
	DeleteByHash(ctx context.Context, tokenHash string) (bool, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// tokenDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type tokenDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type tokenRepo struct {
	db tokenDB
}

func NewTokenRepository(db *sqlx.DB) TokenRepository {
	return &tokenRepo{db: db}
}

func (r *tokenRepo) FindByHash(ctx context.Context, tokenHash string) (*model.SessionToken, error) {
	var token model.SessionToken
	err := r.db.GetContext(ctx, &token, `
		SELECT token_hash, user_id, room_id, display_name, issued_at, expires_at
		FROM session_tokens WHERE token_hash = $1
	`, tokenHash)
	return HandleNotFound(&token, err)
}

func (r *tokenRepo) Upsert(ctx context.Context, params model.UpsertTokenParams) (*model.SessionToken, error) {
	var token model.SessionToken
	err := r.db.GetContext(ctx, &token, `
		WITH previous AS (
			SELECT token_hash FROM session_tokens
			WHERE user_id = $2 AND room_id = $3
			FOR UPDATE
		)
		INSERT INTO session_tokens (token_hash, user_id, room_id, display_name, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, room_id) DO UPDATE SET
			token_hash = EXCLUDED.token_hash,
			display_name = EXCLUDED.display_name,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at
		RETURNING token_hash, user_id, room_id, display_name, issued_at, expires_at,
			COALESCE((SELECT token_hash FROM previous), '') AS replaced_hash
	`, params.TokenHash, params.UserID, params.RoomID, params.DisplayName, params.IssuedAt, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *tokenRepo) DeleteByHash(ctx context.Context, tokenHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *tokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
