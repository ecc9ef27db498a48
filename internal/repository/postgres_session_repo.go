package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/aidaily/internal/identity"
	"github.com/hitoshi/aidaily/internal/model"
)

// DefaultStorageKey はプロセス単位のセッションを保存するキー。
const DefaultStorageKey = "default"

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// storage_keyごとに1件のセッションを保持する。
type PostgresSessionRepo struct {
	db  *sql.DB
	key string
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
// keyが空の場合はDefaultStorageKeyを使用する。
func NewPostgresSessionRepo(db *sql.DB, key string) *PostgresSessionRepo {
	if key == "" {
		key = DefaultStorageKey
	}
	return &PostgresSessionRepo{db: db, key: key}
}

// Load は保存済みのセッションを取得する。存在しない場合は (nil, nil) を返す。
func (r *PostgresSessionRepo) Load(ctx context.Context) (*model.Session, error) {
	var (
		s             model.Session
		expiresAt     sql.NullTime
		userCreatedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, expires_at,
		        user_id, user_email, user_full_name, user_created_at
		 FROM auth_sessions
		 WHERE storage_key = $1`,
		r.key,
	).Scan(
		&s.AccessToken, &s.RefreshToken, &s.TokenType, &expiresAt,
		&s.User.ID, &s.User.Email, &s.User.FullName, &userCreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if expiresAt.Valid {
		s.ExpiresAt = expiresAt.Time
	}
	if userCreatedAt.Valid {
		s.User.CreatedAt = userCreatedAt.Time
	}
	return &s, nil
}

// Save はセッションをUPSERTする。
func (r *PostgresSessionRepo) Save(ctx context.Context, session *model.Session) error {
	if session == nil {
		return r.Delete(ctx)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (
		     storage_key, access_token, refresh_token, token_type, expires_at,
		     user_id, user_email, user_full_name, user_created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		 ON CONFLICT (storage_key) DO UPDATE SET
		     access_token = EXCLUDED.access_token,
		     refresh_token = EXCLUDED.refresh_token,
		     token_type = EXCLUDED.token_type,
		     expires_at = EXCLUDED.expires_at,
		     user_id = EXCLUDED.user_id,
		     user_email = EXCLUDED.user_email,
		     user_full_name = EXCLUDED.user_full_name,
		     user_created_at = EXCLUDED.user_created_at,
		     updated_at = now()`,
		r.key, session.AccessToken, session.RefreshToken, tokenTypeOrDefault(session.TokenType),
		nullTime(session.ExpiresAt),
		session.User.ID, session.User.Email, session.User.FullName,
		nullTime(session.User.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete は保存済みのセッションを削除する。
func (r *PostgresSessionRepo) Delete(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE storage_key = $1`,
		r.key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func tokenTypeOrDefault(tokenType string) string {
	if tokenType == "" {
		return "bearer"
	}
	return tokenType
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
var _ identity.SessionStorage = (*PostgresSessionRepo)(nil)
