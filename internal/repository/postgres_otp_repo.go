package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/norkcraft/internal/model"
)

// PostgresOTPRepo はPostgreSQLを使用したOTPリポジトリ。
type PostgresOTPRepo struct {
	db *sql.DB
}

// NewPostgresOTPRepo はPostgresOTPRepoを生成する。
func NewPostgresOTPRepo(db *sql.DB) *PostgresOTPRepo {
	return &PostgresOTPRepo{db: db}
}

// Save はユーザーのOTPをUPSERTする。
func (r *PostgresOTPRepo) Save(ctx context.Context, code *model.OTPCode) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO otp_codes (user_id, code_hash, code_salt, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE
		 SET code_hash = EXCLUDED.code_hash,
		     code_salt = EXCLUDED.code_salt,
		     expires_at = EXCLUDED.expires_at,
		     created_at = EXCLUDED.created_at`,
		code.UserID, code.CodeHash, code.CodeSalt, code.ExpiresAt, code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save otp: %w", err)
	}
	return nil
}

// FindByUserID はユーザーのOTPを取得する。見つからない場合はnilを返す。
func (r *PostgresOTPRepo) FindByUserID(ctx context.Context, userID string) (*model.OTPCode, error) {
	code := &model.OTPCode{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, code_hash, code_salt, expires_at, created_at
		 FROM otp_codes WHERE user_id = $1`,
		userID,
	).Scan(&code.UserID, &code.CodeHash, &code.CodeSalt, &code.ExpiresAt, &code.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find otp: %w", err)
	}
	return code, nil
}

// DeleteByUserID はユーザーのOTPを削除する。
func (r *PostgresOTPRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM otp_codes WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete otp: %w", err)
	}
	return nil
}

// compile-time interface check
var _ OTPRepository = (*PostgresOTPRepo)(nil)
