package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/norkcraft/internal/model"
	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, password_hash, password_salt, is_verified, created_at, updated_at`

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。IDはUUIDで採番する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	id := uuid.New().String()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, user.Email, user.PasswordHash, user.PasswordSalt, user.IsVerified, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.ID = id
	return nil
}

// SetVerified は検証フラグを1文で更新し、更新後のユーザーを返す。
// 既に検証済みの場合はupdated_atを変更しない。
func (r *PostgresUserRepo) SetVerified(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET is_verified = TRUE,
		     updated_at = CASE WHEN is_verified THEN updated_at ELSE now() END
		 WHERE id = $1
		 RETURNING `+userColumns,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to set user verified: %w", err)
	}
	return user, nil
}

// PingContext はデータベースの疎通を確認する。
func (r *PostgresUserRepo) PingContext(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// scanUser は1行をmodel.Userに読み込む。行が存在しない場合はnil, nilを返す。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.PasswordSalt,
		&user.IsVerified, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// compile-time interface check
var (
	_ UserRepository = (*PostgresUserRepo)(nil)
	_ Pinger         = (*PostgresUserRepo)(nil)
)
