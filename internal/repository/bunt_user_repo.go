package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/norkcraft/internal/model"
	"github.com/tidwall/buntdb"
)

// buntdbのキー構成:
//
//	user:<id>          → buntUser (JSON)
//	user_email:<email> → <id>
//	otp:<userID>       → buntOTP (JSON, TTL付き)
const (
	buntUserPrefix  = "user:"
	buntEmailPrefix = "user_email:"
	buntOTPPrefix   = "otp:"
)

// buntUser はbuntdbに保存するユーザーのJSON表現。
type buntUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"password_hash"`
	PasswordSalt []byte    `json:"password_salt"`
	IsVerified   bool      `json:"is_verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BuntUserRepo はbuntdbを使用したユーザーリポジトリ。
// 開発用の単一プロセス構成とテストで使用する。":memory:"を指定するとメモリ上に保持する。
// 書き込みはbuntdbのUpdateトランザクションで直列化されるため、
// 重複チェックと挿入は同一トランザクション内で行う。
type BuntUserRepo struct {
	db *buntdb.DB
}

// NewBuntUserRepo はBuntUserRepoを生成する。
func NewBuntUserRepo(db *buntdb.DB) *BuntUserRepo {
	return &BuntUserRepo{db: db}
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *BuntUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var user *model.User
	err := r.db.View(func(tx *buntdb.Tx) error {
		id, err := tx.Get(buntEmailPrefix + email)
		if err != nil {
			return err
		}
		user, err = getBuntUser(tx, id)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *BuntUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var user *model.User
	err := r.db.View(func(tx *buntdb.Tx) error {
		var err error
		user, err = getBuntUser(tx, id)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。IDはUUIDで採番する。
func (r *BuntUserRepo) Create(ctx context.Context, user *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	id := uuid.New().String()
	err := r.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Get(buntEmailPrefix + user.Email)
		if err == nil {
			return ErrDuplicateEmail
		}
		if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}

		doc := buntUser{
			ID:           id,
			Email:        user.Email,
			PasswordHash: user.PasswordHash,
			PasswordSalt: user.PasswordSalt,
			IsVerified:   user.IsVerified,
			CreatedAt:    user.CreatedAt,
			UpdatedAt:    user.UpdatedAt,
		}
		if err := putBuntUser(tx, &doc); err != nil {
			return err
		}
		_, _, err = tx.Set(buntEmailPrefix+user.Email, id, nil)
		return err
	})
	if errors.Is(err, ErrDuplicateEmail) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.ID = id
	return nil
}

// SetVerified は検証フラグを更新し、更新後のユーザーを返す。
func (r *BuntUserRepo) SetVerified(ctx context.Context, id string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var user *model.User
	err := r.db.Update(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(buntUserPrefix + id)
		if err != nil {
			return err
		}
		var doc buntUser
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return err
		}
		if !doc.IsVerified {
			doc.IsVerified = true
			doc.UpdatedAt = time.Now()
			if err := putBuntUser(tx, &doc); err != nil {
				return err
			}
		}
		user = doc.toModel()
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set user verified: %w", err)
	}
	return user, nil
}

// PingContext はbuntdbが開いているかを確認する。
func (r *BuntUserRepo) PingContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Len()
		return err
	})
}

func (d *buntUser) toModel() *model.User {
	return &model.User{
		ID:           d.ID,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		PasswordSalt: d.PasswordSalt,
		IsVerified:   d.IsVerified,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func getBuntUser(tx *buntdb.Tx, id string) (*model.User, error) {
	raw, err := tx.Get(buntUserPrefix + id)
	if err != nil {
		return nil, err
	}
	var doc buntUser
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", id, err)
	}
	return doc.toModel(), nil
}

func putBuntUser(tx *buntdb.Tx, doc *buntUser) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(buntUserPrefix+doc.ID, string(b), nil)
	return err
}

// compile-time interface check
var (
	_ UserRepository = (*BuntUserRepo)(nil)
	_ Pinger         = (*BuntUserRepo)(nil)
)
