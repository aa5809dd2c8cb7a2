package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/norkcraft/internal/model"
	"github.com/tidwall/buntdb"
)

// buntOTP はbuntdbに保存するOTPのJSON表現。
type buntOTP struct {
	UserID    string    `json:"user_id"`
	CodeHash  []byte    `json:"code_hash"`
	CodeSalt  []byte    `json:"code_salt"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// BuntOTPRepo はbuntdbを使用したOTPリポジトリ。
// キーにはExpiresAtまでのTTLを設定する。
type BuntOTPRepo struct {
	db *buntdb.DB
}

// NewBuntOTPRepo はBuntOTPRepoを生成する。
func NewBuntOTPRepo(db *buntdb.DB) *BuntOTPRepo {
	return &BuntOTPRepo{db: db}
}

// Save はユーザーのOTPを置き換える。
func (r *BuntOTPRepo) Save(ctx context.Context, code *model.OTPCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b, err := json.Marshal(buntOTP{
		UserID:    code.UserID,
		CodeHash:  code.CodeHash,
		CodeSalt:  code.CodeSalt,
		ExpiresAt: code.ExpiresAt,
		CreatedAt: code.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode otp: %w", err)
	}

	var opts *buntdb.SetOptions
	if ttl := time.Until(code.ExpiresAt); ttl > 0 {
		opts = &buntdb.SetOptions{Expires: true, TTL: ttl}
	}

	err = r.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(buntOTPPrefix+code.UserID, string(b), opts)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save otp: %w", err)
	}
	return nil
}

// FindByUserID はユーザーのOTPを取得する。見つからない場合はnilを返す。
func (r *BuntOTPRepo) FindByUserID(ctx context.Context, userID string) (*model.OTPCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw string
	err := r.db.View(func(tx *buntdb.Tx) error {
		var err error
		raw, err = tx.Get(buntOTPPrefix + userID)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find otp: %w", err)
	}

	var doc buntOTP
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode otp: %w", err)
	}
	return &model.OTPCode{
		UserID:    doc.UserID,
		CodeHash:  doc.CodeHash,
		CodeSalt:  doc.CodeSalt,
		ExpiresAt: doc.ExpiresAt,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// DeleteByUserID はユーザーのOTPを削除する。
func (r *BuntOTPRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(buntOTPPrefix + userID)
		return err
	})
	if err != nil && !errors.Is(err, buntdb.ErrNotFound) {
		return fmt.Errorf("failed to delete otp: %w", err)
	}
	return nil
}

// compile-time interface check
var _ OTPRepository = (*BuntOTPRepo)(nil)
