// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/norkcraft/internal/model"
)

// ErrDuplicateEmail は同じメールアドレスのユーザーが既に存在する場合に返る。
// ストアの一意制約違反はすべてこのエラーに変換する。
var ErrDuplicateEmail = errors.New("email already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByEmail は正規化済みメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	// ストアのID形式として不正なIDも「見つからない」として扱う。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成し、採番したIDをuser.IDに設定する。
	// メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// SetVerified は検証フラグをtrueにし、更新後のユーザーを返す。
	// 既に検証済みの場合もエラーにしない。見つからない場合はnilを返す。
	SetVerified(ctx context.Context, id string) (*model.User, error)
}

// OTPRepository はOTP強制モードで使用するOTPの永続化インターフェース。
// ユーザーごとに最新の1件のみを保持する。
type OTPRepository interface {
	// Save はユーザーのOTPを保存する。既存のOTPは置き換える。
	Save(ctx context.Context, code *model.OTPCode) error

	// FindByUserID はユーザーのOTPを取得する。見つからない場合はnilを返す。
	// 期限切れの判定は呼び出し側で行う。
	FindByUserID(ctx context.Context, userID string) (*model.OTPCode, error)

	// DeleteByUserID はユーザーのOTPを削除する。存在しない場合もエラーにしない。
	DeleteByUserID(ctx context.Context, userID string) error
}

// Pinger はストアの疎通確認インターフェース。ヘルスチェックで使用する。
type Pinger interface {
	PingContext(ctx context.Context) error
}
