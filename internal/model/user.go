package model

import "time"

// User は認証対象のユーザーを表す。
// パスワードは平文を保持せず、argon2idハッシュとレコードごとのソルトのみを持つ。
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	PasswordSalt []byte
	IsVerified   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserView はクライアントに返すユーザー情報の射影。
type UserView struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	IsVerified bool   `json:"isVerified"`
}

// View はUserからUserViewを生成する。
func (u *User) View() UserView {
	return UserView{
		ID:         u.ID,
		Email:      u.Email,
		IsVerified: u.IsVerified,
	}
}

// OTPCode はサーバー側で保持するワンタイムパスワードを表す。
// OTP強制モードでのみ永続化される。コード自体はハッシュで保持する。
type OTPCode struct {
	UserID    string
	CodeHash  []byte
	CodeSalt  []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はOTPが期限切れかどうかを返す。
func (o *OTPCode) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
