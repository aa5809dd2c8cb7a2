package auth

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"

	"github.com/hitoshi/norkcraft/internal/model"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail は前後の空白を除去して小文字化し、ドメイン部をIDNA(ASCII)形式に変換する。
// ドメインの変換に失敗した場合は小文字化した値をそのまま返す。
func NormalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))

	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return email
	}

	domain, err := idna.Lookup.ToASCII(email[at+1:])
	if err != nil {
		return email
	}
	return email[:at+1] + domain
}

// ValidEmail はemailが"local@domain.tld"の形式であるかを返す。
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// validateCredentials はサインアップ・ログインの入力を検証する。
// minLength が0以下の場合はパスワード長を検査しない。
func validateCredentials(email, password string, minLength int) error {
	if email == "" {
		return model.NewValidationError("Email is required")
	}
	if !ValidEmail(email) {
		return model.NewValidationError("Invalid email format")
	}
	if password == "" {
		return model.NewValidationError("Password is required")
	}
	if minLength > 0 && utf8.RuneCountInString(password) < minLength {
		return model.NewValidationError(fmt.Sprintf("Password must be at least %d characters", minLength))
	}
	return nil
}
