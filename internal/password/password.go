// Package password はパスワードのハッシュ化と照合を提供する。
// ハッシュにはargon2idを使用し、レコードごとにランダムなソルトを生成する。
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// argon2idのパラメータ。変更すると既存ハッシュと照合できなくなる。
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32

	// SaltLength はソルトのバイト長。
	SaltLength = 16
)

// Hash はパスワードをハッシュ化し、ハッシュとソルトを返す。
func Hash(plain string) (hash, salt []byte, err error) {
	salt = make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return derive(plain, salt), salt, nil
}

// Compare は候補パスワードを保存済みのソルトでハッシュ化し、保存済みハッシュと定数時間で比較する。
// hashまたはsaltが空の場合は常にfalseを返す。
func Compare(hash, salt []byte, candidate string) bool {
	if len(hash) == 0 || len(salt) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(hash, derive(candidate, salt)) == 1
}

func derive(plain string, salt []byte) []byte {
	return argon2.IDKey([]byte(plain), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
