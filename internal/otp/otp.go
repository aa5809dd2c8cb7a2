// Package otp はワンタイムパスワードの生成と通知メール本文の生成を提供する。
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const (
	// Min は生成されるOTPの最小値。
	Min = 100000
	// Max は生成されるOTPの最大値。
	Max = 999999
)

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// Generate は[Min, Max]の範囲から一様に選んだ6桁の数字文字列を返す。
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(Max-Min+1))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+Min), nil
}

// Valid はcodeが6桁の数字であるかを返す。
func Valid(code string) bool {
	return codePattern.MatchString(code)
}
