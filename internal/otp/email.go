package otp

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// Subject はOTP通知メールの件名。
const Subject = "Your OTP for NorkCraft Registration"

// DisplayExpiration はメール本文に表示する有効期限。
// OTP強制モード以外ではサーバー側で期限を検証しない。
const DisplayExpiration = 10 * time.Minute

// EmailParams はメールテンプレートに渡すデータ。
type EmailParams struct {
	Email      string
	Code       string
	Expiration time.Duration
}

var emailTempl = template.Must(template.New("otp-email").Parse(emailTemplate))

// RenderEmail は宛先とOTPから自己完結したHTMLメール本文を生成する。
// 値はhtml/templateでエスケープされる。
func RenderEmail(recipient, code string) (string, error) {
	var buf bytes.Buffer
	err := emailTempl.Execute(&buf, EmailParams{
		Email:      recipient,
		Code:       code,
		Expiration: DisplayExpiration,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render otp email: %w", err)
	}
	return buf.String(), nil
}

const emailTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>NorkCraft Email Verification</title>
</head>
<body style="margin: 0;">
  <div style="font-family: Arial, sans-serif; background-color: #f5f5f5; padding: 20px;">
    <div style="background-color: #ffffff; padding: 30px; border-radius: 8px; max-width: 600px; margin: 0 auto;">
      <h2 style="color: #1F3A70; margin-bottom: 20px;">Welcome to NorkCraft!</h2>
      <p style="color: #333; font-size: 16px; line-height: 1.6;">
        Your One-Time Password (OTP) for email verification is:
      </p>
      <div style="background-color: #f0f0f0; padding: 15px; border-radius: 5px; text-align: center; margin: 20px 0;">
        <span style="font-size: 32px; font-weight: bold; color: #1F3A70; letter-spacing: 5px;">{{.Code}}</span>
      </div>
      <p style="color: #666; font-size: 14px;">
        This OTP will expire in {{printf "%.f" .Expiration.Minutes}} minutes. If you did not request this code, please ignore this email.
      </p>
      <hr style="border: none; border-top: 1px solid #ddd; margin: 20px 0;">
      <p style="color: #999; font-size: 12px; margin: 10px 0;">
        NorkCraft Team
      </p>
    </div>
  </div>
</body>
</html>
`
