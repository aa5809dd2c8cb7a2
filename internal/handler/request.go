package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
)

// maxRequestBody はリクエストボディの最大サイズ。
const maxRequestBody = 1 << 20

// errInvalidBody はリクエストボディを解析できない場合のエラー。
var errInvalidBody = errors.New("invalid request body")

// formBinder はURLエンコードされたフォームから値を読み込めるリクエスト型。
type formBinder interface {
	bindForm(values url.Values)
}

// decodeRequest はContent-Typeに応じてJSONまたはURLエンコードされたフォームをdstに読み込む。
// ボディが空の場合はdstをゼロ値のまま返す。
func decodeRequest(w http.ResponseWriter, r *http.Request, dst formBinder) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return errInvalidBody
		}
		dst.bindForm(r.PostForm)
		return nil
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errInvalidBody
	}
	return nil
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *credentialsRequest) bindForm(v url.Values) {
	c.Email = v.Get("email")
	c.Password = v.Get("password")
}

type sendOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (s *sendOTPRequest) bindForm(v url.Values) {
	s.Email = v.Get("email")
	s.OTP = v.Get("otp")
}

type verifyOTPRequest struct {
	UserID string `json:"userId"`
	OTP    string `json:"otp"`
}

func (s *verifyOTPRequest) bindForm(v url.Values) {
	s.UserID = v.Get("userId")
	s.OTP = v.Get("otp")
}
