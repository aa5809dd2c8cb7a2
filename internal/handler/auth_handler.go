// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/norkcraft/internal/auth"
	"github.com/hitoshi/norkcraft/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password string) (*auth.RegisterResult, error)
	Authenticate(ctx context.Context, email, password string) (*model.UserView, error)
	SendOTP(ctx context.Context, email, code string) error
	ConfirmVerification(ctx context.Context, userID, code string) (*model.UserView, error)
}

type signupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
	OTP     string `json:"otp,omitempty"`
}

type loginResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	UserID     string `json:"userId"`
	Email      string `json:"email"`
	IsVerified bool   `json:"isVerified"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type verifyResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	User    model.UserView `json:"user"`
}

// AuthHandler はサインアップ・ログイン・OTP関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// Signup はユーザーを登録し、OTPをメール送信する。
// POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeOrReject(w, r, &req) {
		return
	}

	result, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err, "Signup failed")
		return
	}

	writeJSON(w, http.StatusCreated, signupResponse{
		Success: true,
		Message: "User registered. OTP sent to email.",
		UserID:  result.UserID,
		OTP:     result.OTP,
	})
}

// Login はemailとパスワードを照合する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeOrReject(w, r, &req) {
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err, "Login failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success:    true,
		Message:    "Login successful",
		UserID:     user.ID,
		Email:      user.Email,
		IsVerified: user.IsVerified,
	})
}

// SendOTP は指定されたOTPを含むメールを送信する。
// POST /api/auth/send-otp
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if !decodeOrReject(w, r, &req) {
		return
	}

	if err := h.service.SendOTP(r.Context(), req.Email, req.OTP); err != nil {
		handleServiceError(w, r, err, "Failed to send OTP email")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "OTP sent successfully to " + auth.NormalizeEmail(req.Email),
	})
}

// VerifyOTP はユーザーのメールアドレスを検証済みにする。
// POST /api/auth/verify-otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !decodeOrReject(w, r, &req) {
		return
	}

	user, err := h.service.ConfirmVerification(r.Context(), req.UserID, req.OTP)
	if err != nil {
		handleServiceError(w, r, err, "Verification failed")
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Success: true,
		Message: "Email verified successfully",
		User:    *user,
	})
}

// decodeOrReject はリクエストを読み込み、失敗した場合は400を書き込んでfalseを返す。
func decodeOrReject(w http.ResponseWriter, r *http.Request, dst formBinder) bool {
	if err := decodeRequest(w, r, dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid request body"))
		return false
	}
	return true
}
