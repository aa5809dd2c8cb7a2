// Package auth はサインアップ、ログイン、OTPによるメール認証のワークフローを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/norkcraft/internal/mail"
	"github.com/hitoshi/norkcraft/internal/model"
	"github.com/hitoshi/norkcraft/internal/otp"
	"github.com/hitoshi/norkcraft/internal/password"
	"github.com/hitoshi/norkcraft/internal/repository"
)

// メトリクスに記録する処理結果のラベル値。
const (
	ResultSuccess    = "success"
	ResultInvalid    = "invalid"
	ResultDuplicate  = "duplicate"
	ResultFailure    = "failure"
	ResultNotFound   = "not_found"
	ResultInvalidOTP = "invalid_otp"
	ResultError      = "error"
)

// 未登録emailのログイン試行で照合に使う固定値。
var (
	dummyHash = make([]byte, 32)
	dummySalt = make([]byte, password.SaltLength)
)

// MetricsRecorder は認証ワークフローの結果を記録するインターフェース。
type MetricsRecorder interface {
	RecordSignup(result string)
	RecordLogin(result string)
	RecordOTPSend(result string)
	RecordVerification(result string)
}

type nopMetrics struct{}

func (nopMetrics) RecordSignup(string)       {}
func (nopMetrics) RecordLogin(string)        {}
func (nopMetrics) RecordOTPSend(string)      {}
func (nopMetrics) RecordVerification(string) {}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	PasswordMinLength int           // パスワードの最小文字数
	EnforceOTP        bool          // trueの場合OTPを保存し、検証時に照合する
	OTPTTL            time.Duration // EnforceOTP時のOTP有効期間
}

// RegisterResult はサインアップの結果。
// EnforceOTPが有効な場合、OTPは空になる。
type RegisterResult struct {
	UserID string
	OTP    string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	otpRepo  repository.OTPRepository
	sender   mail.Sender
	metrics  MetricsRecorder
	config   ServiceConfig
	now      func() time.Time
	compare  func(hash, salt []byte, plain string) bool
}

// NewService はServiceを生成する。
// otpRepoはEnforceOTPが有効な場合のみ使用する。metricsがnilの場合は記録しない。
func NewService(
	userRepo repository.UserRepository,
	otpRepo repository.OTPRepository,
	sender mail.Sender,
	metrics MetricsRecorder,
	config ServiceConfig,
) *Service {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if sender == nil {
		sender = mail.DisabledSender{}
	}
	return &Service{
		userRepo: userRepo,
		otpRepo:  otpRepo,
		sender:   sender,
		metrics:  metrics,
		config:   config,
		now:      time.Now,
		compare:  password.Compare,
	}
}

// Register はユーザーを未検証状態で登録し、OTPを生成してメール送信を試みる。
// メール送信の失敗はログに記録するのみで、登録自体は成功とする。
func (s *Service) Register(ctx context.Context, email, plain string) (*RegisterResult, error) {
	email = NormalizeEmail(email)
	if err := validateCredentials(email, plain, s.config.PasswordMinLength); err != nil {
		s.metrics.RecordSignup(ResultInvalid)
		return nil, err
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordSignup(ResultError)
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		s.metrics.RecordSignup(ResultDuplicate)
		return nil, model.NewDuplicateEmailError()
	}

	hash, salt, err := password.Hash(plain)
	if err != nil {
		s.metrics.RecordSignup(ResultError)
		return nil, err
	}

	now := s.now()
	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		PasswordSalt: salt,
		IsVerified:   false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		// 事前確認と挿入の間に同じemailが登録された場合もここで検出される
		if errors.Is(err, repository.ErrDuplicateEmail) {
			s.metrics.RecordSignup(ResultDuplicate)
			return nil, model.NewDuplicateEmailError()
		}
		s.metrics.RecordSignup(ResultError)
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	code, err := otp.Generate()
	if err != nil {
		s.metrics.RecordSignup(ResultError)
		return nil, err
	}

	// ユーザーは作成済みのため、OTPの保存や送信に失敗しても登録は成功とする。
	// EnforceOTP時はSendOTPで新しいコードを再発行できる。
	if err := s.issue(ctx, user.ID, email, code, now); err != nil {
		s.metrics.RecordOTPSend(ResultFailure)
		slog.Warn("failed to issue otp on signup",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else {
		s.metrics.RecordOTPSend(ResultSuccess)
	}

	s.metrics.RecordSignup(ResultSuccess)
	slog.Info("user registered", slog.String("user_id", user.ID))

	result := &RegisterResult{UserID: user.ID}
	if !s.config.EnforceOTP {
		result.OTP = code
	}
	return result, nil
}

// Authenticate はemailとパスワードを照合する。
// 未登録のemailと誤ったパスワードは同一のエラーを返す。
func (s *Service) Authenticate(ctx context.Context, email, plain string) (*model.UserView, error) {
	email = NormalizeEmail(email)
	if err := validateCredentials(email, plain, 0); err != nil {
		s.metrics.RecordLogin(ResultInvalid)
		return nil, err
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordLogin(ResultError)
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		// 登録済みemailと同じコストをかけ、応答時間で存在が判別できないようにする
		s.compare(dummyHash, dummySalt, plain)
		s.metrics.RecordLogin(ResultFailure)
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.compare(user.PasswordHash, user.PasswordSalt, plain) {
		s.metrics.RecordLogin(ResultFailure)
		return nil, model.NewInvalidCredentialsError()
	}

	s.metrics.RecordLogin(ResultSuccess)
	slog.Info("user logged in", slog.String("user_id", user.ID))

	view := user.View()
	return &view, nil
}

// SendOTP は認証メールを送信する。送信に失敗した場合はエラーを返す。
// 通常は呼び出し元が指定したコードをそのまま送る。EnforceOTP時は指定コードを使わず、
// 未検証ユーザーに新しいコードを発行して保存済みのコードを置き換える。
func (s *Service) SendOTP(ctx context.Context, email, code string) error {
	if s.config.EnforceOTP {
		return s.resendOTP(ctx, email)
	}

	if strings.TrimSpace(email) == "" || strings.TrimSpace(code) == "" {
		s.metrics.RecordOTPSend(ResultInvalid)
		return model.NewValidationError("Email and OTP are required")
	}

	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		s.metrics.RecordOTPSend(ResultInvalid)
		return model.NewValidationError("Invalid email format")
	}

	if err := s.deliver(ctx, email, strings.TrimSpace(code)); err != nil {
		s.metrics.RecordOTPSend(ResultFailure)
		return fmt.Errorf("failed to send otp email: %w", err)
	}

	s.metrics.RecordOTPSend(ResultSuccess)
	return nil
}

// resendOTP はEnforceOTP時の再発行を行う。
// 未登録または検証済みのemailには何も送らずに成功を返す。
func (s *Service) resendOTP(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		s.metrics.RecordOTPSend(ResultInvalid)
		return model.NewValidationError("Email is required")
	}
	if !ValidEmail(email) {
		s.metrics.RecordOTPSend(ResultInvalid)
		return model.NewValidationError("Invalid email format")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordOTPSend(ResultError)
		return fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil || user.IsVerified {
		s.metrics.RecordOTPSend(ResultNotFound)
		return nil
	}

	code, err := otp.Generate()
	if err != nil {
		s.metrics.RecordOTPSend(ResultError)
		return err
	}
	if err := s.issue(ctx, user.ID, email, code, s.now()); err != nil {
		s.metrics.RecordOTPSend(ResultFailure)
		return err
	}

	s.metrics.RecordOTPSend(ResultSuccess)
	slog.Info("otp reissued", slog.String("user_id", user.ID))
	return nil
}

// ConfirmVerification はユーザーの検証フラグを立て、更新後のユーザーを返す。
// 既に検証済みの場合も成功を返す。EnforceOTPが有効な場合は保存済みOTPと照合し、
// 一致したOTPは削除される。
func (s *Service) ConfirmVerification(ctx context.Context, userID, code string) (*model.UserView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		s.metrics.RecordVerification(ResultInvalid)
		return nil, model.NewValidationError("User ID is required")
	}

	if s.config.EnforceOTP {
		if err := s.consumeOTP(ctx, userID, strings.TrimSpace(code)); err != nil {
			s.metrics.RecordVerification(verificationResult(err))
			return nil, err
		}
	}

	user, err := s.userRepo.SetVerified(ctx, userID)
	if err != nil {
		s.metrics.RecordVerification(ResultError)
		return nil, fmt.Errorf("failed to set user verified: %w", err)
	}
	if user == nil {
		s.metrics.RecordVerification(ResultNotFound)
		return nil, model.NewUserNotFoundError()
	}

	s.metrics.RecordVerification(ResultSuccess)
	slog.Info("user verified", slog.String("user_id", user.ID))

	view := user.View()
	return &view, nil
}

// issue はEnforceOTP時にOTPを保存してからメールを送信する。
func (s *Service) issue(ctx context.Context, userID, email, code string, now time.Time) error {
	if s.config.EnforceOTP {
		if err := s.saveOTP(ctx, userID, code, now); err != nil {
			return err
		}
	}
	if err := s.deliver(ctx, email, code); err != nil {
		return fmt.Errorf("failed to send otp email: %w", err)
	}
	return nil
}

// deliver はOTPメールを生成して送信する。
func (s *Service) deliver(ctx context.Context, email, code string) error {
	body, err := otp.RenderEmail(email, code)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, mail.Message{
		To:       email,
		Subject:  otp.Subject,
		HTMLBody: body,
	})
}

// saveOTP はOTPをハッシュ化して保存する。
func (s *Service) saveOTP(ctx context.Context, userID, code string, now time.Time) error {
	hash, salt, err := password.Hash(code)
	if err != nil {
		return err
	}

	err = s.otpRepo.Save(ctx, &model.OTPCode{
		UserID:    userID,
		CodeHash:  hash,
		CodeSalt:  salt,
		ExpiresAt: now.Add(s.config.OTPTTL),
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to save otp: %w", err)
	}
	return nil
}

// consumeOTP は保存済みOTPを照合し、一致した場合は削除する。
func (s *Service) consumeOTP(ctx context.Context, userID, code string) error {
	if code == "" {
		return model.NewValidationError("OTP is required")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	stored, err := s.otpRepo.FindByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find otp: %w", err)
	}
	if stored == nil || !otp.Valid(code) || stored.Expired(s.now()) || !password.Compare(stored.CodeHash, stored.CodeSalt, code) {
		return model.NewInvalidOTPError()
	}

	if err := s.otpRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete otp: %w", err)
	}
	return nil
}

// verificationResult はOTP照合エラーをメトリクスのラベル値に変換する。
func verificationResult(err error) string {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return ResultError
	}
	switch apiErr.Code {
	case model.ErrCodeValidation:
		return ResultInvalid
	case model.ErrCodeUserNotFound:
		return ResultNotFound
	case model.ErrCodeInvalidOTP:
		return ResultInvalidOTP
	default:
		return ResultError
	}
}
