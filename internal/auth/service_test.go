package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/hitoshi/norkcraft/internal/mail"
	"github.com/hitoshi/norkcraft/internal/model"
	"github.com/hitoshi/norkcraft/internal/otp"
	"github.com/hitoshi/norkcraft/internal/password"
	"github.com/hitoshi/norkcraft/internal/repository"
)

// --- モック定義 ---

type mockSender struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, msg mail.Message) error
	sent   []mail.Message
}

func (m *mockSender) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	if m.sendFn != nil {
		return m.sendFn(ctx, msg)
	}
	return nil
}

func (m *mockSender) messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.sent...)
}

type mockUserRepo struct {
	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	findByIDFn    func(ctx context.Context, id string) (*model.User, error)
	createFn      func(ctx context.Context, user *model.User) error
	setVerifiedFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	user.ID = "user-1"
	return nil
}

func (m *mockUserRepo) SetVerified(ctx context.Context, id string) (*model.User, error) {
	if m.setVerifiedFn != nil {
		return m.setVerifiedFn(ctx, id)
	}
	return nil, nil
}

type mockMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{counts: make(map[string]int)}
}

func (m *mockMetrics) record(kind, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[kind+":"+result]++
}

func (m *mockMetrics) get(kind, result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[kind+":"+result]
}

func (m *mockMetrics) RecordSignup(result string)       { m.record("signup", result) }
func (m *mockMetrics) RecordLogin(result string)        { m.record("login", result) }
func (m *mockMetrics) RecordOTPSend(result string)      { m.record("otp_send", result) }
func (m *mockMetrics) RecordVerification(result string) { m.record("verify", result) }

// flakyOTPRepo はSaveのみ失敗させられるOTPリポジトリ。
type flakyOTPRepo struct {
	repository.OTPRepository
	saveErr error
}

func (r *flakyOTPRepo) Save(ctx context.Context, code *model.OTPCode) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	return r.OTPRepository.Save(ctx, code)
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ mail.Sender = (*mockSender)(nil)
var _ MetricsRecorder = (*mockMetrics)(nil)

// --- ヘルパー ---

var defaultConfig = ServiceConfig{PasswordMinLength: 5, OTPTTL: 10 * time.Minute}

type fixture struct {
	svc     *Service
	users   *repository.BuntUserRepo
	sender  *mockSender
	metrics *mockMetrics
}

func newFixture(t *testing.T, cfg ServiceConfig) *fixture {
	t.Helper()
	db, err := buntdb.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open buntdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		users:   repository.NewBuntUserRepo(db),
		sender:  &mockSender{},
		metrics: newMockMetrics(),
	}
	f.svc = NewService(f.users, repository.NewBuntOTPRepo(db), f.sender, f.metrics, cfg)
	return f
}

var sentCodePattern = regexp.MustCompile(`letter-spacing: 5px;">([0-9]{6})<`)

func codeFromMessage(t *testing.T, msg mail.Message) string {
	t.Helper()
	m := sentCodePattern.FindStringSubmatch(msg.HTMLBody)
	if m == nil {
		t.Fatalf("no otp found in email body")
	}
	return m[1]
}

func assertAPIError(t *testing.T, err error, code string) *model.APIError {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Fatalf("error code = %s, want %s (message: %s)", apiErr.Code, code, apiErr.Message)
	}
	return apiErr
}

// --- Register ---

func TestRegister_Success_CreatesUnverifiedUserAndSendsOTP(t *testing.T) {
	f := newFixture(t, defaultConfig)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if res.UserID == "" {
		t.Error("expected non-empty userId")
	}
	if !otp.Valid(res.OTP) {
		t.Errorf("OTP = %q, want 6-digit code", res.OTP)
	}

	stored, err := f.users.FindByEmail(ctx, "a@x.com")
	if err != nil || stored == nil {
		t.Fatalf("FindByEmail() = %v, %v", stored, err)
	}
	if stored.IsVerified {
		t.Error("new user must be unverified")
	}
	if strings.Contains(string(stored.PasswordHash), "secret1") {
		t.Error("password must not be stored in plaintext")
	}

	msgs := f.sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if msgs[0].To != "a@x.com" || msgs[0].Subject != otp.Subject {
		t.Errorf("message = %+v", msgs[0])
	}
	if got := codeFromMessage(t, msgs[0]); got != res.OTP {
		t.Errorf("emailed code = %q, returned code = %q", got, res.OTP)
	}

	if f.metrics.get("signup", ResultSuccess) != 1 || f.metrics.get("otp_send", ResultSuccess) != 1 {
		t.Errorf("unexpected metrics: %v", f.metrics.counts)
	}
}

func TestRegister_NormalizesEmail(t *testing.T) {
	f := newFixture(t, defaultConfig)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "  A@X.Com ", "secret1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	_, err := f.svc.Register(ctx, "a@X.COM", "secret1")
	assertAPIError(t, err, model.ErrCodeDuplicateEmail)
}

func TestRegister_ValidationErrors_DoNotTouchCollaborators(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		message  string
	}{
		{"email missing", "", "secret1", "Email is required"},
		{"email malformed", "not-an-email", "secret1", "Invalid email format"},
		{"email without tld", "a@x", "secret1", "Invalid email format"},
		{"password missing", "a@x.com", "", "Password is required"},
		{"password too short", "a@x.com", "abcd", "Password must be at least 5 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockUserRepo{
				findByEmailFn: func(context.Context, string) (*model.User, error) {
					t.Fatal("store must not be called on validation failure")
					return nil, nil
				},
			}
			sender := &mockSender{}
			svc := NewService(repo, nil, sender, nil, defaultConfig)

			_, err := svc.Register(context.Background(), tt.email, tt.password)
			apiErr := assertAPIError(t, err, model.ErrCodeValidation)
			if apiErr.Message != tt.message {
				t.Errorf("message = %q, want %q", apiErr.Message, tt.message)
			}
			if len(sender.messages()) != 0 {
				t.Error("sender must not be called on validation failure")
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t, defaultConfig)
	ctx := context.Background()

	first, err := f.svc.Register(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err = f.svc.Register(ctx, "a@x.com", "other")
	apiErr := assertAPIError(t, err, model.ErrCodeDuplicateEmail)
	if apiErr.Message != "Email already registered" {
		t.Errorf("message = %q", apiErr.Message)
	}

	stored, _ := f.users.FindByEmail(ctx, "a@x.com")
	if stored.ID != first.UserID {
		t.Error("existing user must be unchanged")
	}
	if len(f.sender.messages()) != 1 {
		t.Error("no email must be sent for a duplicate signup")
	}
}

func TestRegister_ConflictOnInsert_ReturnsDuplicateEmail(t *testing.T) {
	repo := &mockUserRepo{
		createFn: func(context.Context, *model.User) error {
			return repository.ErrDuplicateEmail
		},
	}
	svc := NewService(repo, nil, &mockSender{}, nil, defaultConfig)

	_, err := svc.Register(context.Background(), "a@x.com", "secret1")
	assertAPIError(t, err, model.ErrCodeDuplicateEmail)
}

func TestRegister_ConcurrentSameEmail_ExactlyOneSucceeds(t *testing.T) {
	f := newFixture(t, defaultConfig)

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Register(context.Background(), "race@x.com", "secret1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assertAPIError(t, err, model.ErrCodeDuplicateEmail)
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", succeeded)
	}
}

func TestRegister_SendFailure_IsSwallowed(t *testing.T) {
	f := newFixture(t, defaultConfig)
	f.sender.sendFn = func(context.Context, mail.Message) error {
		return errors.New("smtp unavailable")
	}

	res, err := f.svc.Register(context.Background(), "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v, want nil", err)
	}
	if res.UserID == "" || !otp.Valid(res.OTP) {
		t.Errorf("result = %+v", res)
	}
	if f.metrics.get("otp_send", ResultFailure) != 1 {
		t.Error("expected otp send failure to be recorded")
	}
}

func TestRegister_LogsOmitEmail(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	f := newFixture(t, defaultConfig)
	f.sender.sendFn = func(context.Context, mail.Message) error { return errors.New("smtp unavailable") }

	res, err := f.svc.Register(context.Background(), "secret.person@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	logs := buf.String()
	if !strings.Contains(logs, res.UserID) {
		t.Errorf("logs should reference user_id: %s", logs)
	}
	if strings.Contains(logs, "secret.person") {
		t.Errorf("logs leak email: %s", logs)
	}
}

func TestRegister_StoreFailure_ReturnsWrappedError(t *testing.T) {
	storeErr := errors.New("connection refused")
	repo := &mockUserRepo{
		findByEmailFn: func(context.Context, string) (*model.User, error) {
			return nil, storeErr
		},
	}
	sender := &mockSender{}
	svc := NewService(repo, nil, sender, nil, defaultConfig)

	_, err := svc.Register(context.Background(), "a@x.com", "secret1")
	if !errors.Is(err, storeErr) {
		t.Fatalf("error = %v, want wrapped store error", err)
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Error("store failure must not be reported as a client error")
	}
	if len(sender.messages()) != 0 {
		t.Error("sender must not be called when the store fails")
	}
}

// --- Authenticate ---

func TestAuthenticate_Success(t *testing.T) {
	f := newFixture(t, defaultConfig)
	ctx := context.Background()

	reg, _ := f.svc.Register(ctx, "a@x.com", "secret1")

	view, err := f.svc.Authenticate(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if view.ID != reg.UserID || view.Email != "a@x.com" || view.IsVerified {
		t.Errorf("view = %+v", view)
	}
}

func TestAuthenticate_WrongPasswordAndUnknownEmail_AreIndistinguishable(t *testing.T) {
	f := newFixture(t, defaultConfig)
	ctx := context.Background()
	f.svc.Register(ctx, "a@x.com", "secret1")

	_, errWrong := f.svc.Authenticate(ctx, "a@x.com", "wrong-password")
	_, errUnknown := f.svc.Authenticate(ctx, "nobody@x.com", "secret1")

	wrong := assertAPIError(t, errWrong, model.ErrCodeInvalidCredentials)
	unknown := assertAPIError(t, errUnknown, model.ErrCodeInvalidCredentials)
	if wrong.Message != unknown.Message {
		t.Errorf("messages differ: %q vs %q", wrong.Message, unknown.Message)
	}
	if f.metrics.get("login", ResultFailure) != 2 {
		t.Errorf("login failures = %d, want 2", f.metrics.get("login", ResultFailure))
	}
}

func TestAuthenticate_UnknownEmail_StillDerivesHash(t *testing.T) {
	f := newFixture(t, defaultConfig)
	ctx := context.Background()

	var salts [][]byte
	f.svc.compare = func(hash, salt []byte, plain string) bool {
		salts = append(salts, salt)
		return password.Compare(hash, salt, plain)
	}

	_, err := f.svc.Authenticate(ctx, "nobody@x.com", "secret1")
	assertAPIError(t, err, model.ErrCodeInvalidCredentials)

	if len(salts) != 1 {
		t.Fatalf("compare called %d times, want 1", len(salts))
	}
	// 空のソルトではCompareが導出を省略してしまう
	if len(salts[0]) != password.SaltLength {
		t.Errorf("salt length = %d, want %d", len(salts[0]), password.SaltLength)
	}
}

func TestAuthenticate_ValidationError(t *testing.T) {
	f := newFixture(t, defaultConfig)

	_, err := f.svc.Authenticate(context.Background(), "bad", "secret1")
	assertAPIError(t, err, model.ErrCodeValidation)

	_, err = f.svc.Authenticate(context.Background(), "a@x.com", "")
	assertAPIError(t, err, model.ErrCodeValidation)
}

// --- SendOTP ---

func TestSendOTP_Success(t *testing.T) {
	f := newFixture(t, defaultConfig)

	if err := f.svc.SendOTP(context.Background(), "a@x.com", "654321"); err != nil {
		t.Fatalf("SendOTP() error = %v", err)
	}

	msgs := f.sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if msgs[0].To != "a@x.com" {
		t.Errorf("To = %q", msgs[0].To)
	}
	if got := codeFromMessage(t, msgs[0]); got != "654321" {
		t.Errorf("emailed code = %q, want 654321", got)
	}
}

func TestSendOTP_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		code    string
		message string
	}{
		{"email missing", "", "123456", "Email and OTP are required"},
		{"otp missing", "a@x.com", "", "Email and OTP are required"},
		{"email malformed", "a@@x", "123456", "Invalid email format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultConfig)

			err := f.svc.SendOTP(context.Background(), tt.email, tt.code)
			apiErr := assertAPIError(t, err, model.ErrCodeValidation)
			if apiErr.Message != tt.message {
				t.Errorf("message = %q, want %q", apiErr.Message, tt.message)
			}
			if len(f.sender.messages()) != 0 {
				t.Error("sender must not be called on validation failure")
			}
		})
	}
}

func TestSendOTP_SendFailure_IsSurfaced(t *testing.T) {
	f := newFixture(t, defaultConfig)
	sendErr := errors.New("smtp unavailable")
	f.sender.sendFn = func(context.Context, mail.Message) error { return sendErr }

	err := f.svc.SendOTP(context.Background(), "a@x.com", "123456")
	if !errors.Is(err, sendErr) {
		t.Fatalf("error = %v, want wrapped send error", err)
	}
}

// --- ConfirmVerification ---

func TestConfirmVerification_SetsFlagAndIsIdempotent(t *testing.T) {
	f := newFixture(t, defaultConfig)
	ctx := context.Background()

	reg, _ := f.svc.Register(ctx, "a@x.com", "secret1")

	for i := 0; i < 2; i++ {
		view, err := f.svc.ConfirmVerification(ctx, reg.UserID, "")
		if err != nil {
			t.Fatalf("ConfirmVerification() #%d error = %v", i+1, err)
		}
		if view.ID != reg.UserID || view.Email != "a@x.com" || !view.IsVerified {
			t.Errorf("view #%d = %+v", i+1, view)
		}
	}

	login, _ := f.svc.Authenticate(ctx, "a@x.com", "secret1")
	if !login.IsVerified {
		t.Error("login must report verified user")
	}
}

func TestConfirmVerification_MissingUserID(t *testing.T) {
	f := newFixture(t, defaultConfig)

	_, err := f.svc.ConfirmVerification(context.Background(), "  ", "")
	apiErr := assertAPIError(t, err, model.ErrCodeValidation)
	if apiErr.Message != "User ID is required" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestConfirmVerification_UnknownUser(t *testing.T) {
	f := newFixture(t, defaultConfig)

	_, err := f.svc.ConfirmVerification(context.Background(), "no-such-user", "")
	apiErr := assertAPIError(t, err, model.ErrCodeUserNotFound)
	if apiErr.Message != "User not found" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

// --- 一連のシナリオ ---

func TestScenario_RegisterDuplicateLoginVerify(t *testing.T) {
	f := newFixture(t, defaultConfig)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !otp.Valid(reg.OTP) {
		t.Errorf("OTP = %q", reg.OTP)
	}

	_, err = f.svc.Register(ctx, "a@x.com", "other")
	assertAPIError(t, err, model.ErrCodeDuplicateEmail)

	login, err := f.svc.Authenticate(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if login.IsVerified {
		t.Error("expected isVerified = false before verification")
	}

	verified, err := f.svc.ConfirmVerification(ctx, reg.UserID, reg.OTP)
	if err != nil {
		t.Fatalf("ConfirmVerification() error = %v", err)
	}
	if !verified.IsVerified {
		t.Error("expected isVerified = true after verification")
	}
}

// --- OTP強制モード ---

func enforcedConfig() ServiceConfig {
	cfg := defaultConfig
	cfg.EnforceOTP = true
	return cfg
}

func TestEnforcedOTP_RegisterDoesNotReturnCode(t *testing.T) {
	f := newFixture(t, enforcedConfig())

	res, err := f.svc.Register(context.Background(), "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if res.OTP != "" {
		t.Errorf("OTP = %q, want empty in enforced mode", res.OTP)
	}
	if len(f.sender.messages()) != 1 {
		t.Error("code must still be emailed")
	}
}

func TestEnforcedOTP_ConfirmVerification(t *testing.T) {
	f := newFixture(t, enforcedConfig())
	ctx := context.Background()

	res, _ := f.svc.Register(ctx, "a@x.com", "secret1")
	code := codeFromMessage(t, f.sender.messages()[0])

	_, err := f.svc.ConfirmVerification(ctx, res.UserID, "")
	assertAPIError(t, err, model.ErrCodeValidation)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = f.svc.ConfirmVerification(ctx, res.UserID, wrong)
	assertAPIError(t, err, model.ErrCodeInvalidOTP)

	_, err = f.svc.ConfirmVerification(ctx, "no-such-user", code)
	assertAPIError(t, err, model.ErrCodeUserNotFound)

	view, err := f.svc.ConfirmVerification(ctx, res.UserID, code)
	if err != nil {
		t.Fatalf("ConfirmVerification() error = %v", err)
	}
	if !view.IsVerified {
		t.Error("expected verified user")
	}

	// 一致したコードは消費される
	_, err = f.svc.ConfirmVerification(ctx, res.UserID, code)
	assertAPIError(t, err, model.ErrCodeInvalidOTP)

	if f.metrics.get("verify", ResultInvalidOTP) != 2 || f.metrics.get("verify", ResultSuccess) != 1 {
		t.Errorf("unexpected metrics: %v", f.metrics.counts)
	}
}

func TestEnforcedOTP_ExpiredCode(t *testing.T) {
	f := newFixture(t, enforcedConfig())
	ctx := context.Background()

	base := time.Now()
	f.svc.now = func() time.Time { return base }
	res, _ := f.svc.Register(ctx, "a@x.com", "secret1")
	code := codeFromMessage(t, f.sender.messages()[0])

	f.svc.now = func() time.Time { return base.Add(10 * time.Minute) }
	_, err := f.svc.ConfirmVerification(ctx, res.UserID, code)
	assertAPIError(t, err, model.ErrCodeInvalidOTP)
}

func TestEnforcedOTP_ResendAfterFailedSignupEmail(t *testing.T) {
	f := newFixture(t, enforcedConfig())
	ctx := context.Background()

	f.sender.sendFn = func(context.Context, mail.Message) error { return errors.New("smtp down") }
	res, err := f.svc.Register(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	f.sender.sendFn = nil

	// 呼び出し元のコードは使われない
	if err := f.svc.SendOTP(ctx, "A@X.com", ""); err != nil {
		t.Fatalf("SendOTP() error = %v", err)
	}
	msgs := f.sender.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	code := codeFromMessage(t, msgs[1])

	view, err := f.svc.ConfirmVerification(ctx, res.UserID, code)
	if err != nil {
		t.Fatalf("ConfirmVerification() error = %v", err)
	}
	if !view.IsVerified {
		t.Error("expected verified user")
	}
}

func TestEnforcedOTP_ResendReplacesPreviousCode(t *testing.T) {
	f := newFixture(t, enforcedConfig())
	ctx := context.Background()

	res, _ := f.svc.Register(ctx, "a@x.com", "secret1")
	first := codeFromMessage(t, f.sender.messages()[0])

	if err := f.svc.SendOTP(ctx, "a@x.com", "123456"); err != nil {
		t.Fatalf("SendOTP() error = %v", err)
	}
	second := codeFromMessage(t, f.sender.messages()[1])

	if first != second {
		_, err := f.svc.ConfirmVerification(ctx, res.UserID, first)
		assertAPIError(t, err, model.ErrCodeInvalidOTP)
	}
	if _, err := f.svc.ConfirmVerification(ctx, res.UserID, second); err != nil {
		t.Fatalf("ConfirmVerification() error = %v", err)
	}
}

func TestEnforcedOTP_ResendAfterExpiry(t *testing.T) {
	f := newFixture(t, enforcedConfig())
	ctx := context.Background()

	base := time.Now()
	f.svc.now = func() time.Time { return base }
	res, _ := f.svc.Register(ctx, "a@x.com", "secret1")

	f.svc.now = func() time.Time { return base.Add(time.Hour) }
	if err := f.svc.SendOTP(ctx, "a@x.com", ""); err != nil {
		t.Fatalf("SendOTP() error = %v", err)
	}
	code := codeFromMessage(t, f.sender.messages()[1])

	if _, err := f.svc.ConfirmVerification(ctx, res.UserID, code); err != nil {
		t.Fatalf("ConfirmVerification() error = %v", err)
	}
}

func TestEnforcedOTP_ResendToUnknownOrVerifiedEmailSendsNothing(t *testing.T) {
	f := newFixture(t, enforcedConfig())
	ctx := context.Background()

	if err := f.svc.SendOTP(ctx, "nobody@x.com", ""); err != nil {
		t.Fatalf("SendOTP() unknown error = %v", err)
	}

	res, _ := f.svc.Register(ctx, "a@x.com", "secret1")
	code := codeFromMessage(t, f.sender.messages()[0])
	if _, err := f.svc.ConfirmVerification(ctx, res.UserID, code); err != nil {
		t.Fatalf("ConfirmVerification() error = %v", err)
	}
	if err := f.svc.SendOTP(ctx, "a@x.com", ""); err != nil {
		t.Fatalf("SendOTP() verified error = %v", err)
	}

	if n := len(f.sender.messages()); n != 1 {
		t.Errorf("sent %d messages, want 1 (signup only)", n)
	}
	if f.metrics.get("otp_send", ResultNotFound) != 2 {
		t.Errorf("unexpected metrics: %v", f.metrics.counts)
	}
}

func TestEnforcedOTP_ResendValidation(t *testing.T) {
	f := newFixture(t, enforcedConfig())

	err := f.svc.SendOTP(context.Background(), " ", "")
	assertAPIError(t, err, model.ErrCodeValidation)

	err = f.svc.SendOTP(context.Background(), "not-an-email", "")
	assertAPIError(t, err, model.ErrCodeValidation)

	if len(f.sender.messages()) != 0 {
		t.Error("sender must not be called on validation failure")
	}
}

func TestEnforcedOTP_ResendSendFailure_IsSurfaced(t *testing.T) {
	f := newFixture(t, enforcedConfig())
	ctx := context.Background()

	f.svc.Register(ctx, "a@x.com", "secret1")
	sendErr := errors.New("smtp down")
	f.sender.sendFn = func(context.Context, mail.Message) error { return sendErr }

	if err := f.svc.SendOTP(ctx, "a@x.com", ""); !errors.Is(err, sendErr) {
		t.Fatalf("error = %v, want wrapped send error", err)
	}
}

func TestEnforcedOTP_SaveFailureOnSignup_IsRecoverable(t *testing.T) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open buntdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	otps := &flakyOTPRepo{OTPRepository: repository.NewBuntOTPRepo(db), saveErr: errors.New("write failed")}
	sender := &mockSender{}
	svc := NewService(repository.NewBuntUserRepo(db), otps, sender, nil, enforcedConfig())
	ctx := context.Background()

	res, err := svc.Register(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(sender.messages()) != 0 {
		t.Error("an unsaved code must not be emailed")
	}

	otps.saveErr = nil
	if err := svc.SendOTP(ctx, "a@x.com", ""); err != nil {
		t.Fatalf("SendOTP() error = %v", err)
	}
	code := codeFromMessage(t, sender.messages()[0])
	if _, err := svc.ConfirmVerification(ctx, res.UserID, code); err != nil {
		t.Fatalf("ConfirmVerification() error = %v", err)
	}
}

func TestEnforcedOTP_MalformedCode_IsInvalid(t *testing.T) {
	f := newFixture(t, enforcedConfig())
	ctx := context.Background()

	res, _ := f.svc.Register(ctx, "a@x.com", "secret1")

	for _, code := range []string{"12345", "1234567", "abcdef"} {
		_, err := f.svc.ConfirmVerification(ctx, res.UserID, code)
		assertAPIError(t, err, model.ErrCodeInvalidOTP)
	}
}

func TestNewService_NilSender_UsesDisabledSender(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil, nil, nil, defaultConfig)

	err := svc.SendOTP(context.Background(), "a@x.com", "123456")
	if !errors.Is(err, mail.ErrNotConfigured) {
		t.Fatalf("error = %v, want ErrNotConfigured", err)
	}
}
