// Package mail は通知メールの送信を提供する。
package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// ErrNotConfigured はSMTP認証情報が設定されていない場合に返るエラー。
var ErrNotConfigured = errors.New("mail sender is not configured")

// Message は送信するメールを表す。
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// Sender はメール送信のインターフェース。
// 実装は自身のタイムアウトで有限時間内に失敗を返すこと。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender はSMTP経由でメールを送信するSender実装。
type SMTPSender struct {
	config SMTPConfig
}

// NewSMTPSender はSMTPSenderを生成する。
func NewSMTPSender(config SMTPConfig) *SMTPSender {
	if config.From == "" {
		config.From = config.Username
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &SMTPSender{config: config}
}

// Send はメールを1通送信する。リトライは行わない。
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := s.buildMsg(msg)
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(s.config.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// buildMsg はMessageからgo-mailのメッセージを組み立てる。
func (s *SMTPSender) buildMsg(msg Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(s.config.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextHTML, msg.HTMLBody)
	return m, nil
}

func (s *SMTPSender) clientOptions() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(s.config.Port),
		gomail.WithTimeout(s.config.Timeout),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.config.Username),
		gomail.WithPassword(s.config.Password),
	}
	// 465はimplicit TLS、それ以外はSTARTTLSを必須とする
	if s.config.Port == 465 {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	return opts
}

// DisabledSender は認証情報が未設定の環境で使用するSender実装。
// 常にErrNotConfiguredを返す。
type DisabledSender struct{}

// Send はErrNotConfiguredを返す。
func (DisabledSender) Send(_ context.Context, _ Message) error {
	return ErrNotConfigured
}

// compile-time interface check
var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = DisabledSender{}
)
