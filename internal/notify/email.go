package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"surgetrader/internal/models"
)

// EmailConfig параметры SMTP
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender отправка через SMTP (PLAIN auth, STARTTLS если сервер поддерживает)
type EmailSender struct {
	cfg      EmailConfig
	sendMail sendMailFunc
}

// NewEmailSender создаёт канал email
func NewEmailSender(cfg EmailConfig) *EmailSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailSender{cfg: cfg, sendMail: smtp.SendMail}
}

func (e *EmailSender) Name() string { return "email" }

func (e *EmailSender) Send(ctx context.Context, n *models.Notification) error {
	if len(e.cfg.To) == 0 {
		return fmt.Errorf("email: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(e.cfg.Host, fmt.Sprint(e.cfg.Port))
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	// net/smtp не принимает ctx: отправка в горутине, ожидание ограничено ctx
	errCh := make(chan error, 1)
	msg := e.message(n)
	go func() { errCh <- e.sendMail(addr, auth, e.cfg.From, e.cfg.To, msg) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("email: send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email: %w", ctx.Err())
	}
}

func (e *EmailSender) message(n *models.Notification) []byte {
	var b strings.Builder
	b.WriteString("From: " + e.cfg.From + "\r\n")
	b.WriteString("To: " + strings.Join(e.cfg.To, ", ") + "\r\n")
	b.WriteString("Subject: [surgetrader] " + title(n) + "\r\n")
	b.WriteString("Date: " + n.Timestamp.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(n.Message + "\r\n")
	for k, v := range n.Meta {
		b.WriteString(fmt.Sprintf("%s: %v\r\n", k, v))
	}
	return []byte(b.String())
}
