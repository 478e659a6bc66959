package notifications

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
)

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender relays mail through an SMTP server.
type SMTPSender struct {
	addr     string
	from     string
	auth     smtp.Auth
	sendMail sendMailFunc
}

// NewSender returns an SMTP sender, or a log-only sender when no relay host
// is configured.
func NewSender(cfg config.SMTPConfig, logg *logger.Logger) Sender {
	if !cfg.Enabled() {
		return &LogSender{logg: logg}
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPSender{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from:     cfg.From,
		auth:     auth,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := msg.Encode(s.from)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := s.sendMail(s.addr, s.auth, s.from, []string{msg.To}, raw); err != nil {
		return fmt.Errorf("smtp send to %s: %w", s.addr, err)
	}
	return nil
}

// LogSender records messages instead of delivering them.
type LogSender struct {
	logg *logger.Logger
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if s.logg == nil {
		return nil
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"to":          msg.To,
		"subject":     msg.Subject,
		"attachments": len(msg.Attachments),
	}), "smtp disabled, email logged only")
	return nil
}
