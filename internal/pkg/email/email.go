package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/coveworks/memberd/config"
)

// Message is one outbound mail.
type Message struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	Body    string
}

// Sender delivers mail. Tests substitute a recording fake.
type Sender interface {
	Send(msg *Message) error
}

type Service struct {
	cfg *config.EmailConfig
}

func NewService(cfg *config.EmailConfig) *Service {
	return &Service{cfg: cfg}
}

func (s *Service) Send(msg *Message) error {
	from := msg.From
	if from == "" {
		from = s.cfg.From
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	}

	recipients := append(append([]string{}, msg.To...), msg.Cc...)
	return smtp.SendMail(addr, auth, from, recipients, []byte(b.String()))
}
