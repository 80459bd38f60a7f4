package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/liaizen/coparent/internal/services/connections/identity"
)

// SMTPConfig configures outbound mail.
type SMTPConfig struct {
	Host     string `env:"COPARENT_SMTP_HOST"`
	Port     int    `env:"COPARENT_SMTP_PORT" envDefault:"587"`
	Username string `env:"COPARENT_SMTP_USERNAME"`
	Password string `env:"COPARENT_SMTP_PASSWORD"`
	From     string `env:"COPARENT_SMTP_FROM" envDefault:"no-reply@coparent.local"`
}

// Enabled reports whether a mail host is configured.
func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != ""
}

// IdentityResolver finds the email of an account.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, accountID string) (identity.Identity, error)
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails notices through an SMTP relay.
type SMTPNotifier struct {
	cfg        SMTPConfig
	identities IdentityResolver
	send       sendFunc
}

// NewSMTPNotifier builds a mail notifier. identities resolves initiator
// addresses for outcome notices.
func NewSMTPNotifier(cfg SMTPConfig, identities IdentityResolver) (*SMTPNotifier, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if identities == nil {
		return nil, fmt.Errorf("identity resolver is required")
	}
	return &SMTPNotifier{cfg: cfg, identities: identities, send: smtp.SendMail}, nil
}

func (n *SMTPNotifier) SendInvite(_ context.Context, targetEmail, inviterName, link string) error {
	body := fmt.Sprintf("%s invited you to connect as co-parents.\r\n\r\nAccept the invitation: %s\r\n", inviterName, link)
	return n.mail(targetEmail, inviterName+" invited you to co-parent", body)
}

func (n *SMTPNotifier) NotifyAccepted(ctx context.Context, initiatorID, accepterName string) error {
	to, err := n.emailOf(ctx, initiatorID)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("%s accepted your invitation. Your shared room is ready.\r\n", accepterName)
	return n.mail(to, "Your co-parent invitation was accepted", body)
}

func (n *SMTPNotifier) NotifyDeclined(ctx context.Context, initiatorID string) error {
	to, err := n.emailOf(ctx, initiatorID)
	if err != nil {
		return err
	}
	return n.mail(to, "Your co-parent invitation was declined", "Your invitation was declined.\r\n")
}

func (n *SMTPNotifier) emailOf(ctx context.Context, accountID string) (string, error) {
	ident, err := n.identities.ResolveIdentity(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("resolve recipient %s: %w", accountID, err)
	}
	if ident.Email == "" {
		return "", fmt.Errorf("recipient %s has no email", accountID)
	}
	return ident.Email, nil
}

func (n *SMTPNotifier) mail(to, subject, body string) error {
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("header values must not contain line breaks")
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.send(addr, auth, n.cfg.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

var _ Notifier = (*SMTPNotifier)(nil)
