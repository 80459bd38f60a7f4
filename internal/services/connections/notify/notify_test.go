package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/liaizen/coparent/internal/services/connections/identity"
)

type fakeResolver map[string]identity.Identity

func (f fakeResolver) ResolveIdentity(_ context.Context, accountID string) (identity.Identity, error) {
	ident, ok := f[accountID]
	if !ok {
		return identity.Identity{}, errors.New("unknown account")
	}
	return ident, nil
}

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestSMTP(t *testing.T) (*SMTPNotifier, *[]sentMail) {
	t.Helper()
	n, err := NewSMTPNotifier(SMTPConfig{Host: "mail.example.com", Port: 25, From: "noreply@example.com"},
		fakeResolver{"acct-a": {AccountID: "acct-a", Email: "a@example.com"}})
	if err != nil {
		t.Fatalf("new smtp notifier: %v", err)
	}
	var sent []sentMail
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return n, &sent
}

func TestSMTPSendInvite(t *testing.T) {
	n, sent := newTestSMTP(t)
	if err := n.SendInvite(context.Background(), "b@example.com", "Alice", "https://app/accept?token=abc"); err != nil {
		t.Fatalf("send invite: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("sent = %d", len(*sent))
	}
	mail := (*sent)[0]
	if mail.addr != "mail.example.com:25" || mail.to[0] != "b@example.com" {
		t.Fatalf("mail = %+v", mail)
	}
	if !strings.Contains(mail.msg, "Subject: Alice invited you to co-parent") || !strings.Contains(mail.msg, "token=abc") {
		t.Fatalf("message = %q", mail.msg)
	}
}

func TestSMTPOutcomeNoticesResolveInitiator(t *testing.T) {
	n, sent := newTestSMTP(t)
	if err := n.NotifyAccepted(context.Background(), "acct-a", "Bob"); err != nil {
		t.Fatalf("notify accepted: %v", err)
	}
	if err := n.NotifyDeclined(context.Background(), "acct-a"); err != nil {
		t.Fatalf("notify declined: %v", err)
	}
	if len(*sent) != 2 || (*sent)[0].to[0] != "a@example.com" {
		t.Fatalf("sent = %+v", *sent)
	}
	if err := n.NotifyDeclined(context.Background(), "acct-missing"); err == nil {
		t.Fatal("expected resolve error")
	}
}

func TestSMTPRejectsHeaderInjection(t *testing.T) {
	n, sent := newTestSMTP(t)
	if err := n.SendInvite(context.Background(), "b@example.com\r\nBcc: x@example.com", "Alice", "link"); err == nil {
		t.Fatal("expected header injection error")
	}
	if len(*sent) != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestNewSMTPNotifierValidates(t *testing.T) {
	if _, err := NewSMTPNotifier(SMTPConfig{}, fakeResolver{}); err == nil {
		t.Fatal("expected host error")
	}
	if _, err := NewSMTPNotifier(SMTPConfig{Host: "h", From: "f"}, nil); err == nil {
		t.Fatal("expected resolver error")
	}
}

func TestLogNotifierRedactsLinkAtInfo(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))
	if err := n.SendInvite(context.Background(), "b@example.com", "Alice", "https://app/accept?token=secret"); err != nil {
		t.Fatalf("send invite: %v", err)
	}
	for _, entry := range logs.All() {
		for _, field := range entry.Context {
			if strings.Contains(field.String, "token=secret") {
				t.Fatalf("link leaked at info level: %+v", entry)
			}
		}
	}
	if logs.Len() != 1 {
		t.Fatalf("log entries = %d, want 1", logs.Len())
	}
}

type failingNotifier struct{ LogNotifier }

func (failingNotifier) NotifyDeclined(context.Context, string) error { return errors.New("down") }

func TestMultiJoinsErrors(t *testing.T) {
	m := Multi{NewLogNotifier(nil), &failingNotifier{LogNotifier: *NewLogNotifier(nil)}}
	if err := m.NotifyDeclined(context.Background(), "acct-a"); err == nil {
		t.Fatal("expected joined error")
	}
	if err := m.NotifyAccepted(context.Background(), "acct-a", "Bob"); err != nil {
		t.Fatalf("accepted: %v", err)
	}
}
