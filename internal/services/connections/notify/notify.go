// Package notify delivers invitation and outcome notices. Every notifier is
// best-effort: callers log failures and never roll back protocol state.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/liaizen/coparent/internal/platform/logging"
)

// Notifier sends protocol notices.
type Notifier interface {
	SendInvite(ctx context.Context, targetEmail, inviterName, link string) error
	NotifyAccepted(ctx context.Context, initiatorID, accepterName string) error
	NotifyDeclined(ctx context.Context, initiatorID string) error
}

// LogNotifier records notices in the service log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a notifier that only logs.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrNop(logger).Named("notify")}
}

// SendInvite logs the invite; the link carries a secret and is debug-only.
func (n *LogNotifier) SendInvite(_ context.Context, targetEmail, inviterName, link string) error {
	n.logger.Info("invite issued", zap.String("to", targetEmail), zap.String("inviter", inviterName))
	n.logger.Debug("invite link", zap.String("to", targetEmail), zap.String("link", link))
	return nil
}

func (n *LogNotifier) NotifyAccepted(_ context.Context, initiatorID, accepterName string) error {
	n.logger.Info("invite accepted", zap.String("initiator_id", initiatorID), zap.String("accepter", accepterName))
	return nil
}

func (n *LogNotifier) NotifyDeclined(_ context.Context, initiatorID string) error {
	n.logger.Info("invite declined", zap.String("initiator_id", initiatorID))
	return nil
}

// Multi fans every notice out to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) SendInvite(ctx context.Context, targetEmail, inviterName, link string) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.SendInvite(ctx, targetEmail, inviterName, link))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyAccepted(ctx context.Context, initiatorID, accepterName string) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyAccepted(ctx, initiatorID, accepterName))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyDeclined(ctx context.Context, initiatorID string) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyDeclined(ctx, initiatorID))
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
