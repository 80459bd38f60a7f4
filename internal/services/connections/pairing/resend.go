package pairing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/liaizen/coparent/internal/platform/errors"
	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

// ResendResult carries the replacement secret of a resent request.
type ResendResult struct {
	Request   request.ConnectionRequest
	Token     string
	ShortCode string
	InviteURL string
	ExpiresAt time.Time
}

// Resend replaces the secret and window of a pending request. Token
// channels get a new token and keep their code; code requests get a new code.
func (s *Service) Resend(ctx context.Context, requestID string, actorID string) (ResendResult, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ResendResult{}, apperrors.New(apperrors.CodeActorRequired, "resending account is required")
	}
	req, err := s.ownedRequest(ctx, requestID, actorID)
	if err != nil {
		return ResendResult{}, err
	}
	if req.Status != request.StatusPending {
		return ResendResult{}, resolvedError(req.Status)
	}
	if req.ExpiredAt(s.now()) {
		s.expireLazily(ctx, req)
		return ResendResult{}, apperrors.New(apperrors.CodeRequestExpired, "request expired")
	}

	var lastErr error
	for attempt := 0; attempt < maxSecretAttempts; attempt++ {
		now := s.now()
		params := storage.ReissueParams{
			RequestID:   req.ID,
			InitiatorID: actorID,
			ExpiresAt:   now.Add(s.windows.forChannel(req.Channel)),
			Audit: request.AuditEntry{
				Action:    request.ActionResent,
				ActorID:   actorID,
				CreatedAt: now,
				Metadata:  map[string]string{request.MetaChannel: string(req.Channel)},
			},
		}
		var token string
		if req.Channel.IssuesToken() {
			if token, params.TokenHash, err = s.secrets.NewToken(); err != nil {
				return ResendResult{}, apperrors.Wrap(apperrors.CodeUnknown, "generate token", err)
			}
		} else if params.ShortCode, err = s.freshCode(ctx); err != nil {
			return ResendResult{}, err
		}

		updated, err := s.store.Reissue(ctx, params)
		if errors.Is(err, storage.ErrDuplicate) {
			lastErr = err
			continue
		}
		if err != nil {
			return ResendResult{}, s.transitionError(ctx, req.ID, err)
		}

		result := ResendResult{
			Request:   updated,
			Token:     token,
			ShortCode: updated.ShortCode,
			InviteURL: s.inviteLink(token),
			ExpiresAt: updated.ExpiresAt,
		}
		s.logger.Info("request resent", zap.String("request_id", req.ID))
		if updated.Channel == request.ChannelEmail && s.notifier != nil {
			if err := s.notifier.SendInvite(ctx, updated.TargetEmail, updated.InitiatorName, result.InviteURL); err != nil {
				s.logger.Warn("send invite", zap.String("request_id", req.ID), zap.Error(err))
			}
		}
		return result, nil
	}
	return ResendResult{}, storageFault("reissue request", fmt.Errorf("no unique secret after %d attempts: %w", maxSecretAttempts, lastErr))
}
