package pairing

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	apperrors "github.com/liaizen/coparent/internal/platform/errors"
	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

// CreateInput asks for a new invitation.
type CreateInput struct {
	Initiator   identity.Identity
	Channel     request.Channel
	TargetEmail string
}

// CreateResult is a freshly issued invitation, or the acceptance it turned
// into when the target had already invited the initiator.
type CreateResult struct {
	Request request.ConnectionRequest
	// Token is the plaintext secret, returned only here.
	Token     string
	ShortCode string
	InviteURL string
	// Superseded lists earlier code requests retired by this one.
	Superseded []string
	Mutual     bool
	Acceptance *AcceptResult
}

// Create issues an invitation on the requested channel.
func (s *Service) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "pairing.Create")
	defer span.End()
	span.SetAttributes(attribute.String("pairing.channel", string(in.Channel)))

	result, err := s.create(ctx, in)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("pairing.error_code", string(apperrors.CodeOf(err))))
		return CreateResult{}, err
	}
	span.SetAttributes(
		attribute.String("pairing.request_id", result.Request.ID),
		attribute.Bool("pairing.mutual", result.Mutual),
	)
	return result, nil
}

func (s *Service) create(ctx context.Context, in CreateInput) (CreateResult, error) {
	initiator := in.Initiator
	initiator.AccountID = strings.TrimSpace(initiator.AccountID)
	initiator.Email = request.NormalizeEmail(initiator.Email)
	if initiator.AccountID == "" {
		return CreateResult{}, apperrors.New(apperrors.CodeInitiatorRequired, "initiator is required")
	}
	channel, ok := request.ParseChannel(string(in.Channel))
	if !ok {
		return CreateResult{}, apperrors.New(apperrors.CodeChannelInvalid, "channel must be email, link or code")
	}

	var target string
	if channel == request.ChannelEmail {
		var err error
		if target, err = normalizeTargetEmail(in.TargetEmail); err != nil {
			return CreateResult{}, err
		}
		if target == initiator.Email {
			return CreateResult{}, apperrors.New(apperrors.CodeSelfInvite, "cannot invite your own email")
		}
	}

	if _, err := s.store.GetPairForAccount(ctx, initiator.AccountID); err == nil {
		return CreateResult{}, apperrors.New(apperrors.CodeAlreadyConnected, "initiator is already paired")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return CreateResult{}, storageFault("check initiator pairing", err)
	}

	if channel == request.ChannelEmail && initiator.Email != "" {
		if result, handled, err := s.resolveReciprocal(ctx, initiator, target); handled || err != nil {
			return result, err
		}
	}

	if channel != request.ChannelCode {
		open, err := s.store.ListPendingByInitiator(ctx, initiator.AccountID, s.now())
		if err != nil {
			return CreateResult{}, storageFault("list open requests", err)
		}
		for _, req := range open {
			if req.Channel == channel {
				return CreateResult{}, duplicatePending(req.ID)
			}
		}
	}

	result, err := s.insertPending(ctx, initiator, channel, target)
	if err != nil {
		return CreateResult{}, err
	}

	if channel == request.ChannelEmail && initiator.Email != "" {
		if mutual, handled, err := s.recheckReciprocal(ctx, initiator, target, result.Request); handled {
			return mutual, err
		}
	}

	if channel == request.ChannelEmail && s.notifier != nil {
		if err := s.notifier.SendInvite(ctx, target, initiator.Name(), result.InviteURL); err != nil {
			s.logger.Warn("send invite", zap.String("request_id", result.Request.ID), zap.Error(err))
		}
	}
	return result, nil
}

func normalizeTargetEmail(raw string) (string, error) {
	target := request.NormalizeEmail(raw)
	if target == "" {
		return "", apperrors.New(apperrors.CodeTargetEmailRequired, "target email is required for email invitations")
	}
	addr, err := mail.ParseAddress(target)
	if err != nil || addr.Address != target {
		return "", apperrors.Wrap(apperrors.CodeTargetEmailInvalid, "target email is invalid", err)
	}
	return target, nil
}

func duplicatePending(requestID string) error {
	return apperrors.WithMetadata(
		apperrors.CodeDuplicatePending,
		"initiator already has a pending request on this channel",
		map[string]string{"RequestID": requestID},
	)
}

// insertPending mints secrets and stores the request, regenerating on
// collisions with the pending set.
func (s *Service) insertPending(ctx context.Context, initiator identity.Identity, channel request.Channel, target string) (CreateResult, error) {
	requestID, err := s.newID()
	if err != nil {
		return CreateResult{}, apperrors.Wrap(apperrors.CodeUnknown, "generate request id", err)
	}
	var supersede request.Channel
	if channel == request.ChannelCode {
		supersede = request.ChannelCode
	}

	var lastErr error
	for attempt := 0; attempt < maxSecretAttempts; attempt++ {
		now := s.now()
		req := request.ConnectionRequest{
			ID:             requestID,
			InitiatorID:    initiator.AccountID,
			InitiatorEmail: initiator.Email,
			InitiatorName:  initiator.Name(),
			Channel:        channel,
			TargetEmail:    target,
			Status:         request.StatusPending,
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.windows.forChannel(channel)),
		}
		var token string
		if channel.IssuesToken() {
			if token, req.TokenHash, err = s.secrets.NewToken(); err != nil {
				return CreateResult{}, apperrors.Wrap(apperrors.CodeUnknown, "generate token", err)
			}
		}
		if req.ShortCode, err = s.freshCode(ctx); err != nil {
			return CreateResult{}, err
		}

		superseded, err := s.store.InsertRequest(ctx, storage.InsertParams{
			Request: req,
			Audit: request.AuditEntry{
				Action:    request.ActionCreated,
				ActorID:   initiator.AccountID,
				CreatedAt: now,
				Metadata:  map[string]string{request.MetaChannel: string(channel)},
			},
			SupersedeChannel: supersede,
		})
		var pending *storage.PendingExistsError
		if errors.As(err, &pending) {
			return CreateResult{}, duplicatePending(pending.RequestID)
		}
		if errors.Is(err, storage.ErrDuplicate) {
			lastErr = err
			continue
		}
		if err != nil {
			return CreateResult{}, storageFault("insert request", err)
		}

		s.logger.Info("request created",
			zap.String("request_id", req.ID),
			zap.String("initiator_id", req.InitiatorID),
			zap.String("channel", string(channel)),
			zap.Strings("superseded", superseded),
		)
		return CreateResult{
			Request:    req,
			Token:      token,
			ShortCode:  req.ShortCode,
			InviteURL:  s.inviteLink(token),
			Superseded: superseded,
		}, nil
	}
	return CreateResult{}, storageFault("insert request", fmt.Errorf("no unique secret after %d attempts: %w", maxSecretAttempts, lastErr))
}

// freshCode returns a code that no pending request currently holds.
func (s *Service) freshCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxSecretAttempts; attempt++ {
		code, err := s.secrets.NewCode()
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeUnknown, "generate code", err)
		}
		_, err = s.store.FindPendingByCode(ctx, code)
		if errors.Is(err, storage.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", storageFault("check code", err)
		}
	}
	return "", storageFault("generate code", fmt.Errorf("no free code after %d attempts", maxSecretAttempts))
}
