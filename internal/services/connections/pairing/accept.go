package pairing

import (
	"context"
	"errors"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	apperrors "github.com/liaizen/coparent/internal/platform/errors"
	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

// AcceptResult describes a committed acceptance.
type AcceptResult struct {
	Request request.ConnectionRequest
	RoomID  string
	// RoomPending is set when the room could not be created yet; the repair
	// pass attaches it later.
	RoomPending bool
	// AlreadyAccepted is set when the same accepter replays a committed
	// acceptance.
	AlreadyAccepted bool
	// Mutual is set when the acceptance came from reciprocal invitations.
	Mutual bool
}

// Accept turns the pending request behind identifier into a pairing with
// accepter. Concurrent callers race on one conditional write; exactly one
// wins and only the winner creates the room and bootstraps the pair.
func (s *Service) Accept(ctx context.Context, identifier string, kind IdentifierKind, accepter identity.Identity) (AcceptResult, error) {
	ctx, span := s.tracer.Start(ctx, "pairing.Accept")
	defer span.End()

	result, err := s.accept(ctx, identifier, kind, accepter)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("pairing.error_code", string(apperrors.CodeOf(err))))
		return AcceptResult{}, err
	}
	span.SetAttributes(
		attribute.String("pairing.request_id", result.Request.ID),
		attribute.Bool("pairing.room_pending", result.RoomPending),
		attribute.Bool("pairing.replay", result.AlreadyAccepted),
	)
	return result, nil
}

func (s *Service) accept(ctx context.Context, identifier string, kind IdentifierKind, accepter identity.Identity) (AcceptResult, error) {
	if accepter.AccountID == "" {
		return AcceptResult{}, apperrors.New(apperrors.CodeActorRequired, "accepting account is required")
	}

	validation, err := s.lookup(ctx, identifier, kind)
	if err != nil {
		return AcceptResult{}, err
	}
	switch validation.Outcome {
	case OutcomeValid:
	case OutcomeExpired:
		if validation.NeedsExpiry {
			s.expireLazily(ctx, validation.req)
		}
		return AcceptResult{}, validation.Err()
	case OutcomeAlreadyResolved:
		if replay, ok := s.replay(ctx, validation.req, accepter); ok {
			return replay, nil
		}
		return AcceptResult{}, validation.Err()
	default:
		return AcceptResult{}, validation.Err()
	}

	req := validation.req
	if req.InitiatorID == accepter.AccountID {
		return AcceptResult{}, apperrors.New(apperrors.CodeSelfAccept, "initiator cannot accept own request")
	}
	if req.Channel == request.ChannelEmail && request.NormalizeEmail(accepter.Email) != req.TargetEmail {
		return AcceptResult{}, apperrors.New(apperrors.CodeRecipientMismatch, "invitation was addressed to another email")
	}
	if _, err := s.store.GetPairForAccount(ctx, accepter.AccountID); err == nil {
		return AcceptResult{}, apperrors.New(apperrors.CodeAlreadyConnected, "accepting account is already paired")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return AcceptResult{}, storageFault("check accepter pairing", err)
	}

	result, err := s.commitAcceptance(ctx, req, accepter, false)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, storage.ErrConflict):
		return s.afterLostRace(ctx, req, accepter)
	case errors.Is(err, storage.ErrPairExists):
		return AcceptResult{}, apperrors.New(apperrors.CodeAlreadyConnected, "one of the accounts is already paired")
	default:
		return AcceptResult{}, err
	}
}

// afterLostRace re-reads a request whose conditional write matched nothing.
func (s *Service) afterLostRace(ctx context.Context, req request.ConnectionRequest, accepter identity.Identity) (AcceptResult, error) {
	current, err := s.store.GetRequest(ctx, req.ID)
	if err != nil {
		return AcceptResult{}, storageFault("reload request", err)
	}
	if replay, ok := s.replay(ctx, current, accepter); ok {
		return replay, nil
	}
	if current.Status == request.StatusPending {
		// Still pending means the guard failed on expires_at.
		s.expireLazily(ctx, current)
		return AcceptResult{}, apperrors.New(apperrors.CodeRequestExpired, "request expired")
	}
	return AcceptResult{}, resolvedError(current.Status)
}

// replay returns the stored outcome when accepter already won this request.
func (s *Service) replay(ctx context.Context, req request.ConnectionRequest, accepter identity.Identity) (AcceptResult, bool) {
	if req.Status != request.StatusAccepted || req.CounterpartyID != accepter.AccountID {
		return AcceptResult{}, false
	}
	result := AcceptResult{Request: req, RoomID: req.RoomID, AlreadyAccepted: true}
	if req.RoomID == "" {
		roomID, err := s.materializeRoom(ctx, req, accepter.Name(), 1)
		if err != nil {
			result.RoomPending = true
			return result, true
		}
		result.RoomID = roomID
		result.Request.RoomID = roomID
	}
	return result, true
}

// commitAcceptance runs the conditional write and, for the winner only,
// room creation and bootstrap. Storage sentinels are returned unwrapped so
// callers can tell a lost race from a pair conflict.
func (s *Service) commitAcceptance(ctx context.Context, req request.ConnectionRequest, accepter identity.Identity, mutual bool) (AcceptResult, error) {
	now := s.now()
	accepted, err := s.store.CASUpdateStatus(ctx, storage.Transition{
		RequestID:      req.ID,
		To:             request.StatusAccepted,
		CounterpartyID: accepter.AccountID,
		At:             now,
		RequireLive:    true,
		Audit: request.AuditEntry{
			Action:    request.ActionAccepted,
			ActorID:   accepter.AccountID,
			CreatedAt: now,
			Metadata: map[string]string{
				request.MetaChannel:        string(req.Channel),
				request.MetaMutual:         strconv.FormatBool(mutual),
				request.MetaCounterpartyID: accepter.AccountID,
			},
		},
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrPairExists) {
			return AcceptResult{}, err
		}
		return AcceptResult{}, storageFault("accept request", err)
	}
	s.logger.Info("request accepted",
		zap.String("request_id", accepted.ID),
		zap.String("initiator_id", accepted.InitiatorID),
		zap.String("counterparty_id", accepted.CounterpartyID),
		zap.Bool("mutual", mutual),
	)

	result := AcceptResult{Request: accepted, Mutual: mutual}
	roomID, err := s.materializeRoom(ctx, accepted, accepter.Name(), s.retry.MaxTries)
	if err != nil {
		result.RoomPending = true
	} else {
		result.RoomID = roomID
		result.Request.RoomID = roomID
	}
	s.bootstrap(ctx, result.Request, accepter)
	return result, nil
}

func (s *Service) expireLazily(ctx context.Context, req request.ConnectionRequest) {
	now := s.now()
	_, err := s.store.CASUpdateStatus(ctx, storage.Transition{
		RequestID: req.ID,
		To:        request.StatusExpired,
		At:        now,
		Audit: request.AuditEntry{
			Action:    request.ActionExpired,
			ActorID:   request.ActorSystem,
			CreatedAt: now,
			Metadata:  map[string]string{request.MetaReason: "expired on read"},
		},
	})
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		s.logger.Warn("lazy expiry failed", zap.String("request_id", req.ID), zap.Error(err))
	}
}
