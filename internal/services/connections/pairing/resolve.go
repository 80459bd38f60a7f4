package pairing

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/liaizen/coparent/internal/platform/errors"
	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

// Proof is the secret a recipient presents to decline a link or code
// request. Email invitations are matched on the recipient's address instead.
type Proof struct {
	Identifier string
	Kind       IdentifierKind
}

// Decline rejects a pending request on behalf of its recipient. Callers who
// cannot show they received the request get not-found.
func (s *Service) Decline(ctx context.Context, requestID string, proof Proof, decliner identity.Identity) (request.ConnectionRequest, error) {
	if decliner.AccountID == "" {
		return request.ConnectionRequest{}, apperrors.New(apperrors.CodeActorRequired, "declining account is required")
	}
	req, err := s.requestByID(ctx, requestID)
	if err != nil {
		return request.ConnectionRequest{}, err
	}
	if req.InitiatorID == decliner.AccountID {
		return request.ConnectionRequest{}, apperrors.New(apperrors.CodeSelfDecline, "initiator cannot decline own request")
	}
	if req.Channel == request.ChannelEmail {
		if request.NormalizeEmail(decliner.Email) != req.TargetEmail {
			return request.ConnectionRequest{}, apperrors.New(apperrors.CodeRecipientMismatch, "invitation was addressed to another email")
		}
	} else if err := s.checkProof(req, proof); err != nil {
		return request.ConnectionRequest{}, err
	}
	if err := s.requireLive(ctx, req); err != nil {
		return request.ConnectionRequest{}, err
	}

	now := s.now()
	declined, err := s.store.CASUpdateStatus(ctx, storage.Transition{
		RequestID:   req.ID,
		To:          request.StatusDeclined,
		At:          now,
		RequireLive: true,
		Audit: request.AuditEntry{
			Action:    request.ActionDeclined,
			ActorID:   decliner.AccountID,
			CreatedAt: now,
			Metadata:  map[string]string{request.MetaChannel: string(req.Channel)},
		},
	})
	if err != nil {
		return request.ConnectionRequest{}, s.transitionError(ctx, req.ID, err)
	}
	s.logger.Info("request declined", zap.String("request_id", req.ID), zap.String("decliner_id", decliner.AccountID))

	if s.notifier != nil {
		if err := s.notifier.NotifyDeclined(ctx, declined.InitiatorID); err != nil {
			s.logger.Warn("notify declined", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
	return declined, nil
}

// Cancel withdraws a pending request on behalf of its initiator.
func (s *Service) Cancel(ctx context.Context, requestID string, actorID string) (request.ConnectionRequest, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return request.ConnectionRequest{}, apperrors.New(apperrors.CodeActorRequired, "canceling account is required")
	}
	req, err := s.ownedRequest(ctx, requestID, actorID)
	if err != nil {
		return request.ConnectionRequest{}, err
	}
	if req.Status != request.StatusPending {
		return request.ConnectionRequest{}, resolvedError(req.Status)
	}

	now := s.now()
	canceled, err := s.store.CASUpdateStatus(ctx, storage.Transition{
		RequestID:   req.ID,
		To:          request.StatusCanceled,
		At:          now,
		InitiatorID: actorID,
		Audit: request.AuditEntry{
			Action:    request.ActionCanceled,
			ActorID:   actorID,
			CreatedAt: now,
		},
	})
	if err != nil {
		return request.ConnectionRequest{}, s.transitionError(ctx, req.ID, err)
	}
	s.logger.Info("request canceled", zap.String("request_id", req.ID))
	return canceled, nil
}

func (s *Service) requestByID(ctx context.Context, requestID string) (request.ConnectionRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return request.ConnectionRequest{}, apperrors.New(apperrors.CodeRequestIDRequired, "request id is required")
	}
	req, err := s.store.GetRequest(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return request.ConnectionRequest{}, apperrors.New(apperrors.CodeRequestNotFound, "request not found")
	}
	if err != nil {
		return request.ConnectionRequest{}, storageFault("get request", err)
	}
	return req, nil
}

// requireLive fails unless req is pending and inside its window.
func (s *Service) requireLive(ctx context.Context, req request.ConnectionRequest) error {
	if req.Status != request.StatusPending {
		return resolvedError(req.Status)
	}
	if req.ExpiredAt(s.now()) {
		s.expireLazily(ctx, req)
		return apperrors.New(apperrors.CodeRequestExpired, "request expired")
	}
	return nil
}

// checkProof matches a presented token or code against the request.
func (s *Service) checkProof(req request.ConnectionRequest, proof Proof) error {
	identifier := strings.TrimSpace(proof.Identifier)
	if identifier == "" {
		return apperrors.New(apperrors.CodeIdentifierRequired, "token or code is required to decline this request")
	}
	var match bool
	switch proof.Kind {
	case KindToken:
		hash := s.secrets.HashToken(identifier)
		match = req.TokenHash != "" && subtle.ConstantTimeCompare([]byte(hash), []byte(req.TokenHash)) == 1
	case KindCode:
		match = req.ShortCode != "" && normalizeCode(identifier) == req.ShortCode
	default:
		return apperrors.New(apperrors.CodeIdentifierKind, "identifier kind must be token or code")
	}
	if !match {
		return apperrors.New(apperrors.CodeRequestNotFound, "request not found")
	}
	return nil
}

// ownedRequest loads a request the actor initiated. Other accounts get
// not-found so request ids do not leak.
func (s *Service) ownedRequest(ctx context.Context, requestID, actorID string) (request.ConnectionRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return request.ConnectionRequest{}, apperrors.New(apperrors.CodeRequestIDRequired, "request id is required")
	}
	req, err := s.store.GetRequest(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && req.InitiatorID != actorID) {
		return request.ConnectionRequest{}, apperrors.New(apperrors.CodeRequestNotFound, "request not found")
	}
	if err != nil {
		return request.ConnectionRequest{}, storageFault("get request", err)
	}
	return req, nil
}

// transitionError maps a failed conditional write after re-reading the row.
func (s *Service) transitionError(ctx context.Context, requestID string, err error) error {
	if !errors.Is(err, storage.ErrConflict) {
		return storageFault("update request", err)
	}
	current, getErr := s.store.GetRequest(ctx, requestID)
	if getErr != nil {
		return storageFault("reload request", getErr)
	}
	if current.Status == request.StatusPending {
		s.expireLazily(ctx, current)
		return apperrors.New(apperrors.CodeRequestExpired, "request expired")
	}
	return resolvedError(current.Status)
}
